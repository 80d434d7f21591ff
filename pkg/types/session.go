package types

import "github.com/google/uuid"

// SessionID uniquely identifies a player session.
type SessionID string

// NewSessionID generates a fresh, random session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}
