// Package drm shapes license acquisition requests for Widevine,
// FairPlay, PlayReady, and ClearKey without performing any CDM
// decryption itself — that stays inside the host's platform DRM stack.
package drm

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/ExpertVagabond/kino/pkg/errors"
	"github.com/ExpertVagabond/kino/pkg/types"
)

// PsshBox is a Protection System Specific Header extracted from a
// manifest or init segment.
type PsshBox struct {
	SystemID string
	KeyIDs   []string
	Data     []byte
}

// DrmSystem resolves the PSSH's system id to a known DRM system.
func (p PsshBox) DrmSystem() (types.DrmSystem, bool) {
	return types.DrmSystemFromID(p.SystemID)
}

// Config is the DRM configuration for a piece of content.
type Config struct {
	WidevineLicenseURL    *url.URL
	PlayReadyLicenseURL   *url.URL
	FairPlayCertificateURL *url.URL
	FairPlayLicenseURL    *url.URL
	FairPlayContentID     *string

	LicenseHeaders map[string]string
	ClearKeyKeys   map[string]string

	PersistLicense  bool
	LicenseDuration time.Duration
}

// NewConfig returns an empty, unconfigured Config.
func NewConfig() Config {
	return Config{
		LicenseHeaders: make(map[string]string),
		ClearKeyKeys:   make(map[string]string),
	}
}

// Widevine returns a Config configured for Widevine only.
func Widevine(licenseURL *url.URL) Config {
	c := NewConfig()
	c.WidevineLicenseURL = licenseURL
	return c
}

// FairPlay returns a Config configured for FairPlay only.
func FairPlay(licenseURL, certificateURL *url.URL) Config {
	c := NewConfig()
	c.FairPlayLicenseURL = licenseURL
	c.FairPlayCertificateURL = certificateURL
	return c
}

// ClearKey returns a Config configured with local clear keys.
func ClearKey(keys map[string]string) Config {
	c := NewConfig()
	c.ClearKeyKeys = keys
	return c
}

// ClearKeyFromPassphrase derives one 16-byte content key per key id from
// a single master passphrase via HKDF-SHA256, keyed on the key id so a
// host can hand out key ids without ever transmitting or storing the
// raw per-key secrets — only the passphrase needs to stay confidential.
func ClearKeyFromPassphrase(passphrase string, keyIDs []string) (Config, error) {
	keys := make(map[string]string, len(keyIDs))
	for _, kid := range keyIDs {
		key, err := deriveClearKey(passphrase, kid)
		if err != nil {
			return Config{}, err
		}
		keys[kid] = hex.EncodeToString(key)
	}
	return ClearKey(keys), nil
}

func deriveClearKey(passphrase, keyID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("kino-clearkey:"+keyID))
	key := make([]byte, 16)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, errors.NewInternalError("failed to derive clear key: " + err.Error())
	}
	return key, nil
}

// WithHeader adds a header sent with every license request.
func (c Config) WithHeader(key, value string) Config {
	c.LicenseHeaders[key] = value
	return c
}

// IsConfigured reports whether any DRM system has been configured.
func (c Config) IsConfigured() bool {
	return c.WidevineLicenseURL != nil ||
		c.PlayReadyLicenseURL != nil ||
		c.FairPlayLicenseURL != nil ||
		len(c.ClearKeyKeys) > 0
}

// SupportedSystems lists every DRM system this config can service.
func (c Config) SupportedSystems() []types.DrmSystem {
	var systems []types.DrmSystem
	if c.WidevineLicenseURL != nil {
		systems = append(systems, types.DrmWidevine)
	}
	if c.PlayReadyLicenseURL != nil {
		systems = append(systems, types.DrmPlayReady)
	}
	if c.FairPlayLicenseURL != nil {
		systems = append(systems, types.DrmFairPlay)
	}
	if len(c.ClearKeyKeys) > 0 {
		systems = append(systems, types.DrmClearKey)
	}
	return systems
}

// LicenseRequest is an outbound challenge for a license server.
type LicenseRequest struct {
	System     types.DrmSystem
	Challenge  []byte
	LicenseURL *url.URL
	Headers    map[string]string
}

// LicenseResponse is the decoded license payload returned by a server
// (or synthesized locally for ClearKey).
type LicenseResponse struct {
	System     types.DrmSystem
	License    []byte
	Expiration time.Time // zero value means no expiration
}

// Session tracks one DRM session's acquisition state.
type Session struct {
	ID         string
	System     types.DrmSystem
	State      types.DrmSessionState
	KeyIDs     []string
	Expiration time.Time
	Err        string
}

func newSession(system types.DrmSystem) *Session {
	return &Session{
		ID:     uuid.NewString(),
		System: system,
		State:  types.DrmIdle,
	}
}

// IsReady reports whether the session holds a usable license.
func (s *Session) IsReady() bool { return s.State == types.DrmReady }

// IsExpired reports whether the session's license has lapsed.
func (s *Session) IsExpired() bool {
	if s.Expiration.IsZero() {
		return false
	}
	return !time.Now().Before(s.Expiration)
}

// Manager handles PSSH lookup, license request shaping, and session
// bookkeeping across DRM systems.
type Manager struct {
	mu sync.Mutex

	config   Config
	sessions map[string]*Session
	pssh     []PsshBox
}

// NewManager creates a DRM manager for the given configuration.
func NewManager(config Config) *Manager {
	return &Manager{
		config:   config,
		sessions: make(map[string]*Session),
	}
}

// SetPsshBoxes records the PSSH boxes discovered in the manifest or init
// segment, replacing any previously recorded set.
func (m *Manager) SetPsshBoxes(boxes []PsshBox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pssh = boxes
}

// GetPssh returns the PSSH box for the given DRM system, if any.
func (m *Manager) GetPssh(system types.DrmSystem) (PsshBox, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := strings.ToLower(system.SystemID())
	for _, p := range m.pssh {
		if strings.ToLower(p.SystemID) == target {
			return p, true
		}
	}
	return PsshBox{}, false
}

// CreateWidevineRequest shapes a Widevine license request around a CDM-
// generated challenge.
func (m *Manager) CreateWidevineRequest(challenge []byte) (LicenseRequest, error) {
	if m.config.WidevineLicenseURL == nil {
		return LicenseRequest{}, errors.NewDrmNotSupportedError("widevine")
	}
	return LicenseRequest{
		System:     types.DrmWidevine,
		Challenge:  challenge,
		LicenseURL: m.config.WidevineLicenseURL,
		Headers:    m.config.LicenseHeaders,
	}, nil
}

// CreateFairPlayRequest shapes a FairPlay license request around an SPC
// (server playback context) blob.
func (m *Manager) CreateFairPlayRequest(spc []byte) (LicenseRequest, error) {
	if m.config.FairPlayLicenseURL == nil {
		return LicenseRequest{}, errors.NewDrmNotSupportedError("fairplay")
	}
	return LicenseRequest{
		System:     types.DrmFairPlay,
		Challenge:  spc,
		LicenseURL: m.config.FairPlayLicenseURL,
		Headers:    m.config.LicenseHeaders,
	}, nil
}

type clearKeyJWK struct {
	KeyType string `json:"kty"`
	KeyID   string `json:"kid"`
	Key     string `json:"k"`
}

type clearKeyLicense struct {
	Keys []clearKeyJWK `json:"keys"`
	Type string        `json:"type"`
}

// GetClearKeyLicense builds a W3C ClearKey license JSON body locally; no
// license server round trip is needed.
func (m *Manager) GetClearKeyLicense() (LicenseResponse, error) {
	if len(m.config.ClearKeyKeys) == 0 {
		return LicenseResponse{}, errors.NewContentKeyNotFoundError()
	}

	keys := make([]clearKeyJWK, 0, len(m.config.ClearKeyKeys))
	for kid, key := range m.config.ClearKeyKeys {
		keys = append(keys, clearKeyJWK{KeyType: "oct", KeyID: kid, Key: key})
	}

	body, err := json.Marshal(clearKeyLicense{Keys: keys, Type: "temporary"})
	if err != nil {
		return LicenseResponse{}, errors.NewInternalError("failed to encode ClearKey license")
	}

	return LicenseResponse{System: types.DrmClearKey, License: body}, nil
}

// CreateSession starts a new session for the given DRM system.
func (m *Manager) CreateSession(system types.DrmSystem) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := newSession(system)
	m.sessions[session.ID] = session
	return session
}

// ProcessLicense applies a license response to an existing session,
// transitioning it to Ready.
func (m *Manager) ProcessLicense(sessionID string, response LicenseResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return errors.NewInternalError("drm session not found: " + sessionID)
	}
	session.State = types.DrmReady
	session.Expiration = response.Expiration
	return nil
}

// GetSession returns the session for the given id, if still open.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// CloseSession discards one session's state.
func (m *Manager) CloseSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// CloseAllSessions discards every open session.
func (m *Manager) CloseAllSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
}

// IsDrmRequired reports whether the manifest carried any PSSH boxes.
func (m *Manager) IsDrmRequired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pssh) > 0
}

// SelectDrmSystem picks the best configured system that also has a
// matching PSSH box, falling back to ClearKey (which needs none).
func (m *Manager) SelectDrmSystem() (types.DrmSystem, bool) {
	supported := m.config.SupportedSystems()
	for _, system := range []types.DrmSystem{types.DrmWidevine, types.DrmFairPlay, types.DrmPlayReady, types.DrmClearKey} {
		if !contains(supported, system) {
			continue
		}
		if _, ok := m.GetPssh(system); ok {
			return system, true
		}
	}
	if len(m.config.ClearKeyKeys) > 0 {
		return types.DrmClearKey, true
	}
	return "", false
}

func contains(systems []types.DrmSystem, target types.DrmSystem) bool {
	for _, s := range systems {
		if s == target {
			return true
		}
	}
	return false
}

// EncodePssh base64-encodes raw PSSH data for wire transport.
func EncodePssh(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePssh reverses EncodePssh.
func DecodePssh(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.NewInvalidManifestError("invalid PSSH base64 data")
	}
	return data, nil
}
