// Package transport adapts github.com/gorilla/websocket into a thin
// bridge that forwards a session's state-change and analytics streams
// to a connected host process as JSON frames, one per WebSocket
// message. It is how a browser runtime or a desktop shell embeds the
// library without linking Go directly.
package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ExpertVagabond/kino/pkg/analytics"
	"github.com/ExpertVagabond/kino/pkg/logger"
	"github.com/ExpertVagabond/kino/pkg/session"
	"github.com/ExpertVagabond/kino/pkg/types"
)

// FrameKind identifies which of a session's streams a Frame carries.
type FrameKind string

const (
	FrameState     FrameKind = "state"
	FrameAnalytics FrameKind = "analytics"
)

// Frame is the wire shape written to the host connection, one JSON
// object per WebSocket text message.
type Frame struct {
	Type FrameKind   `json:"type"`
	Data interface{} `json:"data"`
}

// BridgeConfig controls the WebSocket upgrade and keepalive behavior.
type BridgeConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
}

// DefaultBridgeConfig returns sane keepalive defaults.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Bridge upgrades incoming HTTP connections and streams one session's
// state-change and analytics events to each connected host for the
// lifetime of the connection.
type Bridge struct {
	upgrader websocket.Upgrader
	config   BridgeConfig
	log      logger.Logger
}

// NewBridge builds a Bridge from the given keepalive configuration.
func NewBridge(config BridgeConfig, log logger.Logger) *Bridge {
	return &Bridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		log:    log,
	}
}

// Serve upgrades the request to a WebSocket connection and forwards
// sess's state transitions (always) and emitter's analytics records (if
// emitter is non-nil) to it until the connection closes or r's context
// is done. It blocks for the lifetime of the connection; callers
// typically run it from an http.Handler, one goroutine per connection.
func (b *Bridge) Serve(w http.ResponseWriter, r *http.Request, sess *session.Session, emitter *analytics.Emitter) error {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stateCh := sess.SubscribeState()
	var analyticsCh <-chan analytics.EventRecord
	if emitter != nil {
		analyticsCh = emitter.Subscribe()
	}

	closed := make(chan struct{})
	var closeOnce sync.Once
	stop := func() { closeOnce.Do(func() { close(closed) }) }

	// Drain inbound frames on a background goroutine purely to notice
	// the peer going away; the bridge is a one-way telemetry feed and
	// does not accept commands from the host.
	go func() {
		defer stop()
		conn.SetReadLimit(4096)
		conn.SetReadDeadline(time.Now().Add(b.config.PongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(b.config.PongTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(b.config.PingInterval)
	defer ticker.Stop()

	var writeMu sync.Mutex
	writeFrame := func(frame Frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
		return conn.WriteJSON(frame)
	}

	for {
		select {
		case <-closed:
			return nil
		case <-r.Context().Done():
			return r.Context().Err()
		case state, ok := <-stateCh:
			if !ok {
				return nil
			}
			if err := writeFrame(Frame{Type: FrameState, Data: stateFramePayload(state)}); err != nil {
				b.log.Warn("transport: failed writing state frame", logger.Field{Key: "error", Value: err})
				return err
			}
		case record, ok := <-analyticsCh:
			if !ok {
				analyticsCh = nil
				continue
			}
			if err := writeFrame(Frame{Type: FrameAnalytics, Data: record}); err != nil {
				b.log.Warn("transport: failed writing analytics frame", logger.Field{Key: "error", Value: err})
				return err
			}
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return err
			}
		}
	}
}

func stateFramePayload(state types.PlayerState) map[string]string {
	return map[string]string{"state": state.String()}
}

// EncodeFrame marshals a Frame to JSON, exposed for hosts that read
// frames from a pipe or file rather than a live WebSocket connection
// (e.g. a recorded session played back through a desktop shell's IPC
// channel).
func EncodeFrame(frame Frame) ([]byte, error) {
	return json.Marshal(frame)
}
