package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExpertVagabond/kino/pkg/analytics"
	"github.com/ExpertVagabond/kino/pkg/logger"
	"github.com/ExpertVagabond/kino/pkg/manifest"
	"github.com/ExpertVagabond/kino/pkg/session"
	"github.com/ExpertVagabond/kino/pkg/types"
)

func testLogger() logger.Logger {
	return logger.NewDefaultLogger(logger.ErrorLevel, "json")
}

type nopParser struct{}

func (nopParser) Parse(ctx context.Context, manifestURL *url.URL) (*manifest.Manifest, error) {
	return nil, nil
}
func (nopParser) ParseVariant(ctx context.Context, variantURL *url.URL) ([]types.Segment, error) {
	return nil, nil
}
func (nopParser) GetLatestSegments(ctx context.Context, variantURL *url.URL, lastSequence uint64) ([]types.Segment, error) {
	return nil, nil
}

func newTestBridgeServer(t *testing.T, emitter *analytics.Emitter) (*httptest.Server, *session.Session) {
	cfg := types.DefaultPlayerConfig()
	cfg.AnalyticsEnabled = false
	parserFor := func(manifest.Kind) manifest.Parser { return nopParser{} }
	sess := session.New(cfg, parserFor, testLogger())

	bridge := NewBridge(DefaultBridgeConfig(), testLogger())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = bridge.Serve(w, r, sess, emitter)
	}))
	t.Cleanup(server.Close)

	return server, sess
}

func dialBridge(t *testing.T, server *httptest.Server) *gorillaws.Conn {
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBridgeForwardsStateTransitions(t *testing.T) {
	server, sess := newTestBridgeServer(t, nil)
	conn := dialBridge(t, server)

	// Give the server goroutine a moment to subscribe before the
	// session transitions, since SubscribeState only reports changes
	// that happen after the subscription is registered.
	time.Sleep(20 * time.Millisecond)

	go sess.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, FrameState, frame.Type)
}

func TestBridgeForwardsAnalyticsRecords(t *testing.T) {
	emitter := analytics.NewEmitter(types.SessionID("sess-1"), testLogger())
	t.Cleanup(emitter.Close)

	server, _ := newTestBridgeServer(t, emitter)
	conn := dialBridge(t, server)

	time.Sleep(20 * time.Millisecond)

	emitter.Emit(analytics.PlayEvent{Position: 1.5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, FrameAnalytics, frame.Type)
}

func TestEncodeFrameRoundTripsThroughJSON(t *testing.T) {
	data, err := EncodeFrame(Frame{Type: FrameState, Data: map[string]string{"state": "idle"}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"state"`)
}

func TestBridgeClosesWhenClientDisconnects(t *testing.T) {
	server, sess := newTestBridgeServer(t, nil)
	conn := dialBridge(t, server)

	conn.Close()
	time.Sleep(20 * time.Millisecond)

	// The session itself is unaffected by a disconnected bridge; it
	// keeps accepting state transitions independent of any listener.
	sess.Stop()
	assert.Equal(t, types.StateIdle, sess.State())
}
