package session

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExpertVagabond/kino/pkg/analytics"
	"github.com/ExpertVagabond/kino/pkg/logger"
	"github.com/ExpertVagabond/kino/pkg/manifest"
	"github.com/ExpertVagabond/kino/pkg/types"
)

func testLogger() logger.Logger {
	return logger.NewDefaultLogger(logger.ErrorLevel, "json")
}

type fakeParser struct {
	doc *manifest.Manifest
	err error
}

func (f fakeParser) Parse(context.Context, *url.URL) (*manifest.Manifest, error) {
	return f.doc, f.err
}

func (f fakeParser) ParseVariant(context.Context, *url.URL) ([]types.Segment, error) {
	return nil, nil
}

func (f fakeParser) GetLatestSegments(context.Context, *url.URL, uint64) ([]types.Segment, error) {
	return nil, nil
}

func renditions() []types.Rendition {
	return []types.Rendition{
		{ID: "low", Bandwidth: 800_000, URI: "low.m3u8"},
		{ID: "high", Bandwidth: 5_000_000, URI: "high.m3u8"},
	}
}

func newTestSession(t *testing.T, doc *manifest.Manifest) *Session {
	t.Helper()
	cfg := types.DefaultPlayerConfig()
	cfg.AnalyticsEnabled = false
	parser := fakeParser{doc: doc}
	s := New(cfg, func(manifest.Kind) manifest.Parser { return parser }, testLogger())
	t.Cleanup(func() {
		if s.analytics != nil {
			s.analytics.Close()
		}
	})
	return s
}

func vodManifest() *manifest.Manifest {
	d := 60 * time.Second
	return &manifest.Manifest{
		Kind:       manifest.KindHLS,
		Renditions: renditions(),
		IsLive:     false,
		Duration:   &d,
	}
}

func TestSessionCreationStartsIdleAtZeroPosition(t *testing.T) {
	s := newTestSession(t, vodManifest())
	assert.Equal(t, types.StateIdle, s.State())
	assert.Equal(t, 0.0, s.Position())
	assert.Nil(t, s.CurrentRendition())
}

func TestStateTransitionsValidAndInvalid(t *testing.T) {
	s := newTestSession(t, vodManifest())

	require.NoError(t, s.setState(types.StateLoading))
	assert.Equal(t, types.StateLoading, s.State())

	require.NoError(t, s.setState(types.StateBuffering))
	assert.Equal(t, types.StateBuffering, s.State())

	// Buffering -> Ended is not a valid direct transition.
	err := s.setState(types.StateEnded)
	assert.Error(t, err)
	assert.Equal(t, types.StateBuffering, s.State())
}

func TestLoadSelectsInitialRenditionAndMovesToBuffering(t *testing.T) {
	s := newTestSession(t, vodManifest())
	u, err := url.Parse("https://example.com/master.m3u8")
	require.NoError(t, err)

	require.NoError(t, s.Load(context.Background(), u))

	assert.Equal(t, types.StateBuffering, s.State())
	require.NotNil(t, s.CurrentRendition())
	// BOLA (the default algorithm) starts at the lowest rendition until
	// the buffer clears its minimum occupancy threshold.
	assert.Equal(t, "low", s.CurrentRendition().ID)
	require.NotNil(t, s.Duration())
	assert.InDelta(t, 60.0, *s.Duration(), 0.01)
}

func TestPlayNoopFromIdleEmitsNothing(t *testing.T) {
	s := newTestSession(t, vodManifest())
	s.analytics = analytics.NewEmitter(s.id, testLogger())
	defer s.analytics.Close()

	require.NoError(t, s.Play())
	assert.Equal(t, types.StateIdle, s.State())
	assert.Empty(t, s.analytics.Events())
}

func TestPlayFromBufferingRequiresHealthyStartupBuffer(t *testing.T) {
	s := newTestSession(t, vodManifest())
	s.analytics = analytics.NewEmitter(s.id, testLogger())
	defer s.analytics.Close()

	require.NoError(t, s.setState(types.StateLoading))
	require.NoError(t, s.setState(types.StateBuffering))

	// No segments buffered yet: CanStartPlayback is false, Play is a
	// silent no-op and stays in Buffering.
	require.NoError(t, s.Play())
	assert.Equal(t, types.StateBuffering, s.State())
	assert.Empty(t, s.analytics.Events())

	// Buffer enough segment time to clear MinBufferTime (10s default).
	s.buf.AddSegment(types.Segment{Number: 0, Duration: 12 * time.Second, URI: "seg0.ts"}, []byte("data"))

	require.NoError(t, s.Play())
	assert.Equal(t, types.StatePlaying, s.State())

	events := s.analytics.Events()
	require.NotEmpty(t, events)
	_, ok := events[len(events)-1].Event.(analytics.PlayEvent)
	assert.True(t, ok)
}

func TestPauseOnlyActsWhilePlaying(t *testing.T) {
	s := newTestSession(t, vodManifest())
	require.NoError(t, s.Pause())
	assert.Equal(t, types.StateIdle, s.State())

	require.NoError(t, s.setState(types.StateLoading))
	require.NoError(t, s.setState(types.StateBuffering))
	s.buf.AddSegment(types.Segment{Number: 0, Duration: 12 * time.Second, URI: "seg0.ts"}, []byte("data"))
	require.NoError(t, s.Play())

	require.NoError(t, s.Pause())
	assert.Equal(t, types.StatePaused, s.State())
}

func TestSeekCapturesFromBeforeMutatingPosition(t *testing.T) {
	s := newTestSession(t, vodManifest())
	s.analytics = analytics.NewEmitter(s.id, testLogger())
	defer s.analytics.Close()

	require.NoError(t, s.setState(types.StateLoading))
	require.NoError(t, s.setState(types.StateBuffering))
	s.buf.AddSegment(types.Segment{Number: 0, Duration: 12 * time.Second, URI: "seg0.ts"}, []byte("data"))
	require.NoError(t, s.Play())

	s.mu.Lock()
	s.position = 10.0
	s.mu.Unlock()

	require.NoError(t, s.Seek(context.Background(), 30.0))

	// 30s is not buffered, so the Seek event is followed by the
	// Seeking -> Buffering StateChange.
	events := s.analytics.Events()
	require.NotEmpty(t, events)
	seekEvt, ok := events[len(events)-2].Event.(analytics.SeekEvent)
	require.True(t, ok)
	assert.Equal(t, 10.0, seekEvt.From)
	assert.Equal(t, 30.0, seekEvt.To)
	assert.Equal(t, 30.0, s.Position())
}

func TestSeekClampsToDuration(t *testing.T) {
	s := newTestSession(t, vodManifest())
	require.NoError(t, s.setState(types.StateLoading))
	require.NoError(t, s.setState(types.StateBuffering))
	s.buf.AddSegment(types.Segment{Number: 0, Duration: 12 * time.Second, URI: "seg0.ts"}, []byte("data"))
	require.NoError(t, s.Play())

	require.NoError(t, s.Seek(context.Background(), 999.0))
	assert.InDelta(t, 60.0, s.Position(), 0.01)
}

func TestStopForcesIdleFromAnyState(t *testing.T) {
	s := newTestSession(t, vodManifest())
	require.NoError(t, s.setState(types.StateLoading))
	require.NoError(t, s.setState(types.StateBuffering))
	require.NoError(t, s.setState(types.StateError))

	s.Stop()
	assert.Equal(t, types.StateIdle, s.State())
	assert.Equal(t, 0.0, s.Position())
	assert.Nil(t, s.CurrentRendition())
}

func TestStopTwiceIsANoOp(t *testing.T) {
	s := newTestSession(t, vodManifest())
	require.NoError(t, s.setState(types.StateLoading))
	require.NoError(t, s.setState(types.StateBuffering))
	s.analytics = analytics.NewEmitter(s.ID(), testLogger())

	s.Stop()
	assert.Equal(t, types.StateIdle, s.State())
	require.Len(t, s.analytics.Events(), 1)

	s.Stop()
	assert.Equal(t, types.StateIdle, s.State())
	assert.Len(t, s.analytics.Events(), 1, "second Stop() must not emit another EndEvent")
}

func TestUpdatePositionEndsNearDuration(t *testing.T) {
	s := newTestSession(t, vodManifest())
	require.NoError(t, s.setState(types.StateLoading))
	require.NoError(t, s.setState(types.StateBuffering))
	s.buf.AddSegment(types.Segment{Number: 0, Duration: 12 * time.Second, URI: "seg0.ts"}, []byte("data"))
	require.NoError(t, s.Play())

	s.UpdatePosition(59.8)
	assert.Equal(t, types.StateEnded, s.State())
}

func TestUpdatePositionTriggersRebufferAndClosingRecordsQoE(t *testing.T) {
	s := newTestSession(t, vodManifest())
	require.NoError(t, s.setState(types.StateLoading))
	require.NoError(t, s.setState(types.StateBuffering))
	s.buf.AddSegment(types.Segment{Number: 0, Duration: 12 * time.Second, URI: "seg0.ts"}, []byte("data"))
	require.NoError(t, s.Play())

	// Advance past the buffered segment so the buffer runs dry.
	s.UpdatePosition(11.9)
	assert.Equal(t, types.StateBuffering, s.State())
	require.NotNil(t, s.rebufferStart)

	time.Sleep(5 * time.Millisecond)
	s.buf.AddSegment(types.Segment{Number: 1, Duration: 12 * time.Second, URI: "seg1.ts"}, []byte("data"))
	require.NoError(t, s.Play())

	assert.Equal(t, types.StatePlaying, s.State())
	assert.Nil(t, s.rebufferStart)

	breakdown := s.QoE()
	assert.Equal(t, uint32(1), breakdown.RebufferCount)
	assert.Greater(t, breakdown.RebufferDuration, 0.0)
}

func TestReselectRenditionEmitsOnlyOnChange(t *testing.T) {
	s := newTestSession(t, vodManifest())
	s.analytics = analytics.NewEmitter(s.id, testLogger())
	defer s.analytics.Close()

	u, err := url.Parse("https://example.com/master.m3u8")
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background(), u))
	s.analytics.Clear()

	picked := s.ReselectRendition()
	require.NotNil(t, picked)
	assert.Equal(t, s.CurrentRendition().ID, picked.ID)
	// Same pick as before (no bandwidth change): no new QualityChange event.
	assert.Empty(t, s.analytics.Events())
}

func TestSetNetworkInfoScreenWidthFiltersRendition(t *testing.T) {
	doc := &manifest.Manifest{
		Kind:   manifest.KindHLS,
		IsLive: false,
		Renditions: []types.Rendition{
			{ID: "sd", Bandwidth: 800_000, URI: "sd.m3u8", Resolution: &types.Resolution{Width: 640, Height: 360}},
			{ID: "hd", Bandwidth: 5_000_000, URI: "hd.m3u8", Resolution: &types.Resolution{Width: 1920, Height: 1080}},
		},
	}
	cfg := types.DefaultPlayerConfig()
	cfg.AnalyticsEnabled = false
	cfg.AbrAlgorithm = types.AbrThroughput
	parser := fakeParser{doc: doc}
	s := New(cfg, func(manifest.Kind) manifest.Parser { return parser }, testLogger())

	// Bandwidth is plenty for the HD rendition; with no screen-width hint
	// set, ThroughputRule picks it on bandwidth alone.
	s.abr.RecordMeasurement(10_000_000/8, time.Second)
	ctx := s.buildAbrContext(false)
	picked := s.abr.SelectRendition(doc.Renditions, ctx)
	require.NotNil(t, picked)
	assert.Equal(t, "hd", picked.ID)

	// A narrow screen-width hint must filter the HD rendition out, even
	// though bandwidth alone would still afford it.
	width := uint32(800)
	s.SetNetworkInfo(types.NetworkInfo{ScreenWidth: &width})
	ctx = s.buildAbrContext(false)
	require.NotNil(t, ctx.ScreenWidth)
	assert.Equal(t, width, *ctx.ScreenWidth)

	picked = s.abr.SelectRendition(doc.Renditions, ctx)
	require.NotNil(t, picked)
	assert.Equal(t, "sd", picked.ID)
}

func TestSetNetworkInfoBandwidthOverridesEngineEstimate(t *testing.T) {
	s := newTestSession(t, vodManifest())

	// Engine has recorded a high-bandwidth measurement...
	s.abr.RecordMeasurement(10_000_000/8, time.Second)

	// ...but the host's own network signal reports much less; the
	// override must win.
	override := uint64(100_000)
	s.SetNetworkInfo(types.NetworkInfo{BandwidthEstimate: &override})

	ctx := s.buildAbrContext(false)
	assert.Equal(t, float64(override), ctx.BandwidthEstimate)
}

func TestReportFrameCounters(t *testing.T) {
	s := newTestSession(t, vodManifest())
	s.ReportDroppedFrame()
	s.ReportDroppedFrame()
	s.ReportDecodedFrame()

	m := s.Metrics()
	assert.Equal(t, uint64(2), m.DroppedFrames)
	assert.Equal(t, uint64(1), m.DecodedFrames)
}
