// Package session orchestrates a single playback: manifest loading,
// rendition selection, segment buffering, and the player state machine,
// emitting analytics events as it moves.
package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ExpertVagabond/kino/pkg/abr"
	"github.com/ExpertVagabond/kino/pkg/analytics"
	"github.com/ExpertVagabond/kino/pkg/buffer"
	"github.com/ExpertVagabond/kino/pkg/errors"
	"github.com/ExpertVagabond/kino/pkg/logger"
	"github.com/ExpertVagabond/kino/pkg/manifest"
	"github.com/ExpertVagabond/kino/pkg/types"
)

// ParserForKind resolves a manifest.Kind to the parser that handles it.
// kino.go supplies this from its registered HLS/DASH parsers, keeping
// pkg/session free of a direct dependency on either concrete parser
// package.
type ParserForKind func(kind manifest.Kind) manifest.Parser

// SegmentFetcher performs the actual segment GET (and, where configured,
// decryption). kino.go wires in pkg/fetch's retrying, S3-aware
// implementation; FetchSegment falls back to a plain HTTP GET when none
// is set, which is enough for a host that only ever serves cleartext
// segments over HTTP.
type SegmentFetcher interface {
	FetchSegment(ctx context.Context, segment types.Segment) ([]byte, error)
}

// Session manages a single piece of content's playback lifecycle.
type Session struct {
	id     types.SessionID
	config types.PlayerConfig
	log    logger.Logger

	stateMu sync.RWMutex
	state   types.PlayerState

	stateSubsMu sync.RWMutex
	stateSubs   []chan types.PlayerState

	buf *buffer.Manager
	abr *abr.Engine

	client *http.Client

	parserFor ParserForKind
	fetcher   SegmentFetcher

	mu               sync.RWMutex
	doc              *manifest.Manifest
	currentRendition *types.Rendition
	position         float64
	duration         *float64

	metricsMu sync.Mutex
	metrics   types.QualityMetrics

	analytics *analytics.Emitter
	qoe       *analytics.QoeCalculator

	networkMu   sync.RWMutex
	networkInfo types.NetworkInfo

	startTime     time.Time
	rebufferStart *time.Time
}

// New creates an idle session for the given configuration.
func New(config types.PlayerConfig, parserFor ParserForKind, log logger.Logger) *Session {
	id := types.NewSessionID()

	var emitter *analytics.Emitter
	if config.AnalyticsEnabled {
		emitter = analytics.NewEmitter(id, log)
	}

	return &Session{
		id:        id,
		config:    config,
		log:       log,
		state:     types.StateIdle,
		buf:       buffer.New(buffer.ConfigFromPlayerConfig(config), log),
		abr:       abr.NewEngineForAlgorithm(config.AbrAlgorithm),
		client:    &http.Client{Timeout: time.Duration(config.RequestTimeoutMs) * time.Millisecond},
		parserFor: parserFor,
		analytics: emitter,
		qoe:       analytics.NewQoeCalculator(),
		startTime: time.Now(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() types.SessionID { return s.id }

// State returns the current player state.
func (s *Session) State() types.PlayerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// SubscribeState returns a channel that receives every subsequent state
// transition. The channel has a small buffer; a slow subscriber that
// falls behind simply misses intermediate states, never blocking the
// session (mirroring the teacher's non-blocking event-bus fan-out).
func (s *Session) SubscribeState() <-chan types.PlayerState {
	ch := make(chan types.PlayerState, 8)
	s.stateSubsMu.Lock()
	s.stateSubs = append(s.stateSubs, ch)
	s.stateSubsMu.Unlock()
	return ch
}

func (s *Session) broadcastState(state types.PlayerState) {
	s.stateSubsMu.RLock()
	defer s.stateSubsMu.RUnlock()
	for _, ch := range s.stateSubs {
		select {
		case ch <- state:
		default:
		}
	}
}

// setState validates and performs a transition, broadcasting it and
// emitting a StateChange analytics event. Callers must not hold s.mu:
// the event reads the position through Position().
func (s *Session) setState(newState types.PlayerState) error {
	s.stateMu.Lock()
	current := s.state
	if !current.CanTransitionTo(newState) {
		s.stateMu.Unlock()
		return errors.NewInvalidStateTransitionError(current.String(), newState.String())
	}
	s.state = newState
	s.stateMu.Unlock()

	s.broadcastState(newState)

	if s.analytics != nil {
		s.analytics.Emit(analytics.StateChangeEvent{From: current, To: newState, Position: s.Position()})
	}

	s.log.Info("state transition",
		logger.Field{Key: "from", Value: current.String()},
		logger.Field{Key: "to", Value: newState.String()},
	)

	return nil
}

// Position returns the current playback position in seconds.
func (s *Session) Position() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

// Duration returns the content duration, if known (VOD only).
func (s *Session) Duration() *float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.duration
}

// CurrentRendition returns the actively selected rendition, if any.
func (s *Session) CurrentRendition() *types.Rendition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRendition
}

// BufferLevel returns the current buffered duration ahead of position.
func (s *Session) BufferLevel() float64 { return s.buf.BufferLevel() }

// BufferedRanges returns the currently buffered contiguous time ranges.
func (s *Session) BufferedRanges() []buffer.Range { return s.buf.BufferedRanges() }

// Metrics returns a snapshot of host-reported decode/render health.
func (s *Session) Metrics() types.QualityMetrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	return s.metrics
}

// Load fetches and parses a manifest, selects an initial rendition, and
// moves the session from Idle to Buffering.
func (s *Session) Load(ctx context.Context, manifestURL *url.URL) error {
	s.log.Info("loading content", logger.Field{Key: "url", Value: manifestURL.String()})

	if err := s.setState(types.StateLoading); err != nil {
		return err
	}

	// Kind is resolved from the URL alone; without a .m3u8, .m3u or .mpd
	// suffix DetectKind defaults to HLS, and no content sniff is made.
	kind := manifest.DetectKind(manifestURL, "")
	parser := s.parserFor(kind)

	doc, err := parser.Parse(ctx, manifestURL)
	if err != nil {
		return err
	}

	s.log.Info("manifest parsed",
		logger.Field{Key: "renditions", Value: len(doc.Renditions)},
		logger.Field{Key: "is_live", Value: doc.IsLive},
	)

	s.mu.Lock()
	s.doc = doc
	if doc.Duration != nil {
		d := doc.Duration.Seconds()
		s.duration = &d
	}
	s.mu.Unlock()

	ctxAbr := s.buildAbrContext(doc.IsLive)
	if rendition := s.abr.SelectRendition(doc.Renditions, ctxAbr); rendition != nil {
		s.mu.Lock()
		s.currentRendition = rendition
		s.mu.Unlock()
		s.log.Info("initial rendition selected",
			logger.Field{Key: "rendition", Value: rendition.ID},
			logger.Field{Key: "bandwidth", Value: rendition.Bandwidth},
		)
		if s.analytics != nil {
			s.analytics.Emit(analytics.QualityChangeEvent{
				ToBitrate:    rendition.Bandwidth,
				ToResolution: rendition.Resolution,
				Reason:       analytics.ReasonInitial,
			})
		}
	}

	if s.analytics != nil {
		s.analytics.Emit(analytics.LoadEvent{URL: manifestURL.String(), IsLive: doc.IsLive})
	}

	return s.setState(types.StateBuffering)
}

// ReselectRendition re-runs the ABR engine against the current manifest
// and buffer/bandwidth state; hosts call this on a fixed interval or
// after each segment fetch to react to changing network conditions. It
// emits QualityChange only when the pick actually differs from the
// current rendition.
func (s *Session) ReselectRendition() *types.Rendition {
	s.mu.RLock()
	doc := s.doc
	previous := s.currentRendition
	s.mu.RUnlock()
	if doc == nil {
		return nil
	}

	ctxAbr := s.buildAbrContext(doc.IsLive)
	picked := s.abr.SelectRendition(doc.Renditions, ctxAbr)
	if picked == nil || (previous != nil && picked.ID == previous.ID) {
		return previous
	}

	s.mu.Lock()
	s.currentRendition = picked
	s.mu.Unlock()

	s.qoe.RecordQualitySwitch()
	if s.analytics != nil {
		from := uint64(0)
		var fromRes *types.Resolution
		if previous != nil {
			from = previous.Bandwidth
			fromRes = previous.Resolution
		}
		s.analytics.Emit(analytics.QualityChangeEvent{
			FromBitrate:    from,
			ToBitrate:      picked.Bandwidth,
			FromResolution: fromRes,
			ToResolution:   picked.Resolution,
			Reason:         analytics.ReasonAbr,
		})
	}

	return picked
}

// QoE returns the current session's Quality of Experience breakdown,
// computed from rebuffer and rendition-switch telemetry recorded so far.
func (s *Session) QoE() analytics.QoeBreakdown {
	return s.qoe.Breakdown()
}

// Analytics returns the session's event emitter, or nil when
// config.AnalyticsEnabled is false. kino.go uses this to wire a
// session's event stream into pkg/transport or a custom beacon.
func (s *Session) Analytics() *analytics.Emitter {
	return s.analytics
}

// SetNetworkInfo installs the host's latest network/device hint, read by
// the next buildAbrContext call. A nil BandwidthEstimate leaves the ABR
// engine's own EWMA estimate in place; a non-nil one overrides it, letting
// a host with its own connectivity signal (e.g. a mobile OS's network-type
// callback) steer rendition selection ahead of the engine catching up.
func (s *Session) SetNetworkInfo(info types.NetworkInfo) {
	s.networkMu.Lock()
	s.networkInfo = info
	s.networkMu.Unlock()
}

func (s *Session) buildAbrContext(isLive bool) abr.Context {
	s.networkMu.RLock()
	info := s.networkInfo
	s.networkMu.RUnlock()

	bandwidth := s.abr.BandwidthEstimate()
	if info.BandwidthEstimate != nil {
		bandwidth = float64(*info.BandwidthEstimate)
	}

	return abr.Context{
		BandwidthEstimate: bandwidth,
		BufferLevel:       s.buf.BufferLevel(),
		ScreenWidth:       info.ScreenWidth,
		MaxBitrateCap:     s.config.MaxBitrate,
		IsLive:            isLive,
	}
}

// Play starts or resumes playback. Play is a no-op (logged, not an
// error) from any state other than Buffering, Paused, or Ended,
// tolerating an invalid-transition attempt rather than failing the
// call, matching the host-facing "play button" UX.
func (s *Session) Play() error {
	state := s.State()

	switch state {
	case types.StateBuffering:
		if !s.buf.CanStartPlayback() {
			return nil
		}
		if err := s.setState(types.StatePlaying); err != nil {
			return err
		}
		s.closeRebufferWindow()
	case types.StatePaused:
		if err := s.setState(types.StatePlaying); err != nil {
			return err
		}
	case types.StateEnded:
		if err := s.Seek(context.Background(), 0); err != nil {
			return err
		}
		if err := s.setState(types.StatePlaying); err != nil {
			return err
		}
	default:
		s.log.Warn("cannot play from current state", logger.Field{Key: "state", Value: state.String()})
		return nil
	}

	// Emitted only on the branches above that actually transitioned to
	// Playing, not on every call to Play() regardless of outcome.
	if s.analytics != nil {
		s.analytics.Emit(analytics.PlayEvent{Position: s.Position()})
	}
	return nil
}

// Pause pauses an actively playing session; a no-op otherwise.
func (s *Session) Pause() error {
	if s.State() != types.StatePlaying {
		return nil
	}
	if err := s.setState(types.StatePaused); err != nil {
		return err
	}
	if s.analytics != nil {
		s.analytics.Emit(analytics.PauseEvent{Position: s.Position()})
	}
	return nil
}

// Seek moves playback to position, clamped to [0, duration] when the
// duration is known. The event's `from` position is captured before
// the position is mutated, not after.
func (s *Session) Seek(ctx context.Context, position float64) error {
	s.mu.RLock()
	from := s.position
	duration := s.duration
	s.mu.RUnlock()

	clamped := position
	if duration != nil {
		clamped = clamp(position, 0, *duration)
	} else if clamped < 0 {
		clamped = 0
	}

	s.log.Info("seeking", logger.Field{Key: "from", Value: from}, logger.Field{Key: "to", Value: clamped})

	wasPlaying := s.State() == types.StatePlaying
	if err := s.setState(types.StateSeeking); err != nil {
		return err
	}

	isBuffered := s.buf.Seek(clamped)

	s.mu.Lock()
	s.position = clamped
	s.mu.Unlock()

	if s.analytics != nil {
		s.analytics.Emit(analytics.SeekEvent{From: from, To: clamped})
	}

	if isBuffered && wasPlaying {
		return s.setState(types.StatePlaying)
	}
	return s.setState(types.StateBuffering)
}

// Stop tears down playback and resets the session to Idle. Unlike
// other transitions, this one is forced: a session may be stopped from
// any state, including Error.
func (s *Session) Stop() {
	if s.State() == types.StateIdle {
		return
	}

	s.log.Info("stopping playback")

	s.buf.Clear()

	s.mu.Lock()
	s.position = 0
	s.doc = nil
	s.currentRendition = nil
	s.mu.Unlock()

	s.stateMu.Lock()
	s.state = types.StateIdle
	s.stateMu.Unlock()
	s.broadcastState(types.StateIdle)

	if s.analytics != nil {
		s.analytics.Emit(analytics.EndEvent{
			Position:  s.Position(),
			WatchTime: time.Since(s.startTime).Seconds(),
		})
	}
}

// UpdatePosition advances the playback position, called by the host's
// renderer on every frame or timer tick. It detects end-of-content and
// buffer starvation, transitioning and emitting events as needed.
func (s *Session) UpdatePosition(position float64) {
	s.mu.Lock()
	s.position = position
	duration := s.duration
	s.mu.Unlock()

	s.buf.UpdatePosition(position)

	if duration != nil && position >= *duration-0.5 {
		_ = s.setState(types.StateEnded)
		return
	}

	if s.State() == types.StatePlaying && !s.buf.IsBufferHealthy() {
		bufferLevel := s.buf.BufferLevel()
		now := time.Now()
		s.mu.Lock()
		s.rebufferStart = &now
		s.mu.Unlock()

		_ = s.setState(types.StateBuffering)

		if s.analytics != nil {
			s.analytics.Emit(analytics.RebufferEvent{Position: position, BufferLevel: bufferLevel})
		}
	}
}

// closeRebufferWindow records the just-ended rebuffer episode into the
// QoE calculator and emits RebufferEnd, if a window was open. No-op
// when the Buffering state was entered at load time rather than as a
// mid-playback stall.
func (s *Session) closeRebufferWindow() {
	s.mu.Lock()
	start := s.rebufferStart
	s.rebufferStart = nil
	position := s.position
	s.mu.Unlock()

	if start == nil {
		return
	}

	duration := time.Since(*start).Seconds()
	s.qoe.RecordRebuffer(duration)

	if s.analytics != nil {
		s.analytics.Emit(analytics.RebufferEndEvent{Position: position, Duration: duration})
	}
}

// ReportDroppedFrame records one dropped frame into the quality metrics.
func (s *Session) ReportDroppedFrame() {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	s.metrics.DroppedFrames++
}

// ReportDecodedFrame records one successfully decoded frame.
func (s *Session) ReportDecodedFrame() {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	s.metrics.DecodedFrames++
}

// SetFetcher installs the SegmentFetcher used for subsequent
// FetchSegment calls, typically pkg/fetch's retrying, S3-aware, decrypt-
// capable implementation.
func (s *Session) SetFetcher(fetcher SegmentFetcher) {
	s.fetcher = fetcher
}

// FetchSegment retrieves a segment's bytes, recording the transfer into
// the ABR bandwidth estimator regardless of which SegmentFetcher served
// it. With no fetcher installed, it falls back to a direct HTTP GET.
func (s *Session) FetchSegment(ctx context.Context, segment types.Segment) ([]byte, error) {
	start := time.Now()

	var data []byte
	var err error
	if s.fetcher != nil {
		data, err = s.fetcher.FetchSegment(ctx, segment)
	} else {
		data, err = s.fetchSegmentDirect(ctx, segment)
	}
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	s.abr.RecordMeasurement(uint64(len(data)), elapsed)

	s.log.Debug("segment fetched",
		logger.Field{Key: "segment", Value: segment.Number},
		logger.Field{Key: "bytes", Value: len(data)},
		logger.Field{Key: "duration_ms", Value: elapsed.Milliseconds()},
	)

	return data, nil
}

func (s *Session) fetchSegmentDirect(ctx context.Context, segment types.Segment) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segment.URI, nil)
	if err != nil {
		return nil, errors.NewSegmentFetchError(segment.URI, err)
	}
	if segment.ByteRange != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", segment.ByteRange.Start, segment.ByteRange.End()))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewSegmentTimeoutError(segment.URI)
		}
		return nil, errors.NewSegmentFetchError(segment.URI, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewSegmentFetchError(segment.URI, err)
	}

	return data, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
