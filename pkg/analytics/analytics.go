// Package analytics captures playback telemetry as a typed event stream,
// buffers it for batched delivery to an optional beacon endpoint, and
// scores a session's Quality of Experience from the same inputs.
package analytics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ExpertVagabond/kino/pkg/logger"
	"github.com/ExpertVagabond/kino/pkg/types"
)

// EventKind identifies a member of the analytics event union.
type EventKind string

const (
	EventLoad          EventKind = "load"
	EventPlay          EventKind = "play"
	EventPause         EventKind = "pause"
	EventSeek          EventKind = "seek"
	EventRebuffer      EventKind = "rebuffer"
	EventRebufferEnd   EventKind = "rebuffer_end"
	EventQualityChange EventKind = "quality_change"
	EventStateChange   EventKind = "state_change"
	EventEnd           EventKind = "end"
	EventError         EventKind = "error"
	EventHeartbeat     EventKind = "heartbeat"
	EventCustom        EventKind = "custom"
)

// QualityChangeReason explains why the ABR engine (or a host) swapped
// renditions.
type QualityChangeReason string

const (
	ReasonAbr     QualityChangeReason = "abr"
	ReasonManual  QualityChangeReason = "manual"
	ReasonBuffer  QualityChangeReason = "buffer"
	ReasonInitial QualityChangeReason = "initial"
)

// Event is implemented by every member of the analytics event union.
type Event interface {
	Kind() EventKind
}

type LoadEvent struct {
	URL    string
	IsLive bool
}

func (LoadEvent) Kind() EventKind { return EventLoad }

type PlayEvent struct{ Position float64 }

func (PlayEvent) Kind() EventKind { return EventPlay }

type PauseEvent struct{ Position float64 }

func (PauseEvent) Kind() EventKind { return EventPause }

type SeekEvent struct{ From, To float64 }

func (SeekEvent) Kind() EventKind { return EventSeek }

type RebufferEvent struct {
	Position     float64
	BufferLevel  float64
}

func (RebufferEvent) Kind() EventKind { return EventRebuffer }

type RebufferEndEvent struct {
	Position float64
	Duration float64
}

func (RebufferEndEvent) Kind() EventKind { return EventRebufferEnd }

type QualityChangeEvent struct {
	FromBitrate    uint64
	ToBitrate      uint64
	FromResolution *types.Resolution
	ToResolution   *types.Resolution
	Reason         QualityChangeReason
}

func (QualityChangeEvent) Kind() EventKind { return EventQualityChange }

type StateChangeEvent struct {
	From     types.PlayerState
	To       types.PlayerState
	Position float64
}

func (StateChangeEvent) Kind() EventKind { return EventStateChange }

type EndEvent struct {
	Position  float64
	WatchTime float64
}

func (EndEvent) Kind() EventKind { return EventEnd }

type ErrorEvent struct {
	Code     string
	Message  string
	Fatal    bool
	Position float64
}

func (ErrorEvent) Kind() EventKind { return EventError }

type HeartbeatEvent struct {
	Position       float64
	BufferLevel    float64
	Bitrate        uint64
	DroppedFrames  uint64
	DecodedFrames  uint64
}

func (HeartbeatEvent) Kind() EventKind { return EventHeartbeat }

type CustomEvent struct {
	Name    string
	Payload map[string]interface{}
}

func (CustomEvent) Kind() EventKind { return EventCustom }

// EventRecord wraps an emitted Event with session metadata and a
// strictly increasing per-session sequence number.
type EventRecord struct {
	ID        string
	SessionID types.SessionID
	Timestamp time.Time
	Sequence  uint64
	Event     Event
}

// MarshalJSON writes the record metadata and the wrapped event's kind as
// top-level fields, with the event's own fields nested under "payload".
func (r EventRecord) MarshalJSON() ([]byte, error) {
	type envelope struct {
		ID        string      `json:"event_id"`
		SessionID string      `json:"session_id"`
		Timestamp time.Time   `json:"wall_clock"`
		Sequence  uint64      `json:"sequence"`
		EventType EventKind   `json:"event"`
		Payload   interface{} `json:"payload"`
	}
	return json.Marshal(envelope{
		ID:        r.ID,
		SessionID: string(r.SessionID),
		Timestamp: r.Timestamp,
		Sequence:  r.Sequence,
		EventType: r.Event.Kind(),
		Payload:   r.Event,
	})
}

const (
	defaultMaxBufferSize = 50
	eventChannelCapacity = 1000
)

// Emitter buffers analytics records, flushes the oldest half on
// overflow (the distilled spec's explicit correction to the original's
// full-buffer drain), and mirrors every record onto a bounded channel
// for a background consumer. Emission is always best-effort: a full
// event channel or a failed beacon POST is logged and dropped, never
// propagated to the session.
type Emitter struct {
	mu sync.Mutex

	sessionID     types.SessionID
	sequence      uint64
	buffer        []EventRecord
	maxBufferSize int

	eventCh chan EventRecord
	done    chan struct{}
	closeOnce sync.Once

	subsMu sync.RWMutex
	subs   []chan EventRecord

	beaconURL  string
	httpClient *http.Client
	log        logger.Logger
}

// Subscribe returns a channel that receives every subsequent emitted
// record. The channel has a small buffer; a slow subscriber that falls
// behind simply misses records rather than blocking Emit, mirroring
// pkg/session's SubscribeState fan-out.
func (e *Emitter) Subscribe() <-chan EventRecord {
	ch := make(chan EventRecord, 32)
	e.subsMu.Lock()
	e.subs = append(e.subs, ch)
	e.subsMu.Unlock()
	return ch
}

func (e *Emitter) broadcast(record EventRecord) {
	e.subsMu.RLock()
	defer e.subsMu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- record:
		default:
		}
	}
}

// NewEmitter creates an emitter for the given session and starts its
// background consumer goroutine.
func NewEmitter(sessionID types.SessionID, log logger.Logger) *Emitter {
	e := &Emitter{
		sessionID:     sessionID,
		maxBufferSize: defaultMaxBufferSize,
		eventCh:       make(chan EventRecord, eventChannelCapacity),
		done:          make(chan struct{}),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		log:           log,
	}
	go e.consume()
	return e
}

// WithBeacon configures a URL that overflow flushes are POSTed to as a
// JSON array.
func (e *Emitter) WithBeacon(url string) *Emitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.beaconURL = url
	return e
}

func (e *Emitter) consume() {
	for {
		select {
		case record, ok := <-e.eventCh:
			if !ok {
				return
			}
			e.log.Debug("analytics event",
				logger.Field{Key: "event_id", Value: record.ID},
				logger.Field{Key: "event", Value: record.Event.Kind()},
			)
		case <-e.done:
			return
		}
	}
}

// Emit records an event under the next sequence number, flushing the
// oldest half of the buffer if it is now full.
func (e *Emitter) Emit(event Event) {
	e.mu.Lock()
	e.sequence++
	record := EventRecord{
		ID:        uuid.NewString(),
		SessionID: e.sessionID,
		Timestamp: time.Now(),
		Sequence:  e.sequence,
		Event:     event,
	}
	e.buffer = append(e.buffer, record)

	var flushed []EventRecord
	if len(e.buffer) >= e.maxBufferSize {
		half := len(e.buffer) / 2
		if half == 0 {
			half = 1
		}
		flushed = append([]EventRecord(nil), e.buffer[:half]...)
		e.buffer = append([]EventRecord(nil), e.buffer[half:]...)
	}
	e.mu.Unlock()

	if flushed != nil {
		go e.flush(flushed)
	}

	e.broadcast(record)

	select {
	case e.eventCh <- record:
	default:
		e.log.Warn("analytics event channel full, dropping",
			logger.Field{Key: "event_id", Value: record.ID},
		)
	}
}

func (e *Emitter) flush(records []EventRecord) {
	if len(records) == 0 {
		return
	}

	e.log.Info("flushing analytics events", logger.Field{Key: "count", Value: len(records)})

	e.mu.Lock()
	beaconURL := e.beaconURL
	e.mu.Unlock()
	if beaconURL == "" {
		return
	}

	body, err := json.Marshal(records)
	if err != nil {
		e.log.Error("failed to encode analytics beacon payload", logger.Field{Key: "error", Value: err})
		return
	}

	resp, err := e.httpClient.Post(beaconURL, "application/json", bytes.NewReader(body))
	if err != nil {
		e.log.Error("analytics beacon delivery failed", logger.Field{Key: "error", Value: err})
		return
	}
	resp.Body.Close()
}

// Events returns a snapshot of the currently buffered (not yet flushed)
// records.
func (e *Emitter) Events() []EventRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventRecord, len(e.buffer))
	copy(out, e.buffer)
	return out
}

// Clear discards the buffered records without flushing them.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = nil
}

// Close stops the background consumer. Safe to call more than once.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
}
