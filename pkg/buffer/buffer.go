// Package buffer implements the time-indexed segment buffer manager: a
// store of downloaded segment bytes indexed by sequence number, with
// memory/duration caps, eviction, gap coalescing, and seek semantics.
package buffer

import (
	"sort"
	"sync"

	"github.com/ExpertVagabond/kino/pkg/errors"
	"github.com/ExpertVagabond/kino/pkg/logger"
	"github.com/ExpertVagabond/kino/pkg/types"
)

// rearWindow is how far behind the playback position consumed segments
// are still retained, to keep a small window for caption/trickplay
// alignment.
const rearWindow = 10.0

// evictionWindow is how far behind the playback position an unconsumed
// segment becomes an eviction candidate.
const evictionWindow = 5.0

// gapTolerance is the maximum timeline gap between two segments that is
// still considered contiguous for range coalescing.
const gapTolerance = 0.1

// Config holds the buffer manager's tunables, sourced from PlayerConfig.
type Config struct {
	MinBufferTime     float64
	MaxBufferTime     float64
	RebufferThreshold float64
	MaxMemoryBytes    uint64
	PrefetchEnabled   bool
	PrefetchCount     int
}

// ConfigFromPlayerConfig adapts a types.PlayerConfig into buffer.Config.
func ConfigFromPlayerConfig(p types.PlayerConfig) Config {
	return Config{
		MinBufferTime:     p.MinBufferTime,
		MaxBufferTime:     p.MaxBufferTime,
		RebufferThreshold: p.RebufferThreshold,
		MaxMemoryBytes:    p.MaxMemoryBytes,
		PrefetchEnabled:   p.PrefetchEnabled,
		PrefetchCount:     p.PrefetchCount,
	}
}

// Range is a coalesced contiguous span of buffered, unconsumed media.
type Range struct {
	Start float64
	End   float64
}

// Stats is a point-in-time snapshot of the buffer's occupancy.
type Stats struct {
	SegmentCount     int
	MemoryUsed       uint64
	BufferedDuration float64
	PlaybackPosition float64
}

// Manager is the time-indexed segment store.
type Manager struct {
	mu sync.RWMutex

	config Config
	log    logger.Logger

	// segments is keyed by sequence number; Go maps have no intrinsic
	// order so sequence iteration always goes through sortedSequences.
	segments map[uint64]*types.BufferedSegment

	playbackPosition float64
	memoryUsed       uint64

	fetchQueue []uint64
}

// New creates an empty buffer manager.
func New(cfg Config, log logger.Logger) *Manager {
	return &Manager{
		config:   cfg,
		log:      log,
		segments: make(map[uint64]*types.BufferedSegment),
	}
}

func (m *Manager) sortedSequences() []uint64 {
	seqs := make([]uint64, 0, len(m.segments))
	for seq := range m.segments {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

// AddSegment inserts a downloaded segment at the end of the buffered
// timeline, evicting best-effort if the insertion would exceed the
// memory cap.
func (m *Manager) AddSegment(segment types.Segment, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0.0
	if seqs := m.sortedSequences(); len(seqs) > 0 {
		last := m.segments[seqs[len(seqs)-1]]
		start = last.TimelineEnd
	}
	end := start + segment.Duration.Seconds()

	needed := uint64(len(data))
	if m.memoryUsed+needed > m.config.MaxMemoryBytes {
		m.evictLocked(needed)
		if m.memoryUsed+needed > m.config.MaxMemoryBytes {
			m.log.Warn("buffer insertion exceeds memory cap, inserting anyway",
				logger.Int64("needed_bytes", int64(needed)),
				logger.Int64("memory_used", int64(m.memoryUsed)),
				logger.Int64("max_memory_bytes", int64(m.config.MaxMemoryBytes)),
			)
		}
	}

	m.segments[segment.Number] = &types.BufferedSegment{
		Segment:       segment,
		Data:          data,
		TimelineStart: start,
		TimelineEnd:   end,
		Consumed:      false,
	}
	m.memoryUsed += needed
}

// evictLocked evicts, oldest sequence first, segments that are consumed
// or have fallen well behind playback, stopping once at least needed
// bytes are freed or no candidates remain (so it may free fewer).
// Must be called with mu held.
func (m *Manager) evictLocked(needed uint64) {
	var freed uint64
	for _, seq := range m.sortedSequences() {
		if freed >= needed {
			return
		}
		seg := m.segments[seq]
		evictable := seg.Consumed || seg.TimelineEnd < m.playbackPosition-evictionWindow
		if !evictable {
			continue
		}
		freed += uint64(len(seg.Data))
		m.memoryUsed -= uint64(len(seg.Data))
		delete(m.segments, seq)
	}
}

// ConsumeSegment marks a sequence number as consumed (played past).
func (m *Manager) ConsumeSegment(sequence uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seg, ok := m.segments[sequence]; ok {
		seg.Consumed = true
	}
}

// UpdatePosition advances the playback position and cleans up consumed
// segments that have fallen behind the rear window.
func (m *Manager) UpdatePosition(position float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playbackPosition = position

	threshold := position - rearWindow
	for seq, seg := range m.segments {
		if seg.Consumed && seg.TimelineEnd < threshold {
			m.memoryUsed -= uint64(len(seg.Data))
			delete(m.segments, seq)
		}
	}
}

// BufferLevel is the sum over unconsumed segments of the unplayed
// duration remaining ahead of position.
func (m *Manager) BufferLevel() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bufferLevelLocked()
}

func (m *Manager) bufferLevelLocked() float64 {
	var level float64
	for _, seg := range m.segments {
		if seg.Consumed {
			continue
		}
		remaining := seg.TimelineEnd - max(seg.TimelineStart, m.playbackPosition)
		if remaining > 0 {
			level += remaining
		}
	}
	return level
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// IsBufferHealthy reports whether buffer_level >= rebuffer_threshold.
func (m *Manager) IsBufferHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bufferLevelLocked() >= m.config.RebufferThreshold
}

// NeedsData reports whether buffer_level < max_buffer_time.
func (m *Manager) NeedsData() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bufferLevelLocked() < m.config.MaxBufferTime
}

// CanStartPlayback reports whether buffer_level >= min_buffer_time.
func (m *Manager) CanStartPlayback() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bufferLevelLocked() >= m.config.MinBufferTime
}

// BufferedRanges walks the ordered segments, coalescing unconsumed
// segments whose timeline gap is below tolerance into contiguous spans.
func (m *Manager) BufferedRanges() []Range {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ranges []Range
	for _, seq := range m.sortedSequences() {
		seg := m.segments[seq]
		if seg.Consumed {
			continue
		}
		if len(ranges) == 0 {
			ranges = append(ranges, Range{Start: seg.TimelineStart, End: seg.TimelineEnd})
			continue
		}
		last := &ranges[len(ranges)-1]
		gap := seg.TimelineStart - last.End
		if gap < 0 {
			gap = -gap
		}
		if gap < gapTolerance {
			last.End = seg.TimelineEnd
		} else {
			ranges = append(ranges, Range{Start: seg.TimelineStart, End: seg.TimelineEnd})
		}
	}
	return ranges
}

// GetSegmentAt returns the segment whose [start, end) contains time.
func (m *Manager) GetSegmentAt(t float64) (*types.BufferedSegment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, seq := range m.sortedSequences() {
		seg := m.segments[seq]
		if t >= seg.TimelineStart && t < seg.TimelineEnd {
			return seg, true
		}
	}
	return nil, false
}

// GetNextSegment returns the first unconsumed segment ending after the
// current playback position.
func (m *Manager) GetNextSegment() (*types.BufferedSegment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, seq := range m.sortedSequences() {
		seg := m.segments[seq]
		if !seg.Consumed && seg.TimelineEnd > m.playbackPosition {
			return seg, true
		}
	}
	return nil, false
}

// Seek moves the playback position. If the new position is already
// buffered, it returns true and callers may resume Playing. Otherwise
// the buffer is cleared in full and the caller must transition to
// Buffering to refetch from the new timeline point.
func (m *Manager) Seek(position float64) bool {
	m.mu.Lock()
	m.playbackPosition = position
	_, found := m.segmentAtLocked(position)
	if found {
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()
	m.Clear()
	return false
}

func (m *Manager) segmentAtLocked(t float64) (*types.BufferedSegment, bool) {
	for _, seq := range m.sortedSequences() {
		seg := m.segments[seq]
		if t >= seg.TimelineStart && t < seg.TimelineEnd {
			return seg, true
		}
	}
	return nil, false
}

// Clear discards every buffered segment and resets the memory counter.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = make(map[uint64]*types.BufferedSegment)
	m.memoryUsed = 0
}

// Stats returns a point-in-time snapshot.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		SegmentCount:     len(m.segments),
		MemoryUsed:       m.memoryUsed,
		BufferedDuration: m.bufferLevelLocked(),
		PlaybackPosition: m.playbackPosition,
	}
}

// QueueFetch appends a sequence number to the planned-fetch FIFO.
func (m *Manager) QueueFetch(sequence uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchQueue = append(m.fetchQueue, sequence)
}

// NextFetch pops the next planned fetch, if any.
func (m *Manager) NextFetch() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.fetchQueue) == 0 {
		return 0, false
	}
	next := m.fetchQueue[0]
	m.fetchQueue = m.fetchQueue[1:]
	return next, true
}

// SeekFailedErr is a convenience wrapper for callers that want a typed
// error instead of the bool return of Seek.
func SeekFailedErr(position float64) error {
	return errors.NewBufferSeekFailedError(position)
}
