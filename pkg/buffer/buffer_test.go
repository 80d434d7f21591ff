package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ExpertVagabond/kino/pkg/logger"
	"github.com/ExpertVagabond/kino/pkg/types"
)

func testSegment(num uint64) types.Segment {
	return types.Segment{
		Number:   num,
		URI:      "https://example.com/seg.ts",
		Duration: 4 * time.Second,
	}
}

func testConfig() Config {
	return Config{
		MinBufferTime:     10.0,
		MaxBufferTime:     30.0,
		RebufferThreshold: 2.0,
		MaxMemoryBytes:    256 * 1024 * 1024,
		PrefetchEnabled:   true,
		PrefetchCount:     3,
	}
}

func TestAddSegment(t *testing.T) {
	m := New(testConfig(), logger.NewDefaultLogger(logger.InfoLevel, "json"))
	m.AddSegment(testSegment(1), make([]byte, 1024))
	assert.Equal(t, 4.0, m.BufferLevel())
}

func TestBufferLevelAfterPosition(t *testing.T) {
	m := New(testConfig(), logger.NewDefaultLogger(logger.InfoLevel, "json"))
	for i := uint64(1); i <= 5; i++ {
		m.AddSegment(testSegment(i), make([]byte, 1024))
	}
	assert.Equal(t, 20.0, m.BufferLevel())

	m.UpdatePosition(8.0)
	assert.InDelta(t, 12.0, m.BufferLevel(), 0.1)
}

func TestSeekBufferedAndUnbuffered(t *testing.T) {
	m := New(testConfig(), logger.NewDefaultLogger(logger.InfoLevel, "json"))
	for i := uint64(1); i <= 5; i++ {
		m.AddSegment(testSegment(i), make([]byte, 1024))
	}

	assert.True(t, m.Seek(10.0))
	assert.False(t, m.Seek(100.0))
	assert.Equal(t, 0, m.Stats().SegmentCount)
}

func TestBufferedRangesCoalesce(t *testing.T) {
	m := New(testConfig(), logger.NewDefaultLogger(logger.InfoLevel, "json"))
	for i := uint64(1); i <= 3; i++ {
		m.AddSegment(testSegment(i), make([]byte, 1024))
	}

	ranges := m.BufferedRanges()
	assert.Len(t, ranges, 1)
	assert.Equal(t, 0.0, ranges[0].Start)
	assert.Equal(t, 12.0, ranges[0].End)
}

func TestConsumeAndCleanup(t *testing.T) {
	m := New(testConfig(), logger.NewDefaultLogger(logger.InfoLevel, "json"))
	m.AddSegment(testSegment(1), make([]byte, 1024))
	m.ConsumeSegment(1)

	m.UpdatePosition(50.0)
	assert.Equal(t, 0, m.Stats().SegmentCount)
}

func TestFetchQueueFIFO(t *testing.T) {
	m := New(testConfig(), logger.NewDefaultLogger(logger.InfoLevel, "json"))
	m.QueueFetch(1)
	m.QueueFetch(2)

	next, ok := m.NextFetch()
	assert.True(t, ok)
	assert.Equal(t, uint64(1), next)

	next, ok = m.NextFetch()
	assert.True(t, ok)
	assert.Equal(t, uint64(2), next)

	_, ok = m.NextFetch()
	assert.False(t, ok)
}
