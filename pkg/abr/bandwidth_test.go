package abr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBandwidthEstimatorSeedsExactlyFromFirstSample(t *testing.T) {
	e := NewBandwidthEstimator()
	e.Record(125_000, time.Second) // 1,000,000 bits in one second

	assert.Equal(t, 1_000_000.0, e.Estimate())
	assert.Len(t, e.History(), 1)
}

func TestBandwidthEstimatorSmoothsSubsequentSamplesWithEWMA(t *testing.T) {
	e := NewBandwidthEstimator()
	e.Record(125_000, time.Second) // seeds at 1,000,000 bps

	e.Record(250_000, time.Second) // 2,000,000 bps sample
	want := (1-ewmaAlpha)*1_000_000.0 + ewmaAlpha*2_000_000.0
	assert.InDelta(t, want, e.Estimate(), 0.001)
}

func TestBandwidthEstimatorHistoryIsBoundedAndDropsOldest(t *testing.T) {
	e := NewBandwidthEstimator()
	for i := 0; i < maxHistory+5; i++ {
		e.Record(uint64(i+1)*1000, time.Second)
	}

	history := e.History()
	assert.Len(t, history, maxHistory)
	// The oldest 5 samples (bytes 1000..5000) must have been evicted; the
	// first entry remaining is the 6th recorded sample.
	assert.Equal(t, uint64(6000), history[0].Bytes)
}

func TestBandwidthEstimatorHistoryIsACopy(t *testing.T) {
	e := NewBandwidthEstimator()
	e.Record(1000, time.Second)

	history := e.History()
	history[0].Bytes = 999999

	assert.Equal(t, uint64(1000), e.History()[0].Bytes, "mutating the returned slice must not affect internal state")
}

func TestMeasurementThroughputBpsZeroDuration(t *testing.T) {
	m := Measurement{Bytes: 1000, Duration: 0}
	assert.Equal(t, 0.0, m.ThroughputBps())
}

func TestMeasurementThroughputBps(t *testing.T) {
	m := Measurement{Bytes: 125_000, Duration: 500 * time.Millisecond}
	assert.InDelta(t, 2_000_000.0, m.ThroughputBps(), 0.001)
}
