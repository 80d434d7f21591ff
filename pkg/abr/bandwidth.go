// Package abr implements the adaptive bitrate engine: bandwidth
// estimation, the pluggable Throughput/BOLA/Hybrid rules, and the
// oscillation damper that sits in front of all three.
package abr

import "time"

// maxHistory bounds the throughput sample ring (invariant 6 of the data
// model: the ABR throughput history holds at most this many samples).
const maxHistory = 20

// ewmaAlpha is the EWMA smoothing factor for the running bandwidth estimate.
const ewmaAlpha = 0.2

// Measurement is one throughput sample.
type Measurement struct {
	Bytes    uint64
	Duration time.Duration
}

// ThroughputBps returns the instantaneous bits-per-second rate.
func (m Measurement) ThroughputBps() float64 {
	secs := m.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return 8 * float64(m.Bytes) / secs
}

// BandwidthEstimator tracks a bounded ring of throughput samples and an
// EWMA estimate of the current bandwidth.
type BandwidthEstimator struct {
	history  []Measurement
	estimate float64
	seeded   bool
}

// NewBandwidthEstimator creates an estimator with no samples recorded yet.
func NewBandwidthEstimator() *BandwidthEstimator {
	return &BandwidthEstimator{
		history: make([]Measurement, 0, maxHistory),
	}
}

// Record pushes a new sample into the ring (dropping the oldest once full)
// and updates the EWMA estimate. The very first sample seeds the estimate
// exactly, so ABR does not default to the lowest rendition for the first
// several fetches.
func (e *BandwidthEstimator) Record(bytes uint64, duration time.Duration) {
	sample := Measurement{Bytes: bytes, Duration: duration}

	if len(e.history) >= maxHistory {
		e.history = e.history[1:]
	}
	e.history = append(e.history, sample)

	sampleBps := sample.ThroughputBps()
	if !e.seeded {
		e.estimate = sampleBps
		e.seeded = true
		return
	}
	e.estimate = (1-ewmaAlpha)*e.estimate + ewmaAlpha*sampleBps
}

// Estimate returns the current bandwidth estimate in bits per second.
func (e *BandwidthEstimator) Estimate() float64 {
	return e.estimate
}

// History returns a copy of the recorded samples, oldest first.
func (e *BandwidthEstimator) History() []Measurement {
	out := make([]Measurement, len(e.history))
	copy(out, e.history)
	return out
}
