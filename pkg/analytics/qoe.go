package analytics

import "sync"

// bitrateSample is a (duration, bitrate) pair used to weight the
// average-bitrate term of the QoE score.
type bitrateSample struct {
	duration float64
	bitrate  uint64
}

// QoeCalculator accumulates playback telemetry and scores it with the
// deterministic QoE formula. All methods are safe for concurrent use.
type QoeCalculator struct {
	mu sync.Mutex

	initialBufferTime float64
	rebufferCount     uint32
	rebufferDuration  float64
	qualitySwitches   int
	bitrateSamples    []bitrateSample
}

// NewQoeCalculator returns a calculator with no recorded samples, which
// scores a perfect 100.
func NewQoeCalculator() *QoeCalculator {
	return &QoeCalculator{}
}

// RecordInitialBuffer records the time spent buffering before first play.
func (q *QoeCalculator) RecordInitialBuffer(duration float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.initialBufferTime = duration
}

// RecordRebuffer records one rebuffering episode and its duration.
func (q *QoeCalculator) RecordRebuffer(duration float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rebufferCount++
	q.rebufferDuration += duration
}

// RecordQualitySwitch records one ABR-driven or manual rendition change.
func (q *QoeCalculator) RecordQualitySwitch() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.qualitySwitches++
}

// RecordBitrate records a played segment's bitrate weighted by its
// playback duration.
func (q *QoeCalculator) RecordBitrate(duration float64, bitrate uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bitrateSamples = append(q.bitrateSamples, bitrateSample{duration: duration, bitrate: bitrate})
}

// CalculateQoE scores the session from 0 to 100, per the formula: start
// at 100, penalize startup delay beyond 2s, penalize every rebuffer and
// every second spent rebuffering, penalize quality switches, and
// reward a high time-weighted average bitrate.
func (q *QoeCalculator) CalculateQoE() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calculateLocked()
}

func (q *QoeCalculator) calculateLocked() float64 {
	score := 100.0

	if q.initialBufferTime > 2.0 {
		score -= (q.initialBufferTime - 2.0) * 5.0
	}

	score -= float64(q.rebufferCount) * 10.0
	score -= q.rebufferDuration * 5.0
	score -= float64(q.qualitySwitches) * 2.0

	avg := q.averageBitrateLocked()
	switch {
	case avg > 5_000_000:
		score += 5.0
	case avg > 2_000_000:
		score += 2.0
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func (q *QoeCalculator) averageBitrateLocked() uint64 {
	if len(q.bitrateSamples) == 0 {
		return 0
	}

	var totalDuration, weightedSum float64
	for _, s := range q.bitrateSamples {
		totalDuration += s.duration
		weightedSum += s.duration * float64(s.bitrate)
	}
	if totalDuration == 0 {
		return 0
	}
	return uint64(weightedSum / totalDuration)
}

// QoeBreakdown is the scored session alongside the raw inputs that
// produced it.
type QoeBreakdown struct {
	Score             float64
	InitialBufferTime float64
	RebufferCount     uint32
	RebufferDuration  float64
	QualitySwitches   uint32
	AverageBitrate    uint64
}

// Breakdown returns the full scored breakdown in one atomic read.
func (q *QoeCalculator) Breakdown() QoeBreakdown {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QoeBreakdown{
		Score:             q.calculateLocked(),
		InitialBufferTime: q.initialBufferTime,
		RebufferCount:     q.rebufferCount,
		RebufferDuration:  q.rebufferDuration,
		QualitySwitches:   uint32(q.qualitySwitches),
		AverageBitrate:    q.averageBitrateLocked(),
	}
}
