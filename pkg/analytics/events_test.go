package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExpertVagabond/kino/pkg/logger"
	"github.com/ExpertVagabond/kino/pkg/types"
)

func TestQoePerfect(t *testing.T) {
	calc := NewQoeCalculator()
	assert.Equal(t, 100.0, calc.CalculateQoE())
}

func TestQoeWithRebuffers(t *testing.T) {
	calc := NewQoeCalculator()
	calc.RecordRebuffer(1.0)
	calc.RecordRebuffer(2.0)

	// 100 - 2*10 - 3*5 = 65
	assert.InDelta(t, 65.0, calc.CalculateQoE(), 0.1)
}

func TestQoeWithInitialBuffer(t *testing.T) {
	calc := NewQoeCalculator()
	calc.RecordInitialBuffer(5.0) // 3 seconds over threshold

	// 100 - 3*5 = 85
	assert.InDelta(t, 85.0, calc.CalculateQoE(), 0.1)
}

func TestQoeBitrateBonusClamps(t *testing.T) {
	calc := NewQoeCalculator()
	calc.RecordBitrate(10.0, 6_000_000)
	assert.Equal(t, 100.0, calc.CalculateQoE())
}

func TestQoeBreakdown(t *testing.T) {
	calc := NewQoeCalculator()
	calc.RecordRebuffer(1.0)
	calc.RecordQualitySwitch()
	calc.RecordBitrate(5.0, 3_000_000)

	b := calc.Breakdown()
	assert.Equal(t, uint32(1), b.RebufferCount)
	assert.Equal(t, uint32(1), b.QualitySwitches)
	assert.Equal(t, uint64(3_000_000), b.AverageBitrate)
}

func TestEmitterSequenceIncreasesMonotonically(t *testing.T) {
	e := NewEmitter(types.NewSessionID(), logger.NewDefaultLogger(logger.InfoLevel, "json"))
	defer e.Close()

	e.Emit(PlayEvent{Position: 0})
	e.Emit(PauseEvent{Position: 1.5})

	events := e.Events()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Sequence)
	assert.Equal(t, uint64(2), events[1].Sequence)
}

func TestEmitterFlushesOldestHalfOnOverflow(t *testing.T) {
	e := NewEmitter(types.NewSessionID(), logger.NewDefaultLogger(logger.InfoLevel, "json"))
	defer e.Close()
	e.maxBufferSize = 10

	for i := 0; i < 10; i++ {
		e.Emit(HeartbeatEvent{Position: float64(i)})
	}

	// Oldest half (5 records) flushed out of the buffer; 5 remain.
	remaining := e.Events()
	require.Len(t, remaining, 5)
	assert.Equal(t, uint64(6), remaining[0].Sequence)
}
