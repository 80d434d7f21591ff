package abr

import (
	"sync"
	"time"

	"github.com/ExpertVagabond/kino/pkg/types"
)

// oscillationThreshold is how many consecutive different selections a
// rule must return before the engine commits to the change.
const oscillationThreshold = 3

// Engine holds the bandwidth estimator, the active rule, and the
// oscillation damper sitting in front of rule output.
type Engine struct {
	mu sync.Mutex

	estimator *BandwidthEstimator
	rule      Rule

	lastSelectionIndex int
	haveSelection      bool
	stabilityCounter   int
}

// NewEngine creates an engine running the given rule.
func NewEngine(rule Rule) *Engine {
	return &Engine{
		estimator: NewBandwidthEstimator(),
		rule:      rule,
	}
}

// NewEngineForAlgorithm resolves a configured algorithm name to a Rule.
// AbrMl has no model-based implementation in this library and falls back
// to the throughput rule, per the external interface contract.
func NewEngineForAlgorithm(algo types.AbrAlgorithm) *Engine {
	var rule Rule
	switch algo {
	case types.AbrThroughput, types.AbrMl:
		rule = ThroughputRule{}
	case types.AbrHybrid:
		rule = HybridRule{}
	case types.AbrBola:
		rule = BolaRule{}
	default:
		rule = BolaRule{}
	}
	return NewEngine(rule)
}

// RecordMeasurement folds a completed segment fetch into the bandwidth
// estimate.
func (e *Engine) RecordMeasurement(bytes uint64, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.estimator.Record(bytes, duration)
}

// BandwidthEstimate returns the current EWMA bandwidth estimate.
func (e *Engine) BandwidthEstimate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimator.Estimate()
}

// SelectRendition runs the active rule and passes its output through the
// oscillation damper. It returns nil for an empty rendition slice and
// otherwise always returns a pointer into renditions.
func (e *Engine) SelectRendition(renditions []types.Rendition, hint Context) *types.Rendition {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(renditions) == 0 {
		return nil
	}

	ctx := hint
	if ctx.BandwidthEstimate == 0 {
		ctx.BandwidthEstimate = e.estimator.Estimate()
	}

	picked := e.rule.SelectRendition(renditions, ctx)
	pickedIdx := indexOf(renditions, picked)

	if !e.haveSelection {
		e.lastSelectionIndex = pickedIdx
		e.haveSelection = true
		e.stabilityCounter = 0
		return &renditions[pickedIdx]
	}

	if pickedIdx == e.lastSelectionIndex {
		e.stabilityCounter = 0
		return &renditions[e.lastSelectionIndex]
	}

	e.stabilityCounter++
	if e.stabilityCounter < oscillationThreshold {
		return &renditions[e.lastSelectionIndex]
	}

	e.lastSelectionIndex = pickedIdx
	e.stabilityCounter = 0
	return &renditions[pickedIdx]
}

// RuleName returns the active rule's name.
func (e *Engine) RuleName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rule.Name()
}
