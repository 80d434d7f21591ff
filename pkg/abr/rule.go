package abr

import (
	"math"

	"github.com/ExpertVagabond/kino/pkg/types"
)

// Context is the decision input passed to a rule on each selection: the
// current bandwidth estimate, buffer occupancy, and any host-supplied
// hints (network override, screen size, bitrate cap, live flag).
type Context struct {
	BandwidthEstimate float64
	BufferLevel       float64
	ScreenWidth       *uint32
	MaxBitrateCap     uint64
	IsLive            bool
}

// Rule picks a rendition given a context and the candidate renditions,
// which are always sorted ascending by bandwidth.
type Rule interface {
	Name() string
	SelectRendition(renditions []types.Rendition, ctx Context) *types.Rendition
}

// effectiveCap folds a zero (unlimited) MaxBitrateCap into +Inf so callers
// can always take the min with a bandwidth budget.
func effectiveCap(cap uint64) float64 {
	if cap == 0 {
		return math.Inf(1)
	}
	return float64(cap)
}

// ThroughputRule picks the highest-bandwidth rendition the estimated
// throughput can sustain, with a safety margin.
type ThroughputRule struct{}

const throughputSafetyFactor = 0.8

func (ThroughputRule) Name() string { return "throughput" }

func (r ThroughputRule) SelectRendition(renditions []types.Rendition, ctx Context) *types.Rendition {
	if len(renditions) == 0 {
		return nil
	}

	budget := throughputSafetyFactor * ctx.BandwidthEstimate
	cap := math.Min(budget, effectiveCap(ctx.MaxBitrateCap))

	var best *types.Rendition
	for i := range renditions {
		rend := &renditions[i]
		if float64(rend.Bandwidth) > cap {
			continue
		}
		if ctx.ScreenWidth != nil && rend.Resolution != nil && rend.Resolution.Width > *ctx.ScreenWidth {
			continue
		}
		if best == nil || rend.Bandwidth > best.Bandwidth {
			best = rend
		}
	}

	if best == nil {
		return &renditions[0]
	}
	return best
}

// BolaRule is the buffer-occupancy Lyapunov rule: it trades decode
// utility (log bandwidth) against buffer drain rather than chasing raw
// throughput.
type BolaRule struct{}

const (
	bolaV         = 0.93
	bolaGamma     = 5.0
	bolaBufferMin = 5.0
)

func (BolaRule) Name() string { return "bola" }

func (r BolaRule) SelectRendition(renditions []types.Rendition, ctx Context) *types.Rendition {
	if len(renditions) == 0 {
		return nil
	}

	if ctx.BufferLevel < bolaBufferMin {
		return &renditions[0]
	}

	cap := effectiveCap(ctx.MaxBitrateCap)

	var best *types.Rendition
	var bestScore float64
	for i := range renditions {
		rend := &renditions[i]
		if float64(rend.Bandwidth) > cap {
			continue
		}
		utility := math.Log(float64(rend.Bandwidth))
		score := (bolaV*utility - ctx.BufferLevel) / (float64(rend.Bandwidth)/1e6 + bolaGamma)
		if best == nil || score > bestScore {
			best = rend
			bestScore = score
		}
	}

	if best == nil {
		return &renditions[0]
	}
	return best
}

// HybridRule blends the throughput and BOLA picks: BOLA governs when the
// buffer is thin, throughput governs when it is safely ahead and would
// pick conservatively, and otherwise the two picks are averaged by index.
type HybridRule struct {
	throughput ThroughputRule
	bola       BolaRule
}

const hybridBufferThreshold = 10.0

func (HybridRule) Name() string { return "hybrid" }

func (r HybridRule) SelectRendition(renditions []types.Rendition, ctx Context) *types.Rendition {
	if len(renditions) == 0 {
		return nil
	}

	t := r.throughput.SelectRendition(renditions, ctx)
	b := r.bola.SelectRendition(renditions, ctx)

	if ctx.BufferLevel < hybridBufferThreshold {
		return b
	}
	if t.Bandwidth <= b.Bandwidth {
		return t
	}

	tIdx, bIdx := indexOf(renditions, t), indexOf(renditions, b)
	mid := (tIdx + bIdx) / 2
	return &renditions[mid]
}

func indexOf(renditions []types.Rendition, r *types.Rendition) int {
	for i := range renditions {
		if renditions[i].ID == r.ID {
			return i
		}
	}
	return 0
}
