// Package tier maps scores to discrete power tiers using percentile cuts
// over the live score distribution.
package tier

import (
	"cmp"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"kvk-tracker/internal/domain"
)

const (
	MethodPercentile = "percentile"
	MethodFixed      = "fixed"
)

// Band is the cumulative population share a tier covers from the top.
type Band struct {
	Tier     domain.Tier
	Fraction float64
}

// DefaultBands: top 3% S, top 10% A, top 25% B, top 50% C, rest D.
var DefaultBands = []Band{
	{domain.TierS, 0.03},
	{domain.TierA, 0.10},
	{domain.TierB, 0.25},
	{domain.TierC, 0.50},
}

// FixedCuts is used while there is no scored population.
var FixedCuts = []domain.ThresholdCut{
	{Tier: domain.TierS, MinScore: 12},
	{Tier: domain.TierA, MinScore: 10},
	{Tier: domain.TierB, MinScore: 8},
	{Tier: domain.TierC, MinScore: 6},
	{Tier: domain.TierD, MinScore: 0},
}

// FixedThresholds returns the fixed snapshot.
func FixedThresholds() domain.TierThresholds {
	return domain.TierThresholds{
		Method: MethodFixed,
		Cuts:   slices.Clone(FixedCuts),
	}
}

// ComputeThresholds derives cuts from scores. The cut for a band with
// cumulative fraction p is the score ranked ceil(n*p) from the top, so the
// entity sitting on the boundary belongs to the higher tier.
func ComputeThresholds(scores []float64, now time.Time) domain.TierThresholds {
	live := make([]float64, 0, len(scores))
	for _, s := range scores {
		if !math.IsNaN(s) {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		t := FixedThresholds()
		t.ComputedAt = now
		return t
	}

	slices.SortFunc(live, func(a, b float64) int { return cmp.Compare(b, a) })
	n := len(live)

	cuts := make([]domain.ThresholdCut, 0, len(DefaultBands)+1)
	for _, band := range DefaultBands {
		// epsilon absorbs float error in n*fraction
		rank := int(math.Ceil(float64(n)*band.Fraction - 1e-9))
		rank = min(max(rank, 1), n)
		minScore := live[rank-1]
		if len(cuts) > 0 {
			minScore = min(minScore, cuts[len(cuts)-1].MinScore)
		}
		cuts = append(cuts, domain.ThresholdCut{Tier: band.Tier, MinScore: minScore})
	}
	// lowest tier starts at the weakest live score; anything below still
	// classifies as D
	cuts = append(cuts, domain.ThresholdCut{
		Tier:     domain.TierD,
		MinScore: min(live[n-1], cuts[len(cuts)-1].MinScore),
	})

	return domain.TierThresholds{
		Method:     MethodPercentile,
		Population: n,
		Cuts:       cuts,
		ComputedAt: now,
	}
}

// Classify returns the first tier whose inclusive minimum the score meets.
// Scores below every cut fall into the lowest tier.
func Classify(score float64, t domain.TierThresholds) domain.Tier {
	for _, cut := range t.Cuts {
		if score >= cut.MinScore {
			return cut.Tier
		}
	}
	return domain.TierD
}

// Holder publishes the current snapshot to concurrent readers. Readers keep
// seeing the previous snapshot until Store swaps in a new one.
type Holder struct {
	current atomic.Pointer[domain.TierThresholds]
}

func NewHolder() *Holder {
	h := &Holder{}
	fixed := FixedThresholds()
	h.current.Store(&fixed)
	return h
}

// Load returns a copy of the current snapshot.
func (h *Holder) Load() domain.TierThresholds {
	t := *h.current.Load()
	t.Cuts = slices.Clone(t.Cuts)
	return t
}

func (h *Holder) Store(t domain.TierThresholds) {
	t.Cuts = slices.Clone(t.Cuts)
	h.current.Store(&t)
}

func (h *Holder) Classify(score float64) domain.Tier {
	return Classify(score, *h.current.Load())
}
