package summary

import (
	"math"
	"sync"

	"github.com/pitonyak/ADPStampInventory/internal/battery"
	"github.com/pitonyak/ADPStampInventory/internal/specfunc"
)

const (
	uniformityBins = 10
	// MinPassRate is the fraction of samples a slot must pass to pass in
	// aggregate.
	MinPassRate = 0.90
)

// AggregatePValue tests the uniformity of pvals with a chi-squared test over
// ten equal-width bins. ok is false for an empty slice.
func AggregatePValue(pvals []float64) (p float64, ok bool) {
	if len(pvals) == 0 {
		return 0, false
	}
	var bins [uniformityBins]int
	for _, v := range pvals {
		idx := int(math.Floor(v * uniformityBins))
		bins[max(0, min(idx, uniformityBins-1))]++
	}
	expected := float64(len(pvals)) / uniformityBins
	chi := 0.0
	for _, c := range bins {
		d := float64(c) - expected
		chi += d * d / expected
	}
	return specfunc.Igamc(float64(uniformityBins-1)/2, chi/2)
}

// PassRate returns the fraction of pvals strictly above confidence, or 0 for
// an empty slice.
func PassRate(pvals []float64, confidence float64) float64 {
	if len(pvals) == 0 {
		return 0
	}
	n := 0
	for _, v := range pvals {
		if v > confidence {
			n++
		}
	}
	return float64(n) / float64(len(pvals))
}

// SlotAggregate is the multi-sample verdict for one slot.
type SlotAggregate struct {
	Slot battery.Slot
	// Samples counts the numeric p-values; Skipped counts samples where the
	// slot was skipped.
	Samples  int
	Skipped  int
	PValue   battery.Outcome
	PassRate float64
	Passed   bool
}

// Classification returns SKIP for a slot without numeric samples and the
// pass-rate verdict otherwise.
func (s SlotAggregate) Classification() Classification {
	switch {
	case s.Samples == 0:
		return Skip
	case s.Passed:
		return Pass
	default:
		return Fail
	}
}

// AggregateSummary holds the per-slot aggregate of every sample added.
type AggregateSummary struct {
	Samples         int
	ConfidenceLevel float64
	Slots           [battery.NumSlots]SlotAggregate
}

// Aggregator accumulates result vectors of one logical data set.
// It is safe for concurrent use.
type Aggregator struct {
	mu         sync.Mutex
	confidence float64
	samples    int
	pvals      [battery.NumSlots][]float64
	skipped    [battery.NumSlots]int
}

// NewAggregator returns an empty Aggregator.
func NewAggregator(confidence float64) *Aggregator {
	return &Aggregator{confidence: confidence}
}

// Add records one result vector. Skipped slots are counted but never enter
// the numeric aggregates.
func (a *Aggregator) Add(rv battery.ResultVector) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples++
	for i, o := range rv {
		if o.IsSkipped() {
			a.skipped[i]++
			continue
		}
		a.pvals[i] = append(a.pvals[i], float64(o))
	}
}

// Len returns the number of vectors added.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.samples
}

// Summary computes the aggregate for every slot.
func (a *Aggregator) Summary() AggregateSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := AggregateSummary{Samples: a.samples, ConfidenceLevel: a.confidence}
	for i := range out.Slots {
		pvals := a.pvals[i]
		agg := SlotAggregate{
			Slot:    battery.Slots[i],
			Samples: len(pvals),
			Skipped: a.skipped[i],
			PValue:  battery.Skipped,
		}
		if p, ok := AggregatePValue(pvals); ok {
			agg.PValue = battery.Outcome(p)
		}
		if len(pvals) > 0 {
			agg.PassRate = PassRate(pvals, a.confidence)
			agg.Passed = agg.PassRate >= MinPassRate
		}
		out.Slots[i] = agg
	}
	return out
}
