// Package summary classifies battery results and aggregates them across
// samples.
package summary

import (
	"github.com/pitonyak/ADPStampInventory/internal/battery"
)

// Classification is the verdict for one slot.
type Classification int

const (
	Pass Classification = iota
	Fail
	Skip
)

// String returns PASS, FAIL or SKIP.
func (c Classification) String() string {
	switch c {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	default:
		return "SKIP"
	}
}

// Classify compares o against the confidence level.
func Classify(o battery.Outcome, confidence float64) Classification {
	switch {
	case o.IsSkipped():
		return Skip
	case float64(o) >= confidence:
		return Pass
	default:
		return Fail
	}
}

// SampleSummary is the result record of one buffer.
type SampleSummary struct {
	// PercentPassed is Passed / (slots - Skipped), or 0 when every slot skipped.
	PercentPassed   float64
	Passed          int
	Skipped         int
	Failed          int
	ConfidenceLevel float64
	Results         battery.ResultVector
}

// Summarize counts the verdicts of rv.
func Summarize(rv battery.ResultVector, confidence float64) SampleSummary {
	s := SampleSummary{ConfidenceLevel: confidence, Results: rv}
	for _, o := range rv {
		switch Classify(o, confidence) {
		case Pass:
			s.Passed++
		case Fail:
			s.Failed++
		default:
			s.Skipped++
		}
	}
	if applicable := battery.NumSlots - s.Skipped; applicable > 0 {
		s.PercentPassed = float64(s.Passed) / float64(applicable)
	}
	return s
}

// Verdicts returns the classification of every slot.
func (s SampleSummary) Verdicts() [battery.NumSlots]Classification {
	var out [battery.NumSlots]Classification
	for i, o := range s.Results {
		out[i] = Classify(o, s.ConfidenceLevel)
	}
	return out
}
