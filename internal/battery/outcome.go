package battery

import (
	"math"

	"github.com/pitonyak/ADPStampInventory/internal/specfunc"
)

// clampSlack is the largest excursion outside [0, 1] treated as rounding
// noise rather than a numerically unstable result.
const clampSlack = 1e-9

// pvalue converts a computed probability into an Outcome, mapping NaN,
// infinities and clear range violations to Skipped.
func pvalue(p float64) Outcome {
	switch {
	case math.IsNaN(p) || math.IsInf(p, 0):
		return Skipped
	case p < 0:
		if p < -clampSlack {
			return Skipped
		}
		return 0
	case p > 1:
		if p > 1+clampSlack {
			return Skipped
		}
		return 1
	}
	return Outcome(p)
}

// igamc is the Outcome form of the regularized upper incomplete gamma.
func igamc(a, x float64) Outcome {
	q, ok := specfunc.Igamc(a, x)
	if !ok {
		return Skipped
	}
	return pvalue(q)
}

// erfc is the Outcome form of the complementary error function.
func erfc(x float64) Outcome {
	return pvalue(specfunc.Erfc(x))
}

// chiSquared sums (observed-expected)^2/expected over the bins. ok is false
// when an expected count is not positive.
func chiSquared(observed []int, expected []float64) (float64, bool) {
	chi := 0.0
	for i, o := range observed {
		e := expected[i]
		if !(e > 0) {
			return 0, false
		}
		d := float64(o) - e
		chi += d * d / e
	}
	return chi, true
}
