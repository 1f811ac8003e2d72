// Package validation screens ESP payload bytes before and alongside the
// randomness battery: per-payload min-entropy estimates (NIST SP 800-90B
// Section 6.3) and continuous health tests on each flow's byte stream
// (NIST SP 800-90B Section 4.4).
package validation

import (
	"math"
)

// zAlpha is the 99% one-sided normal quantile used by the MCV upper bound.
const zAlpha = 2.576

// Estimate is the min-entropy assessment of one payload, in bits per byte.
type Estimate struct {
	MCV             float64
	Collision       float64
	MostCommon      byte
	MostCommonCount int
	Distinct        int
	Samples         int
}

// Conservative returns the lower of the two estimates.
func (e Estimate) Conservative() float64 {
	return min(e.MCV, e.Collision)
}

// EstimateMinEntropy computes both estimators over data. Empty input yields
// the zero Estimate.
func EstimateMinEntropy(data []byte) Estimate {
	if len(data) == 0 {
		return Estimate{}
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	est := Estimate{Samples: len(data)}
	for value, count := range counts {
		if count == 0 {
			continue
		}
		est.Distinct++
		if count > est.MostCommonCount {
			est.MostCommonCount = count
			est.MostCommon = byte(value)
		}
	}
	est.MCV = mcvFromCount(est.MostCommonCount, len(data))
	est.Collision = EstimateCollision(data)
	return est
}

// EstimateMCV estimates min-entropy with the Most Common Value method of
// NIST SP 800-90B Section 6.3.1: -log2 of the 99% upper confidence bound on
// the most common byte's probability. The result lies in [0, 8].
func EstimateMCV(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	maxCount := 0
	for _, b := range data {
		counts[b]++
		maxCount = max(maxCount, counts[b])
	}
	return mcvFromCount(maxCount, len(data))
}

func mcvFromCount(maxCount, n int) float64 {
	if n < 2 {
		return 0
	}
	p := float64(maxCount) / float64(n)
	pu := min(1, p+zAlpha*math.Sqrt(p*(1-p)/float64(n-1)))
	if pu >= 1 {
		return 0
	}
	return min(-math.Log2(pu), 8)
}

// EstimateCollision estimates min-entropy from the mean collision time: data
// is cut into segments that each end at the first repeated byte, and the mean
// segment length t is mapped back to an alphabet size k through the birthday
// bound t ≈ sqrt(πk/2) + 2/3. The result is log2(k) clamped to [0, 8]; input
// without any collision yields 8.
func EstimateCollision(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var (
		seen       [256]bool
		start      int
		collisions int
		total      int
	)
	for i, b := range data {
		if seen[b] {
			collisions++
			total += i - start + 1
			start = i + 1
			seen = [256]bool{}
			continue
		}
		seen[b] = true
	}
	if collisions == 0 {
		return 8
	}

	mean := float64(total) / float64(collisions)
	if mean <= 2 {
		return 0
	}
	k := 2 * (mean - 2.0/3.0) * (mean - 2.0/3.0) / math.Pi
	if k <= 1 {
		return 0
	}
	return min(math.Log2(k), 8)
}
