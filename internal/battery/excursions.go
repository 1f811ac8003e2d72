package battery

import (
	"math"

	"github.com/pitonyak/ADPStampInventory/internal/bitseq"
)

const (
	excursionStates = 8
	variantStates   = 18
	// excursionVisitBins bins per-cycle visit counts as 0..4 and 5+.
	excursionVisitBins = 6
)

// ExcursionStates lists the random walk states reported by RandomExcursions.
var ExcursionStates = [excursionStates]int{-4, -3, -2, -1, 1, 2, 3, 4}

// VariantStates lists the states reported by RandomExcursionsVariant.
var VariantStates = [variantStates]int{-9, -8, -7, -6, -5, -4, -3, -2, -1, 1, 2, 3, 4, 5, 6, 7, 8, 9}

// walk returns the partial sums of the +/-1 random walk.
func walk(seq bitseq.Sequence) []int {
	out := make([]int, seq.Len())
	s := 0
	for i := range out {
		if seq.Bit(i) == 1 {
			s++
		} else {
			s--
		}
		out[i] = s
	}
	return out
}

// cycleCount is the number of zero-delimited cycles of the walk. A final
// partial cycle counts when the walk does not end at zero.
func cycleCount(zeros int, final int) int {
	if final != 0 {
		return zeros + 1
	}
	return zeros
}

// visitProbability is the probability that a cycle visits state x exactly k
// times, with k = 5 meaning five or more.
func visitProbability(k, x int) float64 {
	ax := math.Abs(float64(x))
	q := 1 - 1/(2*ax)
	switch {
	case k == 0:
		return q
	case k >= 5:
		return 1 / (2 * ax) * math.Pow(q, 4)
	default:
		return 1 / (4 * ax * ax) * math.Pow(q, float64(k-1))
	}
}

func fillSkipped(out []Outcome) {
	for i := range out {
		out[i] = Skipped
	}
}

// RandomExcursions tests the number of visits to states -4..4 within each
// cycle of the random walk (section 2.14). A walk that never returns to zero
// yields all slots skipped.
func RandomExcursions(seq bitseq.Sequence) [excursionStates]Outcome {
	var out [excursionStates]Outcome
	w := walk(seq)
	if len(w) == 0 {
		fillSkipped(out[:])
		return out
	}

	// visits[c][s] counts visits of cycle c to ExcursionStates[s].
	var visits [][excursionStates]int
	var current [excursionStates]int
	for _, v := range w {
		if v == 0 {
			visits = append(visits, current)
			current = [excursionStates]int{}
			continue
		}
		if idx := excursionIndex(v); idx >= 0 {
			current[idx]++
		}
	}
	if len(visits) == 0 {
		fillSkipped(out[:])
		return out
	}
	if w[len(w)-1] != 0 {
		visits = append(visits, current)
	}
	j := float64(len(visits))

	for s, x := range ExcursionStates {
		observed := make([]int, excursionVisitBins)
		for _, c := range visits {
			observed[min(c[s], excursionVisitBins-1)]++
		}
		expected := make([]float64, excursionVisitBins)
		for k := range expected {
			expected[k] = j * visitProbability(k, x)
		}
		chi, ok := chiSquared(observed, expected)
		if !ok {
			out[s] = Skipped
			continue
		}
		out[s] = igamc(float64(excursionVisitBins-1)/2, chi/2)
	}
	return out
}

func excursionIndex(v int) int {
	switch {
	case v >= -4 && v <= -1:
		return v + 4
	case v >= 1 && v <= 4:
		return v + 3
	}
	return -1
}

// RandomExcursionsVariant compares the total number of visits to states
// -9..9 against the number of cycles (section 2.15). A walk that never
// returns to zero yields all slots skipped.
func RandomExcursionsVariant(seq bitseq.Sequence) [variantStates]Outcome {
	var out [variantStates]Outcome
	w := walk(seq)
	zeros := 0
	var visits [2*9 + 1]int
	for _, v := range w {
		if v == 0 {
			zeros++
		} else if v >= -9 && v <= 9 {
			visits[v+9]++
		}
	}
	if zeros == 0 {
		fillSkipped(out[:])
		return out
	}
	j := float64(cycleCount(zeros, w[len(w)-1]))

	for i, x := range VariantStates {
		ax := math.Abs(float64(x))
		den := math.Sqrt(2 * j * (4*ax - 2))
		if !(den > 0) {
			out[i] = Skipped
			continue
		}
		out[i] = erfc(math.Abs(float64(visits[x+9])-j) / den)
	}
	return out
}
