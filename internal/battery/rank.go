package battery

import (
	"math"

	"github.com/pitonyak/ADPStampInventory/internal/bitseq"
	"github.com/pitonyak/ADPStampInventory/internal/gf2"
)

// rankProbabilities returns the asymptotic probabilities that a random
// square binary matrix has full rank, rank one less than full, or lower.
func rankProbabilities() [3]float64 {
	full := 1.0
	for x := 1; x < 50; x++ {
		full *= 1 - 1/math.Pow(2, float64(x))
	}
	return [3]float64{full, 2 * full, 1 - 3*full}
}

// MatrixRank tests linear dependence among disjoint side*side bit matrices
// (section 2.5). At least one full matrix is required.
func MatrixRank(seq bitseq.Sequence, side int) Outcome {
	if side <= 0 {
		return Skipped
	}
	size := side * side
	count := seq.Len() / size
	if count == 0 {
		return Skipped
	}

	bits := seq.Slice(0, count*size).Bits()
	m := gf2.NewMatrix(side)
	var ranks [3]int
	for k := 0; k < count; k++ {
		m.Load(bits[k*size : (k+1)*size])
		switch r := m.Reduce(); r {
		case side:
			ranks[0]++
		case side - 1:
			ranks[1]++
		default:
			ranks[2]++
		}
	}

	probs := rankProbabilities()
	expected := make([]float64, 3)
	for i, p := range probs {
		expected[i] = p * float64(count)
	}
	chi, ok := chiSquared(ranks[:], expected)
	if !ok {
		return Skipped
	}
	return pvalue(math.Exp(-chi / 2))
}
