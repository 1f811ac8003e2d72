package battery

import (
	"math"

	"github.com/pitonyak/ADPStampInventory/internal/bitseq"
	"github.com/pitonyak/ADPStampInventory/internal/lfsr"
)

// linearComplexityProbs are the category probabilities, from T >= 2.5 down
// to T < -2.5.
var linearComplexityProbs = []float64{0.01047, 0.03125, 0.125, 0.5, 0.25, 0.0625, 0.020833}

// linearComplexityEdges split T into seven categories.
var linearComplexityEdges = []float64{-2.5, -1.5, -0.5, 0.5, 1.5, 2.5}

// LinearComplexity tests the length of the shortest LFSR generating each
// disjoint block of blockSize bits (section 2.10). At least two blocks are
// required.
func LinearComplexity(seq bitseq.Sequence, blockSize int) Outcome {
	if blockSize <= 0 {
		return Skipped
	}
	blocks := seq.Len() / blockSize
	if blocks <= 1 {
		return Skipped
	}

	fm := float64(blockSize)
	sign := 1.0
	if blockSize%2 == 1 {
		sign = -1.0
	}
	// (-1)^(M+1) is -sign.
	mean := fm/2 + (9-sign)/36 - (fm/3+2.0/9)/math.Pow(2, fm)

	bits := seq.Slice(0, blocks*blockSize).Bits()
	r := lfsr.NewReconstructor(blockSize)
	counts := make([]int, len(linearComplexityProbs))
	last := len(counts) - 1
	for b := 0; b < blocks; b++ {
		l := r.Complexity(bits[b*blockSize : (b+1)*blockSize])
		t := -(sign*(float64(l)-mean) + 2.0/9)
		bin := 0
		for _, edge := range linearComplexityEdges {
			if t >= edge {
				bin++
			}
		}
		counts[last-bin]++
	}

	expected := make([]float64, len(counts))
	for i, p := range linearComplexityProbs {
		expected[i] = float64(blocks) * p
	}
	chi, ok := chiSquared(counts, expected)
	if !ok {
		return Skipped
	}
	return igamc(3, chi/2)
}
