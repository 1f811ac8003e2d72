package battery

import (
	"math"

	"github.com/pitonyak/ADPStampInventory/internal/bitseq"
)

// Monobit tests whether ones and zeros are equally frequent over the whole
// sequence (SP 800-22 section 2.1).
func Monobit(seq bitseq.Sequence) Outcome {
	n := seq.Len()
	if n == 0 {
		return Skipped
	}
	s := float64(2*seq.Ones() - n)
	sObs := math.Abs(s) / math.Sqrt(float64(n))
	return erfc(sObs / math.Sqrt2)
}

// BlockFrequency tests the proportion of ones within disjoint blocks of
// blockSize bits (section 2.2). The trailing partial block is discarded.
func BlockFrequency(seq bitseq.Sequence, blockSize int) Outcome {
	if blockSize <= 0 {
		return Skipped
	}
	blocks := seq.Len() / blockSize
	if blocks == 0 {
		return Skipped
	}
	sum := 0.0
	for b := 0; b < blocks; b++ {
		pi := float64(seq.Slice(b*blockSize, (b+1)*blockSize).Ones()) / float64(blockSize)
		sum += (pi - 0.5) * (pi - 0.5)
	}
	chi := 4 * float64(blockSize) * sum
	return igamc(float64(blocks)/2, chi/2)
}
