package battery

import (
	"errors"
	"fmt"
	"math"

	"github.com/pitonyak/ADPStampInventory/internal/bitseq"
	"github.com/pitonyak/ADPStampInventory/internal/specfunc"
)

// nonOverlappingBlocks is the number of blocks the sequence is split into by
// the non-overlapping template test.
const nonOverlappingBlocks = 8

// overlappingCategories is the number of hit count bins (0..4 and 5+).
const overlappingCategories = 6

func parseTemplate(s string) ([]uint8, error) {
	if s == "" {
		return nil, errors.New("template must not be empty")
	}
	seq, err := bitseq.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", s, err)
	}
	if seq.Len() == 0 || seq.Len() > 64 {
		return nil, fmt.Errorf("template %q must hold 1 to 64 bits", s)
	}
	return seq.Bits(), nil
}

// matchAt reports whether template occurs in seq starting at i.
func matchAt(seq bitseq.Sequence, i int, template []uint8) bool {
	for k, b := range template {
		if seq.Bit(i+k) != b {
			return false
		}
	}
	return true
}

// NonOverlappingTemplate counts occurrences of template in each of blocks
// equal parts of seq (section 2.7). After a match the window jumps past it.
func NonOverlappingTemplate(seq bitseq.Sequence, template []uint8, blocks int) Outcome {
	m := len(template)
	if m == 0 || blocks <= 0 {
		return Skipped
	}
	blockSize := seq.Len() / blocks
	counts := make([]int, blocks)
	for b := 0; b < blocks; b++ {
		start := b * blockSize
		for j := 0; j+m <= blockSize; {
			if matchAt(seq, start+j, template) {
				counts[b]++
				j += m
			} else {
				j++
			}
		}
	}

	pow := math.Pow(2, float64(m))
	mean := float64(blockSize-m+1) / pow
	variance := float64(blockSize) * (1/pow - float64(2*m-1)/(pow*pow))
	if !(variance > 0) {
		return Skipped
	}
	chi := 0.0
	for _, c := range counts {
		d := float64(c) - mean
		chi += d * d / variance
	}
	return igamc(float64(blocks)/2, chi/2)
}

// overlappingProbability returns the probability that a block holds exactly u
// overlapping hits of an all-ones template, for u < 5.
func overlappingProbability(u int, eta float64) (float64, bool) {
	if u == 0 {
		return math.Exp(-eta), true
	}
	h, ok := specfunc.Hyp1F1(float64(u+1), 2, eta)
	if !ok {
		return 0, false
	}
	return eta * math.Exp(-2*eta) * math.Pow(2, -float64(u)) * h, true
}

// OverlappingTemplate counts overlapping occurrences of an all-ones pattern
// of patternLen bits in disjoint blocks of blockSize bits (section 2.8).
func OverlappingTemplate(seq bitseq.Sequence, patternLen, blockSize int) Outcome {
	if patternLen <= 0 || blockSize <= 0 {
		return Skipped
	}
	blocks := seq.Len() / blockSize
	if blocks == 0 {
		return Skipped
	}

	lambda := float64(blockSize-patternLen+1) / math.Pow(2, float64(patternLen))
	eta := lambda / 2
	probs := make([]float64, overlappingCategories)
	rest := 1.0
	for u := 0; u < overlappingCategories-1; u++ {
		p, ok := overlappingProbability(u, eta)
		if !ok {
			return Skipped
		}
		probs[u] = p
		rest -= p
	}
	probs[overlappingCategories-1] = rest

	counts := make([]int, overlappingCategories)
	for b := 0; b < blocks; b++ {
		start := b * blockSize
		hits, run := 0, 0
		for i := start; i < start+blockSize; i++ {
			if seq.Bit(i) == 1 {
				run++
				if run >= patternLen {
					hits++
				}
			} else {
				run = 0
			}
		}
		counts[min(hits, overlappingCategories-1)]++
	}

	expected := make([]float64, overlappingCategories)
	for i, p := range probs {
		expected[i] = float64(blocks) * p
	}
	chi, ok := chiSquared(counts, expected)
	if !ok {
		return Skipped
	}
	return igamc(float64(overlappingCategories-1)/2, chi/2)
}
