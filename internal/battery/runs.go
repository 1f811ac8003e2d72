package battery

import (
	"math"

	"github.com/pitonyak/ADPStampInventory/internal/bitseq"
)

// Runs counts uninterrupted runs of identical bits (section 2.3). When the
// proportion of ones already fails the frequency prerequisite the test
// returns exactly 0, following the NIST reference code.
func Runs(seq bitseq.Sequence) Outcome {
	n := seq.Len()
	if n == 0 {
		return Skipped
	}
	fn := float64(n)
	pi := float64(seq.Ones()) / fn
	tau := 2 / math.Sqrt(fn)
	if math.Abs(pi-0.5) > tau {
		return 0
	}
	den := 2 * math.Sqrt(2*fn) * pi * (1 - pi)
	if den <= 0 {
		return Skipped
	}
	vObs := 1
	for i := 1; i < n; i++ {
		if seq.Bit(i) != seq.Bit(i-1) {
			vObs++
		}
	}
	num := math.Abs(float64(vObs) - 2*fn*pi*(1-pi))
	return erfc(num / den)
}

// longestRunTable holds the category boundaries and probabilities for one
// sequence length regime of the longest run test.
type longestRunTable struct {
	blockSize int
	v         []int
	pi        []float64
}

var (
	longestRunSmall = longestRunTable{
		blockSize: 8,
		v:         []int{1, 2, 3, 4},
		pi:        []float64{0.21484375, 0.3671875, 0.23046875, 0.1875},
	}
	longestRunMedium = longestRunTable{
		blockSize: 128,
		v:         []int{4, 5, 6, 7, 8, 9},
		pi:        []float64{0.1174035788, 0.242955959, 0.249363483, 0.17517706, 0.102701071, 0.112398847},
	}
	longestRunLarge = longestRunTable{
		blockSize: 10000,
		v:         []int{10, 11, 12, 13, 14, 15, 16},
		pi:        []float64{0.0882, 0.2092, 0.2483, 0.1933, 0.1208, 0.0675, 0.0727},
	}
)

// LongestRun tests the longest run of ones within fixed blocks
// (section 2.4). Sequences shorter than 128 bits are skipped.
func LongestRun(seq bitseq.Sequence) Outcome {
	n := seq.Len()
	var tbl longestRunTable
	switch {
	case n < 128:
		return Skipped
	case n < 6272:
		tbl = longestRunSmall
	case n < 75000:
		tbl = longestRunMedium
	default:
		tbl = longestRunLarge
	}

	k := len(tbl.pi) - 1
	m := tbl.blockSize
	blocks := n / m
	freq := make([]int, k+1)
	for b := 0; b < blocks; b++ {
		longest, run := 0, 0
		for i := b * m; i < (b+1)*m; i++ {
			if seq.Bit(i) == 1 {
				run++
				if run > longest {
					longest = run
				}
			} else {
				run = 0
			}
		}
		switch {
		case longest <= tbl.v[0]:
			freq[0]++
		case longest > tbl.v[k-1]:
			freq[k]++
		default:
			freq[longest-tbl.v[0]]++
		}
	}

	expected := make([]float64, k+1)
	for i, p := range tbl.pi {
		expected[i] = float64(blocks) * p
	}
	chi, ok := chiSquared(freq, expected)
	if !ok {
		return Skipped
	}
	return igamc(float64(k)/2, chi/2)
}
