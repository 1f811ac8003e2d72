package battery

import (
	"math"

	"github.com/pitonyak/ADPStampInventory/internal/bitseq"
)

// universalThresholds maps the minimum sequence length to the block length L.
var universalThresholds = []struct {
	minBits int
	l       int
}{
	{387840, 6},
	{904960, 7},
	{2068480, 8},
	{4654080, 9},
	{10342400, 10},
	{22753280, 11},
	{49643520, 12},
	{107560960, 13},
	{231669760, 14},
	{496435200, 15},
	{1059061760, 16},
}

// Expected value and variance of the test statistic indexed by L.
var (
	universalExpected = [17]float64{
		0, 0, 0, 0, 0, 0,
		5.2177052, 6.1962507, 7.1836656, 8.1764248, 9.1723243,
		10.170032, 11.168765, 12.168070, 13.167693, 14.167488, 15.167379,
	}
	universalVariance = [17]float64{
		0, 0, 0, 0, 0, 0,
		2.954, 3.125, 3.238, 3.311, 3.356, 3.384, 3.401, 3.410, 3.416, 3.419, 3.421,
	}
)

// Universal is Maurer's universal statistical test (section 2.9). The block
// length L is derived from the sequence length; sequences too short for
// L >= 6 are skipped.
func Universal(seq bitseq.Sequence) Outcome {
	n := seq.Len()
	l := 5
	for _, th := range universalThresholds {
		if n >= th.minBits {
			l = th.l
		}
	}
	if l <= 5 || l >= 16 {
		return Skipped
	}

	blocks := n / l
	q := 10 * (1 << l)
	k := blocks - q
	if k <= 0 {
		return Skipped
	}

	fl, fk := float64(l), float64(k)
	c := 0.7 - 0.8/fl + (4+32/fl)*math.Pow(fk, -3/fl)/15
	sigma := c * math.Sqrt(universalVariance[l]/fk)
	if !(sigma > 0) {
		return Skipped
	}

	last := make([]int, 1<<l)
	sum := 0.0
	for i := 0; i < blocks; i++ {
		v := seq.Window(i*l, l)
		if i >= q {
			sum += math.Log2(float64(i - last[v] + 1))
		}
		last[v] = i + 1
	}
	phi := sum / fk
	return erfc(math.Abs(phi-universalExpected[l]) / (math.Sqrt2 * sigma))
}
