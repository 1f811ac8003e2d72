package battery

import (
	"math"

	"github.com/pitonyak/ADPStampInventory/internal/bitseq"
)

// patternCounts returns how often each k-bit pattern starts at positions
// 0..n-1 of the circular extension ext. ext must hold at least n+k-1 bits.
func patternCounts(ext bitseq.Sequence, n, k int) []int {
	counts := make([]int, 1<<k)
	mask := uint64(1)<<k - 1
	var v uint64
	for i := 0; i < k-1; i++ {
		v = v<<1 | uint64(ext.Bit(i))
	}
	for i := 0; i < n; i++ {
		v = (v<<1 | uint64(ext.Bit(i+k-1))) & mask
		counts[v]++
	}
	return counts
}

// psiSquared is the serial test statistic for k-bit patterns.
func psiSquared(ext bitseq.Sequence, n, k int) float64 {
	if k <= 0 {
		return 0
	}
	sum := 0.0
	for _, c := range patternCounts(ext, n, k) {
		sum += float64(c) * float64(c)
	}
	return sum*math.Pow(2, float64(k))/float64(n) - float64(n)
}

// Serial tests the uniformity of all overlapping m-bit patterns with the
// sequence treated as circular (section 2.11). It returns two p-values.
func Serial(seq bitseq.Sequence, m int) [2]Outcome {
	n := seq.Len()
	if n == 0 || m <= 0 || m > maxPatternBits {
		return [2]Outcome{Skipped, Skipped}
	}
	ext := seq.Wrap(m - 1)
	psiM := psiSquared(ext, n, m)
	psiM1 := psiSquared(ext, n, m-1)
	psiM2 := psiSquared(ext, n, m-2)

	del1 := psiM - psiM1
	del2 := psiM - 2*psiM1 + psiM2
	return [2]Outcome{
		igamc(math.Pow(2, float64(m-1))/2, del1/2),
		igamc(math.Pow(2, float64(m-2))/2, del2/2),
	}
}

// phi is the approximate entropy building block for k-bit patterns.
func phi(ext bitseq.Sequence, n, k int) float64 {
	if k <= 0 {
		return 0
	}
	fn := float64(n)
	sum := 0.0
	for _, c := range patternCounts(ext, n, k) {
		if c > 0 {
			fc := float64(c)
			sum += fc * math.Log(fc/fn)
		}
	}
	return sum / fn
}

// ApproximateEntropy compares the frequencies of overlapping m-bit and
// (m+1)-bit patterns (section 2.12).
func ApproximateEntropy(seq bitseq.Sequence, m int) Outcome {
	n := seq.Len()
	if n == 0 || m <= 0 || m >= maxPatternBits {
		return Skipped
	}
	ext := seq.Wrap(m + 1)
	apen := phi(ext, n, m) - phi(ext, n, m+1)
	chi := 2 * float64(n) * (math.Ln2 - apen)
	return igamc(math.Pow(2, float64(m-1)), chi/2)
}
