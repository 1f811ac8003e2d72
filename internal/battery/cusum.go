package battery

import (
	"math"

	"github.com/pitonyak/ADPStampInventory/internal/bitseq"
	"github.com/pitonyak/ADPStampInventory/internal/specfunc"
)

// Direction selects the walk order of the cumulative sums test.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// String returns "forward" or "backward".
func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// CumulativeSums tests the maximal excursion of the +/-1 random walk
// (section 2.13). Backward walks the reversed sequence.
//
// For very short sequences the series can exceed 1 slightly; the result is
// capped at 1.
func CumulativeSums(seq bitseq.Sequence, dir Direction) Outcome {
	n := seq.Len()
	if n == 0 {
		return Skipped
	}
	s, z := 0, 0
	for i := 0; i < n; i++ {
		idx := i
		if dir == Backward {
			idx = n - 1 - i
		}
		if seq.Bit(idx) == 1 {
			s++
		} else {
			s--
		}
		if abs := max(s, -s); abs > z {
			z = abs
		}
	}

	fn, fz := float64(n), float64(z)
	sq := math.Sqrt(fn)
	end := int(math.Floor((fn/fz - 1) / 4))

	sum1 := 0.0
	for k := int(math.Floor((-fn/fz + 1) / 4)); k <= end; k++ {
		fk := float64(k)
		sum1 += specfunc.NormalCDF((4*fk+1)*fz/sq) - specfunc.NormalCDF((4*fk-1)*fz/sq)
	}
	sum2 := 0.0
	for k := int(math.Floor((-fn/fz - 3) / 4)); k <= end; k++ {
		fk := float64(k)
		sum2 += specfunc.NormalCDF((4*fk+3)*fz/sq) - specfunc.NormalCDF((4*fk+1)*fz/sq)
	}
	p := 1 - sum1 + sum2
	if p > 1 {
		p = 1
	}
	return pvalue(p)
}
