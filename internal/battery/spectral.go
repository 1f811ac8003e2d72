package battery

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/pitonyak/ADPStampInventory/internal/bitseq"
)

// Spectral counts discrete Fourier transform peaks of the +/-1 sequence that
// stay below the 95% threshold (section 2.6).
func Spectral(seq bitseq.Sequence) Outcome {
	n := seq.Len()
	if n < 2 {
		return Skipped
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = 2*float64(seq.Bit(i)) - 1
	}
	coeff := fourier.NewFFT(n).Coefficients(nil, x)

	fn := float64(n)
	tau := math.Sqrt(math.Log(1/0.05) * fn)
	below := 0
	for k := 0; k < n/2; k++ {
		if cmplx.Abs(coeff[k]) < tau {
			below++
		}
	}
	n0 := 0.95 * fn / 2
	d := (float64(below) - n0) / math.Sqrt(fn*0.95*0.05/4)
	return erfc(math.Abs(d) / math.Sqrt2)
}
