// Package specfunc wraps the special functions the randomness tests derive
// p-values from. Every function reports whether its result is a usable finite
// number instead of panicking or returning NaN.
package specfunc

import (
	"math"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

// roundingSlack absorbs floating point noise that pushes a statistic a hair
// below zero.
const roundingSlack = 1e-9

// Igamc returns the regularized upper incomplete gamma function Q(a, x).
// ok is false when a <= 0, x < 0 beyond rounding noise, or either argument
// is not a number.
func Igamc(a, x float64) (q float64, ok bool) {
	if math.IsNaN(a) || math.IsNaN(x) || math.IsInf(a, 0) || a <= 0 {
		return 0, false
	}
	if x < 0 {
		if x < -roundingSlack {
			return 0, false
		}
		x = 0
	}
	if x == 0 {
		return 1, true
	}
	if math.IsInf(x, 1) {
		return 0, true
	}
	q = mathext.GammaIncRegComp(a, x)
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return 0, false
	}
	return q, true
}

// Erfc returns the complementary error function.
func Erfc(x float64) float64 {
	return math.Erfc(x)
}

// NormalCDF returns the standard normal cumulative distribution at x.
func NormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

const (
	hypMaxTerms  = 1000
	hypTolerance = 1e-15
)

// Hyp1F1 evaluates Kummer's confluent hypergeometric function 1F1(a; b; x)
// by its power series. ok is false when b is a non-positive integer or the
// series does not converge.
func Hyp1F1(a, b, x float64) (float64, bool) {
	if b <= 0 && b == math.Trunc(b) {
		return 0, false
	}
	sum, term := 1.0, 1.0
	for k := 0; k < hypMaxTerms; k++ {
		fk := float64(k)
		term *= (a + fk) / (b + fk) * x / (fk + 1)
		sum += term
		if math.Abs(term) <= hypTolerance*math.Abs(sum) {
			if math.IsNaN(sum) || math.IsInf(sum, 0) {
				return 0, false
			}
			return sum, true
		}
	}
	return 0, false
}
