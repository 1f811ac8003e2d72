// Package lfsr finds the shortest linear feedback shift register that
// generates a bit block, using the Berlekamp-Massey algorithm.
package lfsr

// Reconstructor runs Berlekamp-Massey with buffers sized for a fixed block
// length so that repeated calls do not allocate.
type Reconstructor struct {
	c, b, t []uint8
}

// NewReconstructor returns a Reconstructor for blocks of up to n bits.
func NewReconstructor(n int) *Reconstructor {
	return &Reconstructor{
		c: make([]uint8, n),
		b: make([]uint8, n),
		t: make([]uint8, n),
	}
}

// Complexity returns the linear complexity of block. Elements must be 0 or 1.
func (r *Reconstructor) Complexity(block []uint8) int {
	n := len(block)
	if n == 0 {
		return 0
	}
	if len(r.c) < n {
		*r = *NewReconstructor(n)
	}
	c, b, t := r.c[:n], r.b[:n], r.t[:n]
	clear(c)
	clear(b)
	c[0], b[0] = 1, 1

	l, m := 0, -1
	for i := 0; i < n; i++ {
		d := block[i]
		for j := 1; j <= l; j++ {
			d ^= c[j] & block[i-j]
		}
		if d == 0 {
			continue
		}
		copy(t, c)
		shift := i - m
		for j := 0; j+shift < n; j++ {
			c[j+shift] ^= b[j]
		}
		if l <= i/2 {
			l = i + 1 - l
			m = i
			copy(b, t)
		}
	}
	return l
}

// LinearComplexity returns the linear complexity of block.
func LinearComplexity(block []uint8) int {
	return NewReconstructor(len(block)).Complexity(block)
}
