// Package gf2 computes the rank of square bit matrices over the two-element field.
package gf2

import (
	"errors"
	"fmt"
)

// ErrShape reports a bit slice whose length does not fill a side*side matrix.
var ErrShape = errors.New("gf2: bit count does not match matrix shape")

// Matrix is a square matrix over GF(2) stored as packed rows.
// A Matrix is owned by a single caller; Reduce modifies it in place.
type Matrix struct {
	side   int
	stride int
	words  []uint64
}

// NewMatrix returns an all-zero matrix with the given side length.
func NewMatrix(side int) Matrix {
	if side < 0 {
		side = 0
	}
	stride := (side + 63) / 64
	return Matrix{side: side, stride: stride, words: make([]uint64, side*stride)}
}

// MatrixFromBits fills a new matrix row by row from bits.
func MatrixFromBits(side int, bits []uint8) (Matrix, error) {
	if side < 0 || len(bits) != side*side {
		return Matrix{}, fmt.Errorf("%w: %d bits for side %d", ErrShape, len(bits), side)
	}
	m := NewMatrix(side)
	m.Load(bits)
	return m, nil
}

// Load overwrites the matrix with side*side bits in row-major order.
// It lets a caller reuse one matrix for many blocks.
func (m *Matrix) Load(bits []uint8) {
	clear(m.words)
	for r := 0; r < m.side; r++ {
		row := bits[r*m.side : (r+1)*m.side]
		for c, b := range row {
			if b != 0 {
				m.words[r*m.stride+c/64] |= 1 << (c % 64)
			}
		}
	}
}

// Side returns the side length.
func (m Matrix) Side() int {
	return m.side
}

// Get returns the bit at row r, column c.
func (m Matrix) Get(r, c int) uint8 {
	return uint8(m.words[r*m.stride+c/64] >> (c % 64) & 1)
}

// Set stores v (0 or non-zero) at row r, column c.
func (m *Matrix) Set(r, c int, v uint8) {
	idx := r*m.stride + c/64
	if v != 0 {
		m.words[idx] |= 1 << (c % 64)
	} else {
		m.words[idx] &^= 1 << (c % 64)
	}
}

// Clone returns an independent copy.
func (m Matrix) Clone() Matrix {
	out := Matrix{side: m.side, stride: m.stride, words: make([]uint64, len(m.words))}
	copy(out.words, m.words)
	return out
}

func (m Matrix) row(r int) []uint64 {
	return m.words[r*m.stride : (r+1)*m.stride]
}

func (m *Matrix) swap(a, b int) {
	ra, rb := m.row(a), m.row(b)
	for i := range ra {
		ra[i], rb[i] = rb[i], ra[i]
	}
}

// xorInto adds row src to row dst.
func (m *Matrix) xorInto(dst, src int) {
	rd, rs := m.row(dst), m.row(src)
	for i := range rd {
		rd[i] ^= rs[i]
	}
}

func (m Matrix) zeroRow(r int) bool {
	for _, w := range m.row(r) {
		if w != 0 {
			return false
		}
	}
	return true
}

// Rank returns the GF(2) rank of m. The argument is left untouched.
func Rank(m Matrix) int {
	work := m.Clone()
	return work.Reduce()
}

// Reduce runs a forward elimination pass followed by a backward pass and
// returns the number of rows that are not all zero. The matrix contents are
// destroyed.
func (m *Matrix) Reduce() int {
	n := m.side
	for i := 0; i < n-1; i++ {
		m.eliminate(i, true)
	}
	for i := n - 1; i > 0; i-- {
		m.eliminate(i, false)
	}
	rank := n
	for r := 0; r < n; r++ {
		if m.zeroRow(r) {
			rank--
		}
	}
	return rank
}

// eliminate clears column i below (forward) or above (backward) row i,
// swapping in a pivot row first when m[i][i] is zero.
func (m *Matrix) eliminate(i int, forward bool) {
	if m.Get(i, i) == 0 && !m.swapPivot(i, forward) {
		return
	}
	if forward {
		for j := i + 1; j < m.side; j++ {
			if m.Get(j, i) == 1 {
				m.xorInto(j, i)
			}
		}
		return
	}
	for j := i - 1; j >= 0; j-- {
		if m.Get(j, i) == 1 {
			m.xorInto(j, i)
		}
	}
}

func (m *Matrix) swapPivot(i int, forward bool) bool {
	if forward {
		for j := i + 1; j < m.side; j++ {
			if m.Get(j, i) == 1 {
				m.swap(i, j)
				return true
			}
		}
		return false
	}
	for j := i - 1; j >= 0; j-- {
		if m.Get(j, i) == 1 {
			m.swap(i, j)
			return true
		}
	}
	return false
}
