// Package bitseq provides the immutable bit sequence every randomness test reads.
package bitseq

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSymbol reports a character other than '0', '1' or whitespace in Parse input.
var ErrInvalidSymbol = errors.New("bitseq: invalid symbol")

// Sequence is an ordered, read-only sequence of bits. Each element is 0 or 1.
// The zero value is an empty sequence.
type Sequence struct {
	bits []uint8
}

// FromBytes expands data into 8*len(data) bits, most significant bit first.
func FromBytes(data []byte) Sequence {
	bits := make([]uint8, len(data)*8)
	for i, b := range data {
		for j := 0; j < 8; j++ {
			bits[i*8+j] = (b >> (7 - j)) & 1
		}
	}
	return Sequence{bits: bits}
}

// FromBits copies bits into a new Sequence. Any non-zero element becomes 1.
func FromBits(bits []uint8) Sequence {
	out := make([]uint8, len(bits))
	for i, b := range bits {
		if b != 0 {
			out[i] = 1
		}
	}
	return Sequence{bits: out}
}

// Parse builds a Sequence from a string of '0' and '1' characters.
// Whitespace is ignored so that long reference strings can be wrapped.
func Parse(s string) (Sequence, error) {
	bits := make([]uint8, 0, len(s))
	for i, r := range s {
		switch r {
		case '0':
			bits = append(bits, 0)
		case '1':
			bits = append(bits, 1)
		case ' ', '\t', '\n', '\r':
		default:
			return Sequence{}, fmt.Errorf("%w %q at offset %d", ErrInvalidSymbol, r, i)
		}
	}
	return Sequence{bits: bits}, nil
}

// Len returns the number of bits.
func (s Sequence) Len() int {
	return len(s.bits)
}

// Bit returns bit i. It panics when i is out of range, like a slice index.
func (s Sequence) Bit(i int) uint8 {
	return s.bits[i]
}

// Ones counts the bits set to 1.
func (s Sequence) Ones() int {
	n := 0
	for _, b := range s.bits {
		n += int(b)
	}
	return n
}

// Slice returns bits [from, to). The result shares storage with s but neither
// value exposes a way to modify it.
func (s Sequence) Slice(from, to int) Sequence {
	return Sequence{bits: s.bits[from:to:to]}
}

// Wrap returns s followed by its own first k bits, repeating s as often as
// needed when k exceeds Len. Sliding-window tests use it to treat the
// sequence as circular.
func (s Sequence) Wrap(k int) Sequence {
	n := len(s.bits)
	if k <= 0 || n == 0 {
		return s
	}
	out := make([]uint8, n+k)
	copy(out, s.bits)
	for i := 0; i < k; i++ {
		out[n+i] = s.bits[i%n]
	}
	return Sequence{bits: out}
}

// Reverse returns the bits of s in reverse order.
func (s Sequence) Reverse() Sequence {
	n := len(s.bits)
	out := make([]uint8, n)
	for i, b := range s.bits {
		out[n-1-i] = b
	}
	return Sequence{bits: out}
}

// Window returns the k bits starting at i as an unsigned integer, first bit
// most significant. k must be at most 64.
func (s Sequence) Window(i, k int) uint64 {
	var v uint64
	for _, b := range s.bits[i : i+k] {
		v = v<<1 | uint64(b)
	}
	return v
}

// Bits returns a copy of the underlying bits.
func (s Sequence) Bits() []uint8 {
	out := make([]uint8, len(s.bits))
	copy(out, s.bits)
	return out
}

// Equal reports whether both sequences hold the same bits.
func (s Sequence) Equal(o Sequence) bool {
	if len(s.bits) != len(o.bits) {
		return false
	}
	for i := range s.bits {
		if s.bits[i] != o.bits[i] {
			return false
		}
	}
	return true
}

// String renders the sequence as '0' and '1' characters.
func (s Sequence) String() string {
	var b strings.Builder
	b.Grow(len(s.bits))
	for _, bit := range s.bits {
		b.WriteByte('0' + bit)
	}
	return b.String()
}
