// Package battery implements the NIST SP 800-22 statistical test battery.
//
// Each test is a pure function of a bitseq.Sequence and its parameters and
// yields one or more Outcome values. Run evaluates the whole battery and
// assembles a ResultVector of NumSlots slots in the fixed order described by Slots.
package battery

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/pitonyak/ADPStampInventory/internal/bitseq"
)

var (
	// ErrEmptyInput is returned by Run when the buffer holds no bytes.
	ErrEmptyInput = errors.New("battery: empty input")
	// ErrInvalidParams is wrapped by every Params validation failure.
	ErrInvalidParams = errors.New("battery: invalid parameters")
)

// Outcome is a p-value in [0, 1] or Skipped.
type Outcome float64

// Skipped marks a test that declined to run because its preconditions were
// not met.
const Skipped Outcome = -1.0

// IsSkipped reports whether o is the Skipped sentinel.
func (o Outcome) IsSkipped() bool {
	return o == Skipped
}

// maxPatternBits bounds the frequency tables of the serial and approximate
// entropy tests.
const maxPatternBits = 20

// NumSlots is the length of a ResultVector.
const NumSlots = 41

// ResultVector holds one Outcome per slot, ordered as Slots.
type ResultVector [NumSlots]Outcome

// Params configures the battery. Zero values for the optional pattern fields
// select the defaults from DefaultParams.
type Params struct {
	ConfidenceLevel          float64
	BlockSize                int
	MatrixSize               int
	SerialPatternLength      int
	ApEnPatternLength        int
	NonOverlappingTemplate   string
	OverlappingPatternLength int

	// LinearComplexityBlockSize falls back to BlockSize when zero.
	LinearComplexityBlockSize int

	// OverlappingBlockSize falls back to BlockSize when zero.
	OverlappingBlockSize int

	// Workers bounds concurrent test evaluation; zero means GOMAXPROCS.
	Workers int
}

// DefaultParams returns the parameters used for single packet payloads.
func DefaultParams() Params {
	return Params{
		ConfidenceLevel:          0.005,
		BlockSize:                128,
		MatrixSize:               32,
		SerialPatternLength:      16,
		ApEnPatternLength:        10,
		NonOverlappingTemplate:   "11110000",
		OverlappingPatternLength: 9,
	}
}

// Validate reports structural problems with p.
func (p Params) Validate() error {
	if math.IsNaN(p.ConfidenceLevel) || p.ConfidenceLevel <= 0 || p.ConfidenceLevel >= 1 {
		return fmt.Errorf("%w: confidence level %v must be in (0, 1)", ErrInvalidParams, p.ConfidenceLevel)
	}
	positive := []struct {
		name  string
		value int
	}{
		{"block size", p.BlockSize},
		{"matrix size", p.MatrixSize},
		{"serial pattern length", p.SerialPatternLength},
		{"approximate entropy pattern length", p.ApEnPatternLength},
		{"overlapping pattern length", p.OverlappingPatternLength},
	}
	for _, f := range positive {
		if f.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidParams, f.name, f.value)
		}
	}
	if p.LinearComplexityBlockSize < 0 {
		return fmt.Errorf("%w: linear complexity block size must not be negative", ErrInvalidParams)
	}
	if p.OverlappingBlockSize < 0 {
		return fmt.Errorf("%w: overlapping block size must not be negative", ErrInvalidParams)
	}
	if p.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidParams)
	}
	if p.SerialPatternLength > maxPatternBits || p.ApEnPatternLength >= maxPatternBits {
		return fmt.Errorf("%w: pattern counts above %d bits are not supported", ErrInvalidParams, maxPatternBits)
	}
	if p.OverlappingPatternLength > 64 {
		return fmt.Errorf("%w: overlapping pattern length above 64 bits", ErrInvalidParams)
	}
	if _, err := parseTemplate(p.NonOverlappingTemplate); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func (p Params) overlappingBlockSize() int {
	if p.OverlappingBlockSize > 0 {
		return p.OverlappingBlockSize
	}
	return p.BlockSize
}

func (p Params) linearComplexityBlockSize() int {
	if p.LinearComplexityBlockSize > 0 {
		return p.LinearComplexityBlockSize
	}
	return p.BlockSize
}

func (p Params) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Run expands data into bits and evaluates the full battery.
func Run(data []byte, p Params) (ResultVector, error) {
	if len(data) == 0 {
		return ResultVector{}, ErrEmptyInput
	}
	return RunSequence(bitseq.FromBytes(data), p)
}

// RunSequence evaluates the full battery on seq. Tests run concurrently and
// each writes only its own slots, so the result does not depend on
// scheduling.
func RunSequence(seq bitseq.Sequence, p Params) (ResultVector, error) {
	var rv ResultVector
	if err := p.Validate(); err != nil {
		return rv, err
	}
	if seq.Len() == 0 {
		return rv, ErrEmptyInput
	}
	template, _ := parseTemplate(p.NonOverlappingTemplate)

	tasks := []func(){
		func() { rv[SlotMonobit] = Monobit(seq) },
		func() { rv[SlotBlockFrequency] = BlockFrequency(seq, p.BlockSize) },
		func() { rv[SlotRuns] = Runs(seq) },
		func() { rv[SlotLongestRun] = LongestRun(seq) },
		func() { rv[SlotMatrixRank] = MatrixRank(seq, p.MatrixSize) },
		func() { rv[SlotSpectral] = Spectral(seq) },
		func() { rv[SlotNonOverlapping] = NonOverlappingTemplate(seq, template, nonOverlappingBlocks) },
		func() {
			rv[SlotOverlapping] = OverlappingTemplate(seq, p.OverlappingPatternLength, p.overlappingBlockSize())
		},
		func() { rv[SlotUniversal] = Universal(seq) },
		func() { rv[SlotLinearComplexity] = LinearComplexity(seq, p.linearComplexityBlockSize()) },
		func() {
			s := Serial(seq, p.SerialPatternLength)
			copy(rv[SlotSerial:SlotSerial+2], s[:])
		},
		func() { rv[SlotApproximateEntropy] = ApproximateEntropy(seq, p.ApEnPatternLength) },
		func() { rv[SlotCusumForward] = CumulativeSums(seq, Forward) },
		func() { rv[SlotCusumBackward] = CumulativeSums(seq, Backward) },
		func() {
			ex := RandomExcursions(seq)
			copy(rv[SlotExcursions:SlotExcursions+len(ex)], ex[:])
		},
		func() {
			ev := RandomExcursionsVariant(seq)
			copy(rv[SlotExcursionsVariant:SlotExcursionsVariant+len(ev)], ev[:])
		},
	}

	var g errgroup.Group
	g.SetLimit(p.workers())
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			task()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rv, err
	}
	return rv, nil
}
