package battery

import "fmt"

// Slot indices of the tests in a ResultVector.
const (
	SlotMonobit = iota
	SlotBlockFrequency
	SlotRuns
	SlotLongestRun
	SlotMatrixRank
	SlotSpectral
	SlotNonOverlapping
	SlotOverlapping
	SlotUniversal
	SlotLinearComplexity
	SlotSerial // two slots
	_
	SlotApproximateEntropy
	SlotCusumForward
	SlotCusumBackward
	SlotExcursions // eight slots, states -4..-1, +1..+4
)

// SlotExcursionsVariant is the first of 18 slots, states -9..-1, +1..+9.
const SlotExcursionsVariant = SlotExcursions + excursionStates

// Slot describes one entry of a ResultVector.
type Slot struct {
	Index int
	Name  string
	// Section is the test number in SP 800-22 section 2.
	Section int
}

// Label returns the name prefixed by its two digit section number,
// for example "01. Monobit Test".
func (s Slot) Label() string {
	return fmt.Sprintf("%02d. %s", s.Section, s.Name)
}

// Slots lists the result slots in canonical order.
var Slots = buildSlots()

func buildSlots() [NumSlots]Slot {
	named := []struct {
		name    string
		section int
	}{
		{"Monobit Test", 1},
		{"Block Frequency Test", 2},
		{"Independent Runs Test", 3},
		{"Longest Runs Test", 4},
		{"Matrix Rank Test", 5},
		{"Spectral Test", 6},
		{"Non Overlapping Patterns Test", 7},
		{"Overlapping Patterns Test", 8},
		{"Universal Test", 9},
		{"Linear Complexity Test", 10},
		{"Serial Test (p01)", 11},
		{"Serial Test (p02)", 11},
		{"Approximate Entropy Test", 12},
		{"Cumulative Sums Test (Forward)", 13},
		{"Cumulative Sums Test (Backward)", 13},
	}
	var slots [NumSlots]Slot
	i := 0
	for _, n := range named {
		slots[i] = Slot{Index: i, Name: n.name, Section: n.section}
		i++
	}
	for k := 1; k <= excursionStates; k++ {
		slots[i] = Slot{Index: i, Name: fmt.Sprintf("Random Excursions Test (p%02d)", k), Section: 14}
		i++
	}
	for k := 1; k <= variantStates; k++ {
		slots[i] = Slot{Index: i, Name: fmt.Sprintf("Random Excursions Variant Test (p%02d)", k), Section: 15}
		i++
	}
	return slots
}
