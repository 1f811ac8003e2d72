// Package report writes per-packet battery results and per-flow aggregates
// to CSV or XLSX files, renders console tables and builds the JSON summary
// published over MQTT.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pitonyak/ADPStampInventory/internal/battery"
	"github.com/pitonyak/ADPStampInventory/internal/summary"
	"github.com/pitonyak/ADPStampInventory/internal/validation"
)

// Record is one tested packet.
type Record struct {
	Index   int
	File    string
	SrcIP   string
	DstIP   string
	Payload []byte
	Summary summary.SampleSummary
}

// FlowReport is the end-of-run view of one ESP flow.
type FlowReport struct {
	Flow      string
	SPI       uint32
	SrcIP     string
	DstIP     string
	Bytes     int
	Health    validation.HealthTotals
	Aggregate summary.AggregateSummary
}

// Sink receives packet records and, at the end of a run, the flow reports.
type Sink interface {
	Write(Record) error
	WriteFlows([]FlowReport) error
	Close() error
}

var (
	leadingColumns  = []string{"Index", "Percent", "Num Passed", "Num Skipped", "Num Failed", "Confidence Level"}
	trailingColumns = []string{"File", "Source IP", "Dest IP", "Data Len", "Data"}
)

// Header returns the column names of a packet row.
func Header() []string {
	cols := make([]string, 0, len(leadingColumns)+battery.NumSlots+len(trailingColumns))
	cols = append(cols, leadingColumns...)
	for _, s := range battery.Slots {
		cols = append(cols, s.Label())
	}
	return append(cols, trailingColumns...)
}

// FlowHeader returns the column names of a flow aggregate row.
func FlowHeader() []string {
	return []string{"Flow", "SPI", "Source IP", "Dest IP", "Samples", "Bytes", "RCT Failures", "APT Failures",
		"Test", "Skipped Samples", "Aggregate P", "Pass Rate", "Result"}
}

// FormatPValue renders an outcome with five decimals; skipped slots print as
// -1.00000.
func FormatPValue(o battery.Outcome) string {
	return strconv.FormatFloat(float64(o), 'f', 5, 64)
}

// formatRatio renders the shortest representation of v, always with a decimal
// point, so 1 becomes "1.0".
func formatRatio(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// DataPreview renders up to limit payload bytes as an escaped byte literal,
// b'..', with printable ASCII kept and other bytes as \xNN.
func DataPreview(payload []byte, limit int) string {
	if limit >= 0 && len(payload) > limit {
		payload = payload[:limit]
	}
	var b strings.Builder
	b.Grow(len(payload)*2 + 3)
	b.WriteString("b'")
	for _, c := range payload {
		switch {
		case c == '\\' || c == '\'':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\t':
			b.WriteString(`\t`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c >= 0x20 && c < 0x7f:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, `\x%02x`, c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
