package report

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pitonyak/ADPStampInventory/internal/metrics"
)

// FormatCSV is the metrics label of the CSV sink.
const FormatCSV = "csv"

// CSVSink writes one row per packet in the packet report layout: quoted
// header names separated by ", " and p-values with five decimals. Flow
// aggregates go to a separate plain CSV stream.
type CSVSink struct {
	rows    *bufio.Writer
	flows   io.Writer
	preview int
	closers []io.Closer
}

// NewCSVSink writes the header to rows immediately. flows may be nil, in
// which case WriteFlows is a no-op.
func NewCSVSink(rows, flows io.Writer, previewBytes int) (*CSVSink, error) {
	s := &CSVSink{rows: bufio.NewWriter(rows), flows: flows, preview: previewBytes}
	if _, err := s.rows.WriteString(headerLine() + "\n"); err != nil {
		return nil, fmt.Errorf("report: write csv header: %w", err)
	}
	return s, nil
}

// CreateCSV creates path for packet rows and path+".flows.csv" for flow
// aggregates.
func CreateCSV(path string, previewBytes int) (*CSVSink, error) {
	rows, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	flows, err := os.Create(FlowsPath(path))
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("report: %w", err)
	}
	s, err := NewCSVSink(rows, flows, previewBytes)
	if err != nil {
		rows.Close()
		flows.Close()
		return nil, err
	}
	s.closers = []io.Closer{rows, flows}
	return s, nil
}

// FlowsPath returns the flow aggregate file that accompanies a CSV report.
func FlowsPath(path string) string {
	return path + ".flows.csv"
}

func headerLine() string {
	return `"` + strings.Join(Header(), `", "`) + `"`
}

// Write appends the row for rec.
func (s *CSVSink) Write(rec Record) error {
	file, err := csvSafe(rec.File)
	if err != nil {
		return fmt.Errorf("report: csv row %d: %w", rec.Index, err)
	}
	preview, err := csvSafe(DataPreview(rec.Payload, s.preview))
	if err != nil {
		return fmt.Errorf("report: csv row %d: %w", rec.Index, err)
	}

	sum := rec.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "%d, %s, %d, %d, %d, %s",
		rec.Index, formatRatio(sum.PercentPassed), sum.Passed, sum.Skipped, sum.Failed, formatRatio(sum.ConfidenceLevel))
	for _, o := range sum.Results {
		b.WriteString(", ")
		b.WriteString(FormatPValue(o))
	}
	fmt.Fprintf(&b, `, "%s", "%s", "%s",%d,"%s"`,
		file, rec.SrcIP, rec.DstIP, len(rec.Payload), preview)
	b.WriteByte('\n')

	if _, err := s.rows.WriteString(b.String()); err != nil {
		return fmt.Errorf("report: write csv row %d: %w", rec.Index, err)
	}
	metrics.RecordReportRow(FormatCSV)
	return nil
}

// WriteFlows writes one row per flow and slot.
func (s *CSVSink) WriteFlows(flows []FlowReport) error {
	if s.flows == nil {
		return nil
	}
	w := csv.NewWriter(s.flows)
	if err := w.Write(FlowHeader()); err != nil {
		return fmt.Errorf("report: write flow header: %w", err)
	}
	for _, f := range flows {
		for _, row := range flowRows(f) {
			if err := w.Write(row); err != nil {
				return fmt.Errorf("report: write flow %s: %w", f.Flow, err)
			}
		}
	}
	w.Flush()
	return w.Error()
}

// Close flushes buffered rows and closes files opened by CreateCSV.
func (s *CSVSink) Close() error {
	err := s.rows.Flush()
	for _, c := range s.closers {
		err = errors.Join(err, c.Close())
	}
	if err != nil {
		return fmt.Errorf("report: close csv: %w", err)
	}
	return nil
}

func flowRows(f FlowReport) [][]string {
	rows := make([][]string, 0, len(f.Aggregate.Slots))
	for _, slot := range f.Aggregate.Slots {
		rows = append(rows, []string{
			f.Flow,
			fmt.Sprintf("0x%08x", f.SPI),
			f.SrcIP,
			f.DstIP,
			strconv.Itoa(f.Aggregate.Samples),
			strconv.Itoa(f.Bytes),
			strconv.Itoa(f.Health.RCTFailures),
			strconv.Itoa(f.Health.APTFailures),
			slot.Slot.Label(),
			strconv.Itoa(slot.Skipped),
			FormatPValue(slot.PValue),
			strconv.FormatFloat(slot.PassRate, 'f', 4, 64),
			slot.Classification().String(),
		})
	}
	return rows
}

// csvSafe escapes s as a CSV field would, without the surrounding quotes.
func csvSafe(s string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{s}); err != nil {
		return "", fmt.Errorf("escape field: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("escape field: %w", err)
	}
	out := strings.TrimRight(buf.String(), "\r\n")
	out = strings.TrimPrefix(out, `"`)
	return strings.TrimSuffix(out, `"`), nil
}
