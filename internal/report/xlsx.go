package report

import (
	"fmt"
	"log"

	"github.com/xuri/excelize/v2"

	"github.com/pitonyak/ADPStampInventory/internal/metrics"
)

// FormatXLSX is the metrics label of the workbook sink.
const FormatXLSX = "xlsx"

const (
	packetSheet = "Packets"
	flowSheet   = "Flows"
)

// XLSXSink streams packet rows into the "Packets" sheet and writes flow
// aggregates to a "Flows" sheet. The workbook is saved on Close.
type XLSXSink struct {
	path    string
	file    *excelize.File
	stream  *excelize.StreamWriter
	row     int
	preview int
	flows   []FlowReport
}

// CreateXLSX prepares a workbook that will be saved to path.
func CreateXLSX(path string, previewBytes int) (*XLSXSink, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", packetSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("report: rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(packetSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("report: stream writer: %w", err)
	}

	s := &XLSXSink{path: path, file: f, stream: sw, row: 1, preview: previewBytes}
	header := Header()
	values := make([]interface{}, len(header))
	for i, h := range header {
		values[i] = h
	}
	if err := s.appendRow(values); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *XLSXSink) appendRow(values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		return fmt.Errorf("report: cell name: %w", err)
	}
	if err := s.stream.SetRow(cell, values); err != nil {
		return fmt.Errorf("report: write row %d: %w", s.row, err)
	}
	s.row++
	return nil
}

// Write appends the row for rec. p-values are numeric cells; skipped slots
// hold -1.
func (s *XLSXSink) Write(rec Record) error {
	sum := rec.Summary
	values := make([]interface{}, 0, len(leadingColumns)+len(sum.Results)+len(trailingColumns))
	values = append(values, rec.Index, sum.PercentPassed, sum.Passed, sum.Skipped, sum.Failed, sum.ConfidenceLevel)
	for _, o := range sum.Results {
		values = append(values, float64(o))
	}
	values = append(values, rec.File, rec.SrcIP, rec.DstIP, len(rec.Payload), DataPreview(rec.Payload, s.preview))

	if err := s.appendRow(values); err != nil {
		return err
	}
	metrics.RecordReportRow(FormatXLSX)
	return nil
}

// WriteFlows keeps the flow reports until Close writes the "Flows" sheet.
func (s *XLSXSink) WriteFlows(flows []FlowReport) error {
	s.flows = append(s.flows, flows...)
	return nil
}

// Close flushes the packet sheet, writes the flow sheet and saves the file.
func (s *XLSXSink) Close() error {
	defer func() {
		if err := s.file.Close(); err != nil {
			log.Printf("report: close workbook: %v", err)
		}
	}()

	if err := s.stream.Flush(); err != nil {
		return fmt.Errorf("report: flush packets: %w", err)
	}
	if len(s.flows) > 0 {
		if err := s.writeFlowSheet(); err != nil {
			return err
		}
	}
	if err := s.file.SaveAs(s.path); err != nil {
		return fmt.Errorf("report: save %s: %w", s.path, err)
	}
	return nil
}

func (s *XLSXSink) writeFlowSheet() error {
	if _, err := s.file.NewSheet(flowSheet); err != nil {
		return fmt.Errorf("report: add flow sheet: %w", err)
	}
	header := FlowHeader()
	if err := s.file.SetSheetRow(flowSheet, "A1", &header); err != nil {
		return fmt.Errorf("report: flow header: %w", err)
	}
	row := 2
	for _, f := range s.flows {
		for _, r := range flowRows(f) {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return fmt.Errorf("report: cell name: %w", err)
			}
			if err := s.file.SetSheetRow(flowSheet, cell, &r); err != nil {
				return fmt.Errorf("report: flow row %d: %w", row, err)
			}
			row++
		}
	}
	return nil
}
