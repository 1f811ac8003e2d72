package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pitonyak/ADPStampInventory/internal/battery"
	"github.com/pitonyak/ADPStampInventory/internal/summary"
)

// WriteSampleTable prints one line per slot with its verdict and p-value,
// followed by the pass/fail/skip counts.
func WriteSampleTable(w io.Writer, s summary.SampleSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	verdicts := s.Verdicts()
	for i, slot := range s.Results {
		p := "p=SKIPPED"
		if !slot.IsSkipped() {
			p = "p=" + FormatPValue(slot)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", battery.Slots[i].Label(), verdicts[i], p)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\npassed: %d failed: %d skipped: %d confidence level: %g percent passed: %.4f\n",
		s.Passed, s.Failed, s.Skipped, s.ConfidenceLevel, s.PercentPassed)
	return err
}

// WriteAggregateTable prints the multi-sample verdict of every slot of one flow.
func WriteAggregateTable(w io.Writer, title string, agg summary.AggregateSummary) error {
	if _, err := fmt.Fprintf(w, "%s (%d samples)\n", title, agg.Samples); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, slot := range agg.Slots {
		if slot.Samples == 0 {
			fmt.Fprintf(tw, "%s\t%s\tp=SKIPPED\tskipped=%d\n", slot.Slot.Label(), slot.Classification(), slot.Skipped)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\tp=%s\tpass rate=%.4f\tskipped=%d\n",
			slot.Slot.Label(), slot.Classification(), FormatPValue(slot.PValue), slot.PassRate, slot.Skipped)
	}
	return tw.Flush()
}
