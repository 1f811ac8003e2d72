package report

import (
	"encoding/json"
	"time"

	"github.com/pitonyak/ADPStampInventory/internal/summary"
)

// SlotMessage is the JSON form of one slot aggregate. PValue is omitted for
// slots without numeric samples.
type SlotMessage struct {
	Test     string   `json:"test"`
	Result   string   `json:"result"`
	PValue   *float64 `json:"p_value,omitempty"`
	PassRate float64  `json:"pass_rate"`
	Samples  int      `json:"samples"`
	Skipped  int      `json:"skipped"`
}

// FlowMessage summarizes one flow.
type FlowMessage struct {
	Flow        string        `json:"flow"`
	SPI         uint32        `json:"spi"`
	SrcIP       string        `json:"src_ip"`
	DstIP       string        `json:"dst_ip"`
	Samples     int           `json:"samples"`
	Bytes       int           `json:"bytes"`
	RCTFailures int           `json:"rct_failures"`
	APTFailures int           `json:"apt_failures"`
	Passed      int           `json:"slots_passed"`
	Failed      int           `json:"slots_failed"`
	Skipped     int           `json:"slots_skipped"`
	Slots       []SlotMessage `json:"slots"`
}

// RunMessage is the payload published at the end of a run.
type RunMessage struct {
	File            string        `json:"file"`
	FinishedAt      time.Time     `json:"finished_at"`
	ElapsedSeconds  float64       `json:"elapsed_seconds"`
	Frames          int           `json:"frames"`
	Tested          int           `json:"tested"`
	ConfidenceLevel float64       `json:"confidence_level"`
	Flows           []FlowMessage `json:"flows"`
}

// NewFlowMessage converts a flow report.
func NewFlowMessage(f FlowReport) FlowMessage {
	msg := FlowMessage{
		Flow:        f.Flow,
		SPI:         f.SPI,
		SrcIP:       f.SrcIP,
		DstIP:       f.DstIP,
		Samples:     f.Aggregate.Samples,
		Bytes:       f.Bytes,
		RCTFailures: f.Health.RCTFailures,
		APTFailures: f.Health.APTFailures,
		Slots:       make([]SlotMessage, 0, len(f.Aggregate.Slots)),
	}
	for _, slot := range f.Aggregate.Slots {
		sm := SlotMessage{
			Test:     slot.Slot.Label(),
			Result:   slot.Classification().String(),
			PassRate: slot.PassRate,
			Samples:  slot.Samples,
			Skipped:  slot.Skipped,
		}
		if !slot.PValue.IsSkipped() {
			p := float64(slot.PValue)
			sm.PValue = &p
		}
		switch slot.Classification() {
		case summary.Pass:
			msg.Passed++
		case summary.Fail:
			msg.Failed++
		default:
			msg.Skipped++
		}
		msg.Slots = append(msg.Slots, sm)
	}
	return msg
}

// Marshal encodes m as JSON.
func (m RunMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
