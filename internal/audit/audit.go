// Package audit drives an ESP randomness audit: every accepted packet runs
// through the battery, its summary goes to the report sink, and per-flow
// aggregates and health counters are reported at the end of the run.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pitonyak/ADPStampInventory/internal/battery"
	"github.com/pitonyak/ADPStampInventory/internal/capture"
	"github.com/pitonyak/ADPStampInventory/internal/clock"
	"github.com/pitonyak/ADPStampInventory/internal/metrics"
	"github.com/pitonyak/ADPStampInventory/internal/report"
	"github.com/pitonyak/ADPStampInventory/internal/summary"
	"github.com/pitonyak/ADPStampInventory/internal/validation"
)

// PacketSource yields capture frames until io.EOF.
type PacketSource interface {
	Next() (capture.Packet, capture.Verdict, error)
}

// Publisher announces the run summary.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Config holds the audit parameters.
type Config struct {
	Params    battery.Params
	File      string // capture name written to every report row
	RCTCutoff int
	APTCutoff int
	APTWindow int
}

// Result describes a finished run.
type Result struct {
	Frames  int
	Tested  int
	Elapsed time.Duration
	Flows   []report.FlowReport
}

type flowState struct {
	key    capture.FlowKey
	agg    *summary.Aggregator
	health *validation.StreamHealth
	bytes  int
}

// Progress is a point-in-time view of a running audit.
type Progress struct {
	Frames int `json:"frames"`
	Tested int `json:"tested"`
	Flows  int `json:"flows"`
}

// Auditor runs the pipeline. Run and Process must not be called concurrently;
// Progress may be called from any goroutine.
type Auditor struct {
	cfg       Config
	sink      report.Sink
	publisher Publisher
	clock     clock.Clock
	console   io.Writer
	verbose   bool

	flows  map[capture.FlowKey]*flowState
	order  []capture.FlowKey
	frames atomic.Int64
	tested atomic.Int64
	nflows atomic.Int64
}

// Option customizes an Auditor.
type Option func(*Auditor)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(a *Auditor) { a.clock = c }
}

// WithPublisher publishes the run summary when the run ends.
func WithPublisher(p Publisher) Option {
	return func(a *Auditor) { a.publisher = p }
}

// WithConsole prints flow aggregate tables to w at the end of the run. When
// verbose is set, every packet's slot table is printed as well.
func WithConsole(w io.Writer, verbose bool) Option {
	return func(a *Auditor) {
		a.console = w
		a.verbose = verbose
	}
}

// New validates cfg and builds an Auditor writing to sink.
func New(cfg Config, sink report.Sink, opts ...Option) (*Auditor, error) {
	if sink == nil {
		return nil, errors.New("audit: nil report sink")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	a := &Auditor{
		cfg:   cfg,
		sink:  sink,
		clock: clock.RealClock{},
		flows: make(map[capture.FlowKey]*flowState),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Run consumes src until io.EOF or until ctx is done, then writes flow
// aggregates and publishes the summary. The sink is not closed.
func (a *Auditor) Run(ctx context.Context, src PacketSource) (Result, error) {
	start := a.clock.Now()

	for {
		if err := ctx.Err(); err != nil {
			return a.result(start), fmt.Errorf("audit: %w", err)
		}
		pkt, verdict, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return a.result(start), err
		}

		a.frames.Add(1)
		metrics.RecordPacket(verdict.String())
		if verdict != capture.Accepted {
			continue
		}
		if err := a.Process(pkt); err != nil {
			return a.result(start), err
		}
	}

	res := a.result(start)
	if err := a.sink.WriteFlows(res.Flows); err != nil {
		return res, fmt.Errorf("audit: write flows: %w", err)
	}
	if a.console != nil {
		for _, f := range res.Flows {
			if err := report.WriteAggregateTable(a.console, f.Flow, f.Aggregate); err != nil {
				return res, fmt.Errorf("audit: console: %w", err)
			}
		}
	}
	a.publish(ctx, res)

	log.Printf("audit: total read time %s for %d frames, tested %d in %d flows",
		res.Elapsed, res.Frames, res.Tested, len(res.Flows))
	return res, nil
}

// Process evaluates one accepted packet and writes its report row.
func (a *Auditor) Process(pkt capture.Packet) error {
	started := a.clock.Now()
	rv, err := battery.Run(pkt.Payload, a.cfg.Params)
	if err != nil {
		return fmt.Errorf("audit: packet %d: %w", pkt.Index, err)
	}
	elapsed := a.clock.Since(started)

	sum := summary.Summarize(rv, a.cfg.Params.ConfidenceLevel)
	a.tested.Add(1)
	a.recordMetrics(pkt, sum, elapsed)

	flow := a.flow(pkt.Flow())
	flow.agg.Add(rv)
	flow.bytes += len(pkt.Payload)
	if res := flow.health.Observe(pkt.Payload); res.Failed() {
		for range res.RCTFailures {
			metrics.RecordHealthFailure("rct")
		}
		for range res.APTFailures {
			metrics.RecordHealthFailure("apt")
		}
		log.Printf("audit: health test failure on %s at packet %d (rct=%d apt=%d)",
			flow.key, pkt.Index, res.RCTFailures, res.APTFailures)
	}

	if a.verbose && a.console != nil {
		fmt.Fprintf(a.console, "packet %d %s -> %s len=%d\n", pkt.Index, pkt.SrcIP, pkt.DstIP, len(pkt.Payload))
		if err := report.WriteSampleTable(a.console, sum); err != nil {
			return fmt.Errorf("audit: console: %w", err)
		}
	}

	return a.sink.Write(report.Record{
		Index:   pkt.Index,
		File:    a.cfg.File,
		SrcIP:   pkt.SrcIP,
		DstIP:   pkt.DstIP,
		Payload: pkt.Payload,
		Summary: sum,
	})
}

func (a *Auditor) recordMetrics(pkt capture.Packet, sum summary.SampleSummary, elapsed time.Duration) {
	metrics.RecordBatteryRun(elapsed, 100*sum.PercentPassed)
	metrics.RecordPayloadBytes(len(pkt.Payload))
	for i, v := range sum.Verdicts() {
		metrics.RecordSlotOutcome(battery.Slots[i].Label(), strings.ToLower(v.String()))
	}
	est := validation.EstimateMinEntropy(pkt.Payload)
	metrics.RecordMinEntropy("mcv", est.MCV)
	metrics.RecordMinEntropy("collision", est.Collision)
}

func (a *Auditor) flow(key capture.FlowKey) *flowState {
	if f, ok := a.flows[key]; ok {
		return f
	}
	f := &flowState{
		key:    key,
		agg:    summary.NewAggregator(a.cfg.Params.ConfidenceLevel),
		health: validation.NewStreamHealth(a.cfg.RCTCutoff, a.cfg.APTCutoff, a.cfg.APTWindow),
	}
	a.flows[key] = f
	a.order = append(a.order, key)
	a.nflows.Store(int64(len(a.order)))
	metrics.SetFlowsTracked(len(a.order))
	return f
}

// Progress reports the frames read, packets tested and flows seen so far.
func (a *Auditor) Progress() Progress {
	return Progress{
		Frames: int(a.frames.Load()),
		Tested: int(a.tested.Load()),
		Flows:  int(a.nflows.Load()),
	}
}

func (a *Auditor) result(start time.Time) Result {
	res := Result{
		Frames:  int(a.frames.Load()),
		Tested:  int(a.tested.Load()),
		Elapsed: a.clock.Since(start),
		Flows:   make([]report.FlowReport, 0, len(a.order)),
	}
	for _, key := range a.order {
		f := a.flows[key]
		res.Flows = append(res.Flows, report.FlowReport{
			Flow:      key.String(),
			SPI:       key.SPI,
			SrcIP:     key.SrcIP,
			DstIP:     key.DstIP,
			Bytes:     f.bytes,
			Health:    f.health.Totals(),
			Aggregate: f.agg.Summary(),
		})
	}
	return res
}

func (a *Auditor) publish(ctx context.Context, res Result) {
	if a.publisher == nil {
		return
	}
	msg := report.RunMessage{
		File:            a.cfg.File,
		FinishedAt:      a.clock.Now().UTC(),
		ElapsedSeconds:  res.Elapsed.Seconds(),
		Frames:          res.Frames,
		Tested:          res.Tested,
		ConfidenceLevel: a.cfg.Params.ConfidenceLevel,
		Flows:           make([]report.FlowMessage, 0, len(res.Flows)),
	}
	for _, f := range res.Flows {
		msg.Flows = append(msg.Flows, report.NewFlowMessage(f))
	}
	payload, err := msg.Marshal()
	if err != nil {
		log.Printf("audit: encode summary: %v", err)
		return
	}
	if err := a.publisher.Publish(ctx, payload); err != nil {
		log.Printf("audit: publish summary: %v", err)
	}
}
