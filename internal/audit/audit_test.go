package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitonyak/ADPStampInventory/internal/battery"
	"github.com/pitonyak/ADPStampInventory/internal/capture"
	"github.com/pitonyak/ADPStampInventory/internal/clock"
	"github.com/pitonyak/ADPStampInventory/internal/report"
	"github.com/pitonyak/ADPStampInventory/testutil"
)

type frame struct {
	pkt     capture.Packet
	verdict capture.Verdict
}

type sliceSource struct {
	frames []frame
	err    error
}

func (s *sliceSource) Next() (capture.Packet, capture.Verdict, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return capture.Packet{}, 0, s.err
		}
		return capture.Packet{}, 0, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f.pkt, f.verdict, nil
}

type memorySink struct {
	records []report.Record
	flows   []report.FlowReport
	closed  bool
}

func (m *memorySink) Write(rec report.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) WriteFlows(flows []report.FlowReport) error {
	m.flows = flows
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

type recordingPublisher struct {
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, payload []byte) error {
	p.payloads = append(p.payloads, payload)
	return p.err
}

func randomPayload(seed uint64, n int) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(r.Uint32())
	}
	return buf
}

func testConfig() Config {
	return Config{
		Params:    battery.DefaultParams(),
		File:      "trace.pcap",
		RCTCutoff: 40,
		APTCutoff: 605,
		APTWindow: 4096,
	}
}

func espPacket(index int, spi uint32, payload []byte) frame {
	return frame{
		pkt: capture.Packet{
			Index:   index,
			SrcIP:   "10.0.0.1",
			DstIP:   "10.0.0.2",
			SPI:     spi,
			Seq:     uint32(index + 1),
			Payload: payload,
		},
		verdict: capture.Accepted,
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig(), nil)
	require.Error(t, err)

	cfg := testConfig()
	cfg.Params.BlockSize = 0
	_, err = New(cfg, &memorySink{})
	require.ErrorIs(t, err, battery.ErrInvalidParams)
}

func TestRunWritesRowsAndFlows(t *testing.T) {
	reg := testutil.ResetRegistryForTest(t)

	fc := clock.NewFakeClock()
	fc.SetStep(time.Second)
	sink := &memorySink{}
	pub := &recordingPublisher{}

	src := &sliceSource{frames: []frame{
		espPacket(0, 0x1001, randomPayload(1, 256)),
		{pkt: capture.Packet{Index: 1}, verdict: capture.Filtered},
		espPacket(2, 0x1001, randomPayload(2, 256)),
		{pkt: capture.Packet{Index: 3}, verdict: capture.NoESP},
		espPacket(4, 0x2002, make([]byte, 64)),
	}}

	a, err := New(testConfig(), sink, WithClock(fc), WithPublisher(pub))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Frames)
	assert.Equal(t, 3, res.Tested)
	assert.Equal(t, 4*time.Second, res.Elapsed)
	assert.Equal(t, Progress{Frames: 5, Tested: 3, Flows: 2}, a.Progress())

	require.Len(t, sink.records, 3)
	assert.Equal(t, []int{0, 2, 4}, []int{sink.records[0].Index, sink.records[1].Index, sink.records[2].Index})
	for _, rec := range sink.records {
		assert.Equal(t, "trace.pcap", rec.File)
		assert.Equal(t, 0.005, rec.Summary.ConfidenceLevel)
		assert.Equal(t, battery.NumSlots, rec.Summary.Passed+rec.Summary.Skipped+rec.Summary.Failed)
	}
	assert.False(t, sink.closed, "run must leave the sink open")

	require.Len(t, sink.flows, 2)
	first, second := sink.flows[0], sink.flows[1]
	assert.Equal(t, uint32(0x1001), first.SPI)
	assert.Equal(t, 2, first.Aggregate.Samples)
	assert.Equal(t, 512, first.Bytes)
	assert.Zero(t, first.Health.RCTFailures)

	assert.Equal(t, uint32(0x2002), second.SPI)
	assert.Equal(t, 1, second.Aggregate.Samples)
	assert.Equal(t, 1, second.Health.RCTFailures, "64 identical bytes trip the repetition count once")

	assert.Equal(t, 3.0, testutil.CounterValue(t, reg, "esp_packets_total", map[string]string{"result": "accepted"}))
	assert.Equal(t, 1.0, testutil.CounterValue(t, reg, "esp_packets_total", map[string]string{"result": "filtered"}))
	assert.Equal(t, 1.0, testutil.CounterValue(t, reg, "esp_packets_total", map[string]string{"result": "no_esp"}))
	assert.Equal(t, 3.0, testutil.CounterValue(t, reg, "battery_runs_total", nil))
	assert.Equal(t, 1.0, testutil.CounterValue(t, reg, "flow_health_failures_total", map[string]string{"test": "rct"}))
	assert.Equal(t, 3.0*battery.NumSlots, testutil.CounterValue(t, reg, "battery_slot_outcomes_total", nil))

	require.Len(t, pub.payloads, 1)
	var msg report.RunMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, "trace.pcap", msg.File)
	assert.Equal(t, 5, msg.Frames)
	assert.Equal(t, 3, msg.Tested)
	assert.Len(t, msg.Flows, 2)
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	pub := &recordingPublisher{err: errors.New("broker down")}
	a, err := New(testConfig(), &memorySink{}, WithPublisher(pub), WithClock(clock.NewFakeClock()))
	require.NoError(t, err)

	src := &sliceSource{frames: []frame{espPacket(0, 1, randomPayload(3, 128))}}
	res, err := a.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tested)
	assert.Len(t, pub.payloads, 1)
}

func TestRunPropagatesSourceError(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	sink := &memorySink{}
	a, err := New(testConfig(), sink, WithClock(clock.NewFakeClock()))
	require.NoError(t, err)

	boom := errors.New("truncated capture")
	src := &sliceSource{frames: []frame{espPacket(0, 1, randomPayload(4, 128))}, err: boom}
	res, err := a.Run(context.Background(), src)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Tested)
	assert.Nil(t, sink.flows)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	a, err := New(testConfig(), &memorySink{}, WithClock(clock.NewFakeClock()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &sliceSource{frames: []frame{espPacket(0, 1, randomPayload(5, 128))}}
	res, err := a.Run(ctx, src)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Frames)
}

func TestRunConsoleOutput(t *testing.T) {
	testutil.ResetRegistryForTest(t)

	var out bytes.Buffer
	a, err := New(testConfig(), &memorySink{}, WithClock(clock.NewFakeClock()), WithConsole(&out, true))
	require.NoError(t, err)

	src := &sliceSource{frames: []frame{espPacket(7, 0xabc, randomPayload(6, 200))}}
	_, err = a.Run(context.Background(), src)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "packet 7 10.0.0.1 -> 10.0.0.2 len=200")
	assert.Contains(t, text, battery.Slots[battery.SlotMonobit].Label())
	assert.Contains(t, text, "spi=0x00000abc")
	assert.True(t, strings.Count(text, battery.Slots[battery.SlotRuns].Label()) >= 2)
}
