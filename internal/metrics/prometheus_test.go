package metrics

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var resetMu sync.Mutex

func withRegistry(t *testing.T, reg *prometheus.Registry) {
	resetMu.Lock()
	ResetForTesting(reg)
	t.Cleanup(func() {
		ResetForTesting(prometheus.DefaultRegisterer)
		resetMu.Unlock()
	})
}

func TestMetrics_RegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	withRegistry(t, reg)

	RecordPacket(PacketAccepted)
	fams1 := gatherFamilies(t, reg)
	if len(fams1) == 0 {
		t.Fatal("expected metrics registered")
	}

	ResetForTesting(reg)
	RecordPacket(PacketAccepted)
	fams2 := gatherFamilies(t, reg)
	if len(fams1) != len(fams2) {
		t.Fatalf("metric count changed after second reset: %d vs %d", len(fams1), len(fams2))
	}
}

func TestMetrics_SetRegistererReturnsPrevious(t *testing.T) {
	resetMu.Lock()
	defer resetMu.Unlock()

	reg := prometheus.NewRegistry()
	previous := SetRegisterer(reg)
	defer SetRegisterer(previous)

	RecordReportRow("csv")
	fams := gatherFamilies(t, reg)
	if got := counterValue(t, fams, "report_rows_written_total", map[string]string{"format": "csv"}); got != 1 {
		t.Errorf("report_rows_written_total{format=csv} = %v, want 1", got)
	}
}

func TestMetrics_PacketCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	withRegistry(t, reg)

	RecordPacket(PacketAccepted)
	RecordPacket(PacketAccepted)
	RecordPacket(PacketFiltered)
	RecordPacket(PacketNoESP)
	RecordPacket(PacketEmpty)

	fams := gatherFamilies(t, reg)
	tests := []struct {
		result string
		want   float64
	}{
		{PacketAccepted, 2},
		{PacketFiltered, 1},
		{PacketNoESP, 1},
		{PacketEmpty, 1},
	}
	for _, tt := range tests {
		got := counterValue(t, fams, "esp_packets_total", map[string]string{"result": tt.result})
		if got != tt.want {
			t.Errorf("esp_packets_total{result=%s} = %v, want %v", tt.result, got, tt.want)
		}
	}
}

func TestMetrics_BatteryRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	withRegistry(t, reg)

	RecordBatteryRun(3*time.Millisecond, 97.5)
	RecordBatteryRun(-time.Second, 100)
	RecordSlotOutcome("01. Monobit Test", "pass")
	RecordSlotOutcome("01. Monobit Test", "pass")
	RecordSlotOutcome("09. Maurer's Universal Statistical Test", "skip")

	fams := gatherFamilies(t, reg)
	if got := counterValue(t, fams, "battery_runs_total", nil); got != 2 {
		t.Errorf("battery_runs_total = %v, want 2", got)
	}
	if got := histogramCount(t, fams, "battery_run_duration_seconds", nil); got != 2 {
		t.Errorf("battery_run_duration_seconds count = %d, want 2", got)
	}
	if got := histogramCount(t, fams, "battery_percent_passed", nil); got != 2 {
		t.Errorf("battery_percent_passed count = %d, want 2", got)
	}
	if got := counterValue(t, fams, "battery_slot_outcomes_total", map[string]string{"test": "01. Monobit Test", "outcome": "pass"}); got != 2 {
		t.Errorf("monobit pass count = %v, want 2", got)
	}
	if got := counterValue(t, fams, "battery_slot_outcomes_total", map[string]string{"test": "09. Maurer's Universal Statistical Test", "outcome": "skip"}); got != 1 {
		t.Errorf("universal skip count = %v, want 1", got)
	}
}

func TestMetrics_PayloadDiagnostics(t *testing.T) {
	reg := prometheus.NewRegistry()
	withRegistry(t, reg)

	RecordPayloadBytes(1400)
	RecordMinEntropy("mcv", 7.9)
	RecordMinEntropy("mcv", 12)
	RecordMinEntropy("collision", -1)
	RecordHealthFailure("rct")
	RecordHealthFailure("apt")
	RecordHealthFailure("apt")
	SetFlowsTracked(3)

	fams := gatherFamilies(t, reg)
	if got := histogramCount(t, fams, "payload_bytes", nil); got != 1 {
		t.Errorf("payload_bytes count = %d, want 1", got)
	}
	mcv := metricWithLabels(t, fams, "payload_min_entropy_bits", map[string]string{"method": "mcv"}).GetHistogram()
	if mcv.GetSampleCount() != 2 {
		t.Errorf("mcv sample count = %d, want 2", mcv.GetSampleCount())
	}
	if sum := mcv.GetSampleSum(); math.Abs(sum-15.9) > 1e-9 {
		t.Errorf("mcv sample sum = %v, want 15.9 (clamped to 8)", sum)
	}
	collision := metricWithLabels(t, fams, "payload_min_entropy_bits", map[string]string{"method": "collision"}).GetHistogram()
	if collision.GetSampleSum() != 0 {
		t.Errorf("collision sample sum = %v, want 0 (clamped)", collision.GetSampleSum())
	}
	if got := counterValue(t, fams, "flow_health_failures_total", map[string]string{"test": "apt"}); got != 2 {
		t.Errorf("flow_health_failures_total{test=apt} = %v, want 2", got)
	}
	if got := gaugeValue(t, fams, "audit_flows_tracked", nil); got != 3 {
		t.Errorf("audit_flows_tracked = %v, want 3", got)
	}
}

func TestMetrics_MQTT(t *testing.T) {
	reg := prometheus.NewRegistry()
	withRegistry(t, reg)

	RecordMQTTPublish(true)
	RecordMQTTPublish(false)
	RecordMQTTPublish(false)
	SetMQTTConnected(true)

	fams := gatherFamilies(t, reg)
	if got := counterValue(t, fams, "mqtt_publish_total", map[string]string{"result": "success"}); got != 1 {
		t.Errorf("mqtt_publish_total{result=success} = %v, want 1", got)
	}
	if got := counterValue(t, fams, "mqtt_publish_total", map[string]string{"result": "failure"}); got != 2 {
		t.Errorf("mqtt_publish_total{result=failure} = %v, want 2", got)
	}
	if got := gaugeValue(t, fams, "mqtt_connected", nil); got != 1 {
		t.Errorf("mqtt_connected = %v, want 1", got)
	}

	SetMQTTConnected(false)
	fams = gatherFamilies(t, reg)
	if got := gaugeValue(t, fams, "mqtt_connected", nil); got != 0 {
		t.Errorf("mqtt_connected = %v, want 0", got)
	}
}

func gatherFamilies(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(fams))
	for _, fam := range fams {
		out[fam.GetName()] = fam
	}
	return out
}

func counterValue(t *testing.T, fams map[string]*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	counter := metricWithLabels(t, fams, name, labels).GetCounter()
	if counter == nil {
		t.Fatalf("metric %s is not a counter", name)
	}
	return counter.GetValue()
}

func gaugeValue(t *testing.T, fams map[string]*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	gauge := metricWithLabels(t, fams, name, labels).GetGauge()
	if gauge == nil {
		t.Fatalf("metric %s is not a gauge", name)
	}
	return gauge.GetValue()
}

func histogramCount(t *testing.T, fams map[string]*dto.MetricFamily, name string, labels map[string]string) uint64 {
	t.Helper()
	hist := metricWithLabels(t, fams, name, labels).GetHistogram()
	if hist == nil {
		t.Fatalf("metric %s is not a histogram", name)
	}
	return hist.GetSampleCount()
}

func metricWithLabels(t *testing.T, fams map[string]*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	fam, ok := fams[name]
	if !ok {
		t.Fatalf("metric %s not found", name)
	}
	for _, metric := range fam.GetMetric() {
		if labelsMatch(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return nil
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range metric.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}
