// Package metrics registers and records Prometheus metrics for the audit
// pipeline: packet capture, battery evaluation, payload diagnostics, report
// sinks and MQTT publishing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Packet results recorded by RecordPacket.
const (
	PacketAccepted = "accepted"
	PacketFiltered = "filtered"
	PacketNoESP    = "no_esp"
	PacketEmpty    = "empty"
)

var (
	PacketsTotal       *prometheus.CounterVec
	BatteryRuns        prometheus.Counter
	BatteryRunDuration prometheus.Histogram
	SlotOutcomes       *prometheus.CounterVec
	PercentPassed      prometheus.Histogram
	PayloadBytes       prometheus.Histogram
	PayloadMinEntropy  *prometheus.HistogramVec
	FlowHealthFailures *prometheus.CounterVec
	FlowsTracked       prometheus.Gauge
	ReportRows         *prometheus.CounterVec
	MQTTPublish        *prometheus.CounterVec
	MQTTConnected      prometheus.Gauge

	metricsMu         sync.RWMutex
	currentRegisterer prometheus.Registerer = prometheus.DefaultRegisterer
	registered        []prometheus.Collector
)

func init() {
	resetMetrics(prometheus.DefaultRegisterer)
}

// SetRegisterer sets a new registerer and reinitializes all metrics.
// It returns the previous registerer so it can be restored later.
// Tests use it to get an isolated registry.
func SetRegisterer(registerer prometheus.Registerer) prometheus.Registerer {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	previous := currentRegisterer
	if currentRegisterer != nil {
		unregisterAll(currentRegisterer)
	}
	currentRegisterer = registerer
	initializeMetrics(registerer)
	return previous
}

// ResetForTesting reconfigures all metric collectors against the provided registerer.
//
// Deprecated: Use SetRegisterer instead for better test isolation.
func ResetForTesting(registerer prometheus.Registerer) {
	resetMetrics(registerer)
}

func resetMetrics(registerer prometheus.Registerer) {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	if currentRegisterer != nil {
		unregisterAll(currentRegisterer)
	}
	currentRegisterer = registerer
	initializeMetrics(registerer)
}

// initializeMetrics creates all metrics using the provided registerer.
// Callers must hold metricsMu.
func initializeMetrics(registerer prometheus.Registerer) {
	factory := promauto.With(registerer)

	PacketsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esp_packets_total",
			Help: "Packets read from the capture, by pipeline result",
		},
		[]string{"result"},
	)

	BatteryRuns = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "battery_runs_total",
			Help: "Number of payloads evaluated by the randomness battery",
		},
	)

	BatteryRunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "battery_run_duration_seconds",
			Help:    "Time spent evaluating the battery on one payload",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	SlotOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battery_slot_outcomes_total",
			Help: "Per-slot classification of battery results",
		},
		[]string{"test", "outcome"},
	)

	PercentPassed = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "battery_percent_passed",
			Help:    "Percentage of applicable slots passed per payload",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	PayloadBytes = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payload_bytes",
			Help:    "ESP payload length in bytes",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10),
		},
	)

	PayloadMinEntropy = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payload_min_entropy_bits",
			Help:    "Min-entropy estimate per payload byte (bits)",
			Buckets: prometheus.LinearBuckets(0, 0.5, 17),
		},
		[]string{"method"},
	)

	FlowHealthFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_health_failures_total",
			Help: "Continuous health test failures on ESP flow payload streams",
		},
		[]string{"test"},
	)

	FlowsTracked = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_flows_tracked",
			Help: "Number of distinct ESP flows seen in the current run",
		},
	)

	ReportRows = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_rows_written_total",
			Help: "Rows written to report sinks",
		},
		[]string{"format"},
	)

	MQTTPublish = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_publish_total",
			Help: "MQTT summary publish attempts by result",
		},
		[]string{"result"},
	)

	MQTTConnected = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "mqtt_connected",
			Help: "MQTT publisher connection status (1=connected, 0=disconnected)",
		},
	)

	registered = []prometheus.Collector{
		PacketsTotal, BatteryRuns, BatteryRunDuration, SlotOutcomes, PercentPassed,
		PayloadBytes, PayloadMinEntropy, FlowHealthFailures, FlowsTracked,
		ReportRows, MQTTPublish, MQTTConnected,
	}
}

func unregisterAll(registerer prometheus.Registerer) {
	for _, c := range registered {
		if c != nil {
			registerer.Unregister(c)
		}
	}
	registered = nil
}

// RecordPacket counts a packet with one of the Packet* results.
func RecordPacket(result string) {
	PacketsTotal.WithLabelValues(result).Inc()
}

// RecordBatteryRun records one battery evaluation and its pass percentage.
func RecordBatteryRun(duration time.Duration, percentPassed float64) {
	if duration < 0 {
		duration = 0
	}
	BatteryRuns.Inc()
	BatteryRunDuration.Observe(duration.Seconds())
	PercentPassed.Observe(percentPassed)
}

// RecordSlotOutcome counts a classified slot.
func RecordSlotOutcome(test, outcome string) {
	SlotOutcomes.WithLabelValues(test, outcome).Inc()
}

// RecordPayloadBytes observes a payload length.
func RecordPayloadBytes(n int) {
	PayloadBytes.Observe(float64(n))
}

// RecordMinEntropy observes a per-byte min-entropy estimate, clamped to [0, 8].
func RecordMinEntropy(method string, minEntropy float64) {
	PayloadMinEntropy.WithLabelValues(method).Observe(min(max(minEntropy, 0), 8))
}

// RecordHealthFailure counts an RCT or APT failure.
func RecordHealthFailure(test string) {
	FlowHealthFailures.WithLabelValues(test).Inc()
}

// SetFlowsTracked updates the number of flows in the current run.
func SetFlowsTracked(n int) {
	FlowsTracked.Set(float64(n))
}

// RecordReportRow counts a row written by a report sink.
func RecordReportRow(format string) {
	ReportRows.WithLabelValues(format).Inc()
}

// RecordMQTTPublish counts a publish attempt.
func RecordMQTTPublish(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	MQTTPublish.WithLabelValues(result).Inc()
}

// SetMQTTConnected updates the MQTT connection gauge.
func SetMQTTConnected(connected bool) {
	if connected {
		MQTTConnected.Set(1)
	} else {
		MQTTConnected.Set(0)
	}
}
