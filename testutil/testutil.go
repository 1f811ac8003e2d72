// Package testutil holds helpers shared by package tests.
package testutil

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/pitonyak/ADPStampInventory/internal/metrics"
)

var registryMu sync.Mutex

// ResetRegistryForTest provides an isolated Prometheus registry for the lifetime
// of the test and restores the previous registerer once the test completes.
//
// The package-level lock is held for the entire test duration, so tests that
// use this helper execute serially.
func ResetRegistryForTest(t *testing.T) *prometheus.Registry {
	t.Helper()

	registryMu.Lock()

	reg := prometheus.NewRegistry()
	previous := metrics.SetRegisterer(reg)

	t.Cleanup(func() {
		metrics.SetRegisterer(previous)
		registryMu.Unlock()
	})

	return reg
}

// CounterValue sums the counter samples of family name whose labels include
// every pair in labels. A missing family yields 0.
func CounterValue(t *testing.T, reg prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()

	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	var total float64
	for _, fam := range fams {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if hasLabels(m, labels) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func hasLabels(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if want != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}
