package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAction(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAction("install_github_plugin", true, 10*time.Millisecond)
	m.ObserveAction("install_github_plugin", false, 10*time.Millisecond)
	m.ObserveAction("install_github_plugin", true, 10*time.Millisecond)

	if got := testutil.ToFloat64(m.actions.WithLabelValues("install_github_plugin", "success")); got != 2 {
		t.Errorf("Expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.actions.WithLabelValues("install_github_plugin", "failure")); got != 1 {
		t.Errorf("Expected 1 failure, got %v", got)
	}
}

func TestObserveCacheAndRows(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)
	m.ObserveRows(4, 1)

	if got := testutil.ToFloat64(m.manifestCache.WithLabelValues("miss")); got != 2 {
		t.Errorf("Expected 2 misses, got %v", got)
	}
	if got := testutil.ToFloat64(m.manifestRows.WithLabelValues("dropped")); got != 1 {
		t.Errorf("Expected 1 dropped row, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAction("x", true, time.Second)
	m.ObserveManifestFetch("csv", false)
	m.ObserveCache(true)
	m.ObserveRows(1, 1)
	m.ObserveBulkItem("x", true)
	m.SetListed(3)
}
