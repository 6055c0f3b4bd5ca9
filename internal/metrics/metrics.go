// Package metrics holds the prometheus collectors shared by the hub components.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pluginhub"

// Metrics groups every collector the hub exports
type Metrics struct {
	actions        *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	manifestFetch  *prometheus.CounterVec
	manifestCache  *prometheus.CounterVec
	manifestRows   *prometheus.CounterVec
	bulkItems      *prometheus.CounterVec
	pluginsListed  prometheus.Gauge
}

var (
	globalOnce sync.Once
	globalInst *Metrics
)

// Global returns the process-wide collectors, registering them on first use
func Global() *Metrics {
	globalOnce.Do(func() {
		globalInst = New(prometheus.DefaultRegisterer)
	})
	return globalInst
}

// New registers a fresh set of collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "total",
			Help:      "Plugin actions executed, labeled by action and result",
		}, []string{"action", "result"}),
		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "duration_seconds",
			Help:      "Duration of plugin actions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		manifestFetch: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "fetch_total",
			Help:      "Manifest fetches against the upstream source, labeled by source and result",
		}, []string{"source", "result"}),
		manifestCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "cache_total",
			Help:      "Manifest cache lookups, labeled by hit or miss",
		}, []string{"result"}),
		manifestRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "rows_total",
			Help:      "Manifest rows parsed, labeled by accepted or dropped",
		}, []string{"result"}),
		bulkItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "items_total",
			Help:      "Bulk action items processed, labeled by action and result",
		}, []string{"action", "result"}),
		pluginsListed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_listed",
			Help:      "Plugins visible in the most recent listing",
		}),
	}
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// ObserveAction records one action outcome and its duration
func (m *Metrics) ObserveAction(action string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, result(success)).Inc()
	m.actionDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ObserveManifestFetch records an upstream manifest fetch
func (m *Metrics) ObserveManifestFetch(source string, success bool) {
	if m == nil {
		return
	}
	m.manifestFetch.WithLabelValues(source, result(success)).Inc()
}

// ObserveCache records a manifest cache hit or miss
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.manifestCache.WithLabelValues(label).Inc()
}

// ObserveRows records parsed and dropped manifest rows
func (m *Metrics) ObserveRows(accepted, dropped int) {
	if m == nil {
		return
	}
	m.manifestRows.WithLabelValues("accepted").Add(float64(accepted))
	m.manifestRows.WithLabelValues("dropped").Add(float64(dropped))
}

// ObserveBulkItem records one bulk item outcome
func (m *Metrics) ObserveBulkItem(action string, success bool) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(action, result(success)).Inc()
}

// SetListed records the size of the latest listing
func (m *Metrics) SetListed(n int) {
	if m == nil {
		return
	}
	m.pluginsListed.Set(float64(n))
}
