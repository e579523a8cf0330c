// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the engine's prometheus instruments.
type Collector struct {
	storeOpsTotal     *prometheus.CounterVec
	storeRetriesTotal *prometheus.CounterVec
	truncationsTotal  *prometheus.CounterVec
	assembliesTotal   prometheus.Counter
	contextTokens     prometheus.Histogram
	eventsTotal       *prometheus.CounterVec
}

var (
	defaultCollector *Collector
	once             sync.Once
)

// Default returns the process-wide collector, registering instruments on
// first use.
func Default() *Collector {
	once.Do(func() {
		defaultCollector = newCollector("memcore")
	})
	return defaultCollector
}

func newCollector(namespace string) *Collector {
	return &Collector{
		storeOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Tier store operations by store, operation, and outcome.",
			},
			[]string{"store", "op", "outcome"},
		),
		storeRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_retries_total",
				Help:      "Retried tier store operations by store.",
			},
			[]string{"store"},
		),
		truncationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "context_truncations_total",
				Help:      "Context sections truncated or dropped by section label.",
			},
			[]string{"section"},
		),
		assembliesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "context_assemblies_total",
				Help:      "Completed context assemblies.",
			},
		),
		contextTokens: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "context_tokens",
				Help:      "Token count of assembled contexts.",
				Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
			},
		),
		eventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "update_events_total",
				Help:      "Update events by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
	}
}

// ObserveStoreOp records one store operation outcome.
func (c *Collector) ObserveStoreOp(store, op, outcome string) {
	c.storeOpsTotal.WithLabelValues(store, op, outcome).Inc()
}

// ObserveRetry records a retried store operation.
func (c *Collector) ObserveRetry(store string) {
	c.storeRetriesTotal.WithLabelValues(store).Inc()
}

// ObserveTruncation records a truncated or dropped context section.
func (c *Collector) ObserveTruncation(section string) {
	c.truncationsTotal.WithLabelValues(section).Inc()
}

// ObserveAssembly records one completed assembly and its size.
func (c *Collector) ObserveAssembly(tokens int) {
	c.assembliesTotal.Inc()
	c.contextTokens.Observe(float64(tokens))
}

// ObserveEvent records one routed update event.
func (c *Collector) ObserveEvent(eventType, outcome string) {
	c.eventsTotal.WithLabelValues(eventType, outcome).Inc()
}
