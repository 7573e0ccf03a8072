// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProviderSet is metrics providers.
var ProviderSet = wire.NewSet(
	NewRegistry,
	NewIngestMetrics,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
)

// IngestMetrics bundles the collectors updated by the scheduler and its
// primitives.
type IngestMetrics struct {
	CyclesTotal    prometheus.Counter
	CyclesDropped  prometheus.Counter
	ItemsProcessed prometheus.Counter
	ItemsFailed    prometheus.Counter
	RetriesTotal   prometheus.Counter
	CircuitState   *prometheus.GaugeVec
	PermitsInUse   prometheus.Gauge
}

// NewRegistry creates the process-wide Prometheus registry with the standard
// Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// NewIngestMetrics creates and registers the ingestion collectors.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "partsform",
			Subsystem: "ingest",
			Name:      "cycles_total",
			Help:      "Number of processing cycles started.",
		}),
		CyclesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "partsform",
			Subsystem: "ingest",
			Name:      "cycles_dropped_total",
			Help:      "Number of cycle triggers dropped by the reentrancy guard.",
		}),
		ItemsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "partsform",
			Subsystem: "ingest",
			Name:      "items_processed_total",
			Help:      "Number of items processed successfully.",
		}),
		ItemsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "partsform",
			Subsystem: "ingest",
			Name:      "items_failed_total",
			Help:      "Number of per-item processing failures.",
		}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "partsform",
			Subsystem: "ingest",
			Name:      "failed_item_retries_total",
			Help:      "Number of failed items re-attempted by the retry timer.",
		}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "partsform",
			Subsystem: "ingest",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per dependency (0=closed, 1=open, 2=half_open).",
		}, []string{"dependency"}),
		PermitsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "partsform",
			Subsystem: "ingest",
			Name:      "permits_in_use",
			Help:      "Rate limiter permits currently held.",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CyclesDropped,
		m.ItemsProcessed,
		m.ItemsFailed,
		m.RetriesTotal,
		m.CircuitState,
		m.PermitsInUse,
	)

	return m
}
