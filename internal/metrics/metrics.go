// Package metrics exposes prometheus counters and gauges for the CDC
// loop (including its dispatch outcomes and ingest pass), the
// dispatcher's pending_source_types cache, the alert evaluator, and the
// recommendation engine, following the registry/collector pattern the
// pack's HTTP services use for their own request metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdcbridge_cycles_total",
		Help: "CDC/backfill driver cycles completed, by mode and outcome.",
	}, []string{"mode", "outcome"})

	CandidatesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdcbridge_candidates_processed_total",
		Help: "Candidate conversations assembled and dispatched, by source and outcome.",
	}, []string{"source", "outcome"})

	DispatchSendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdcbridge_dispatch_send_failures_total",
		Help: "Outbound queue send failures.",
	})

	IngestResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdcbridge_ingest_results_total",
		Help: "Inbound ML result messages processed, by outcome.",
	}, []string{"outcome"})

	PendingSourceTypesSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdcbridge_pending_source_types_size",
		Help: "Current size of the in-process pending_source_types cache.",
	})

	AlertsTriggered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdcbridge_alerts_triggered_total",
		Help: "Alert evaluations that crossed their threshold, by config name.",
	}, []string{"config"})

	RecommendationsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdcbridge_recommendations_generated_total",
		Help: "Recommendations generated by the weekly evaluation run.",
	})

	CycleDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdcbridge_cycle_duration_seconds",
		Help:    "Wall-clock duration of one driver cycle.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
)

func init() {
	registry.MustRegister(
		CyclesTotal,
		CandidatesProcessed,
		DispatchSendFailures,
		IngestResultsTotal,
		PendingSourceTypesSize,
		AlertsTriggered,
		RecommendationsGenerated,
		CycleDurationSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler returns an http.Handler serving the registered metrics in the
// Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
