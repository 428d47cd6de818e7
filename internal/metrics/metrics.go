// Package metrics exposes Prometheus collectors for the probing pipeline and
// the ingest API. Collectors live on a dedicated registry so tests and
// multiple processes in one binary do not collide with the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Probe outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeSkipped   = "skipped"
	OutcomeAbandoned = "abandoned"
	OutcomeCancelled = "cancelled"
)

var (
	Registry = prometheus.NewRegistry()

	ProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pingmatrix_probes_total",
		Help: "Probe attempts by outcome.",
	}, []string{"outcome"})

	ProbeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pingmatrix_probe_latency_ms",
		Help:    "Average round-trip time reported by successful probes, in milliseconds.",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
	})

	RoundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pingmatrix_rounds_total",
		Help: "Completed probing rounds.",
	})

	RoundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pingmatrix_round_duration_seconds",
		Help:    "Wall time of a complete probing round.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	SessionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pingmatrix_sessions_open",
		Help: "Cached SSH sessions to routers.",
	})

	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pingmatrix_deliveries_total",
		Help: "Measurements pushed to the server, by result.",
	}, []string{"result"})

	IngestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pingmatrix_ingest_total",
		Help: "POST /pings requests by response code.",
	}, []string{"code"})

	StoredPairs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pingmatrix_stored_pairs",
		Help: "Ordered host pairs returned by the last listing.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ProbesTotal,
		ProbeLatency,
		RoundsTotal,
		RoundDuration,
		SessionsOpen,
		DeliveriesTotal,
		IngestTotal,
		StoredPairs,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
