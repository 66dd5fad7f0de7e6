// Package metrics defines the Prometheus collectors used by the bridge and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the bridge.
type Metrics struct {
	EventsTotal         *prometheus.CounterVec
	BatchesTotal        prometheus.Counter
	BatchSize           prometheus.Histogram
	BatchDuration       prometheus.Histogram
	UpsertDuration      *prometheus.HistogramVec
	CommittedOffset     *prometheus.GaugeVec
	CommitFailuresTotal prometheus.Counter
	ProvisioningTotal   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_events_total",
				Help: "Events processed by outcome (indexed, duplicate, failed) and error kind.",
			},
			[]string{"status", "kind"},
		),
		BatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_batches_total",
				Help: "Fetch iterations completed, including empty ones.",
			},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bridge_batch_size",
				Help:    "Events per fetched batch.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bridge_batch_duration_seconds",
				Help:    "Time spent indexing and committing one batch.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		UpsertDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_upsert_duration_seconds",
				Help:    "Document upsert latency in seconds by outcome.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"status"},
		),
		CommittedOffset: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bridge_committed_offset",
				Help: "Last offset committed per partition.",
			},
			[]string{"partition"},
		),
		CommitFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_commit_failures_total",
				Help: "Cursor commits that failed and will be retried by the next batch.",
			},
		),
		ProvisioningTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_provisioning_total",
				Help: "Destination provisioning results (existing, created, raced, failed).",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.BatchesTotal,
		m.BatchSize,
		m.BatchDuration,
		m.UpsertDuration,
		m.CommittedOffset,
		m.CommitFailuresTotal,
		m.ProvisioningTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
