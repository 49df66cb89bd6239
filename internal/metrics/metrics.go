// Package metrics exposes Prometheus collectors for the ingestion engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeRuns            prometheus.Gauge
	documentsIndexedTotal *prometheus.CounterVec
	itemsSkippedTotal     *prometheus.CounterVec
	pagesFetchedTotal     *prometheus.CounterVec
	politenessWaitSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_active_runs",
			Help: "Number of connector runs currently executing.",
		})
		documentsIndexedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_documents_indexed_total",
			Help: "Documents fed to the indexing collaborator, labeled by source type and action.",
		}, []string{"source_type", "action"})
		itemsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_items_skipped_total",
			Help: "Per-item failures recovered locally, labeled by source type.",
		}, []string{"source_type"})
		pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_pages_fetched_total",
			Help: "HTTP fetches issued by the crawl connector, labeled by outcome.",
		}, []string{"outcome"})
		politenessWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_politeness_wait_seconds",
			Help:    "Histogram of crawl politeness delays.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		})
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncActiveRuns increments the active run gauge.
func IncActiveRuns() {
	Init()
	activeRuns.Inc()
}

// DecActiveRuns decrements the active run gauge.
func DecActiveRuns() {
	Init()
	activeRuns.Dec()
}

// ObserveDocument counts one indexed document.
func ObserveDocument(sourceType, action string) {
	Init()
	documentsIndexedTotal.WithLabelValues(sourceType, action).Inc()
}

// ObserveSkip counts one locally recovered per-item failure.
func ObserveSkip(sourceType string) {
	Init()
	itemsSkippedTotal.WithLabelValues(sourceType).Inc()
}

// ObserveFetch counts one crawl fetch by outcome (ok, error, non_html, robots).
func ObserveFetch(outcome string) {
	Init()
	pagesFetchedTotal.WithLabelValues(outcome).Inc()
}

// ObservePolitenessWait records one crawl delay.
func ObservePolitenessWait(d time.Duration) {
	Init()
	politenessWaitSeconds.Observe(d.Seconds())
}
