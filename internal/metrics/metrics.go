// Package metrics exposes Prometheus collectors for the harvester service.
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
	crawlOutcomesTotal   *prometheus.CounterVec
	fetchDurationSeconds *prometheus.HistogramVec
	schedulerJobsTotal   *prometheus.CounterVec
	schedulerActiveJobs  prometheus.Gauge
	schedulerQueueDepth  prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		crawlOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_crawl_outcomes_total",
				Help: "Crawl attempts by kind and outcome classification.",
			},
			[]string{"kind", "outcome"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Upstream fetch latency by content kind.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		)
		schedulerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_scheduler_jobs_total",
				Help: "Jobs reaching a terminal status, by type and status.",
			},
			[]string{"type", "status"},
		)
		schedulerActiveJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_scheduler_active_jobs",
				Help: "Jobs currently in flight.",
			},
		)
		schedulerQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_scheduler_queue_depth",
				Help: "Pending jobs waiting in the in-memory queue.",
			},
		)
	})
}

// ObserveCrawl records one crawl attempt outcome.
func ObserveCrawl(kind, outcome string) {
	if crawlOutcomesTotal == nil {
		return
	}
	crawlOutcomesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveFetch records upstream fetch latency.
func ObserveFetch(kind string, d time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	fetchDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// JobFinished records a job reaching a terminal status.
func JobFinished(jobType, status string) {
	if schedulerJobsTotal == nil {
		return
	}
	schedulerJobsTotal.WithLabelValues(jobType, status).Inc()
}

// SetActiveJobs updates the in-flight gauge.
func SetActiveJobs(n int) {
	if schedulerActiveJobs == nil {
		return
	}
	schedulerActiveJobs.Set(float64(n))
}

// SetQueueDepth updates the pending-queue gauge.
func SetQueueDepth(n int) {
	if schedulerQueueDepth == nil {
		return
	}
	schedulerQueueDepth.Set(float64(n))
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
