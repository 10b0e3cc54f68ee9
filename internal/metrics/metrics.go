// Package metrics defines the Prometheus collectors of the transcoder.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "transcoder"

var (
	// Claims counts claim attempts by result: won, contended, missing or error.
	Claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_total",
		Help:      "Claim attempts by result.",
	}, []string{"result"})

	// Heartbeats counts lease renewals by result: ok, lost or error.
	Heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeats_total",
		Help:      "Lease renewals by result.",
	}, []string{"result"})

	LeasesLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leases_lost_total",
		Help:      "Tasks abandoned because their lease was lost.",
	})

	JobsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_reclaimed_total",
		Help:      "Stale running jobs returned to queued.",
	})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Terminal writes by status.",
	}, []string{"status"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Wall time of task execution by outcome.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"outcome"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "code"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
