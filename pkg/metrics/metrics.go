// Package metrics exposes Prometheus instrumentation for the scheduler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "droplet_scheduler_api_requests_total",
			Help: "DigitalOcean API requests by method and status code",
		},
		[]string{"method", "status"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "droplet_scheduler_actions_total",
			Help: "Droplet actions issued, by type and terminal status",
		},
		[]string{"type", "status"},
	)

	ActionWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "droplet_scheduler_action_wait_seconds",
			Help:    "Time spent polling an action to a terminal state",
			Buckets: []float64{5, 10, 20, 30, 60, 90, 120, 180},
		},
		[]string{"type", "status"},
	)

	DeletesRefusedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "droplet_scheduler_deletes_refused_total",
			Help: "Droplet deletes skipped because no backup image was found",
		},
	)

	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "droplet_scheduler_invocations_total",
			Help: "Reconcile invocations by decision and result",
		},
		[]string{"decision", "result"},
	)

	LastSuccessTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "droplet_scheduler_last_success_timestamp_seconds",
			Help: "Unix time of the last successful reconcile",
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal,
		ActionsTotal,
		ActionWaitSeconds,
		DeletesRefusedTotal,
		InvocationsTotal,
		LastSuccessTimestamp,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
