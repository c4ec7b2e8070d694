package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	statusPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakerun_status_polls_total",
			Help: "Total number of status fetches issued by poll loops.",
		},
		[]string{"kind"},
	)

	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakerun_operations_total",
			Help: "Total number of awaited operations by terminal outcome.",
		},
		[]string{"kind", "outcome"},
	)

	waitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lakerun_wait_duration_seconds",
			Help:    "Wall-clock time spent awaiting operation completion.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(statusPollsTotal)
	prometheus.MustRegister(operationsTotal)
	prometheus.MustRegister(waitDuration)
}

// observeWait records one completed (or failed) await for an operation kind.
func observeWait(kind, outcome string, start time.Time) {
	operationsTotal.WithLabelValues(kind, outcome).Inc()
	waitDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
