package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ci_admission_passes_total",
		Help: "Admission passes by final state",
	}, []string{"state"})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ci_admission_pass_duration_seconds",
		Help:    "Admission pass duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	droppedBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ci_admission_dropped_builds_total",
		Help: "Builds dropped by failure reason",
	}, []string{"reason"})

	recomputeTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ci_admission_recompute_triggers_total",
		Help: "Pipeline recomputations requested after admission",
	})

	cancelRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ci_admission_cancel_requests_total",
		Help: "Build cancel requests by result",
	}, []string{"result"})
)
