package oobd

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "oobd_polls_total",
			Help: "Total number of device polls served",
		},
	)

	metricOperationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oobd_operations_created_total",
			Help: "Total number of operations created by kind",
		},
		[]string{"name"},
	)

	metricOperationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oobd_operation_transitions_total",
			Help: "Total number of applied status transitions by outcome status",
		},
		[]string{"status"},
	)

	metricTransitionRaces = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "oobd_transition_races_total",
			Help: "Total number of status updates that lost an optimistic concurrency race",
		},
	)

	metricUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oobd_uploads_total",
			Help: "Total number of file uploads by result",
		},
		[]string{"result"},
	)

	metricSweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oobd_sweep_duration_seconds",
			Help:    "Duration of reaper sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	metricSweptOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oobd_swept_operations_total",
			Help: "Total number of operations timed out or deleted by the reaper",
		},
		[]string{"sweep"},
	)
)

func init() {
	prometheus.MustRegister(metricPollsTotal)
	prometheus.MustRegister(metricOperationsCreated)
	prometheus.MustRegister(metricOperationTransitions)
	prometheus.MustRegister(metricTransitionRaces)
	prometheus.MustRegister(metricUploadsTotal)
	prometheus.MustRegister(metricSweepDuration)
	prometheus.MustRegister(metricSweptOperations)
}
