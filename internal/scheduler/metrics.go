package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by result.",
		},
		[]string{"result"}, // ran, skipped, error
	)
	tasksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "tasks_total",
			Help:      "Tasks handled by the scheduler by outcome.",
		},
		[]string{"outcome"}, // completed, failed, lost, stale, panic
	)
	tickDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a scheduler tick.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	inFlightGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scheduler",
			Name:      "tasks_in_flight",
			Help:      "Claimed tasks currently being dispatched.",
		},
	)
)
