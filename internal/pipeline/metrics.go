package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrd",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total OCR runs by terminal outcome",
		},
		[]string{"outcome"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ocrd",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of completed OCR runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	modelLoadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ocrd",
			Subsystem: "pipeline",
			Name:      "model_loads_total",
			Help:      "Total model load attempts",
		},
	)

	modelLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ocrd",
			Subsystem: "pipeline",
			Name:      "model_load_duration_seconds",
			Help:      "Duration of model loads in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	busyRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ocrd",
			Subsystem: "pipeline",
			Name:      "busy_rejections_total",
			Help:      "Run requests rejected because one was in flight",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal, runDuration, modelLoadsTotal, modelLoadDuration, busyRejectionsTotal)
}

func observeRun(outcome string, took time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(took.Seconds())
}
