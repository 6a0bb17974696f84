package service

import "github.com/prometheus/client_golang/prometheus"

var (
	modelLoadOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "konacaption",
			Subsystem: "model",
			Name:      "load_ops_total",
			Help:      "The total number of model load attempts.",
		},
		[]string{"result"},
	)
	modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "konacaption",
			Subsystem: "model",
			Name:      "load_duration_seconds",
			Help:      "Time spent loading the captioning model.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"device"},
	)
	modelLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "konacaption",
			Subsystem: "model",
			Name:      "loaded",
			Help:      "1 if the captioning model is loaded.",
		},
	)

	analyzeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "konacaption",
			Subsystem: "inference",
			Name:      "analyze_ops_total",
			Help:      "The total number of analyzed images by outcome.",
		},
		[]string{"result"},
	)
	analyzeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "konacaption",
			Subsystem: "inference",
			Name:      "analyze_duration_seconds",
			Help:      "End to end analysis time per image.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
	tagsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "konacaption",
			Subsystem: "inference",
			Name:      "tags_returned",
			Help:      "Number of tags returned per image.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		},
	)
	executorActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "konacaption",
			Subsystem: "executor",
			Name:      "active_jobs",
			Help:      "Jobs currently submitted to the worker pool.",
		},
	)
	executorWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "konacaption",
			Subsystem: "executor",
			Name:      "generation_wait_duration_seconds",
			Help:      "Time spent waiting to enter the generation section.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(modelLoadOps)
	prometheus.MustRegister(modelLoadDuration)
	prometheus.MustRegister(modelLoaded)
	prometheus.MustRegister(analyzeOps)
	prometheus.MustRegister(analyzeDuration)
	prometheus.MustRegister(tagsReturned)
	prometheus.MustRegister(executorActive)
	prometheus.MustRegister(executorWaitDuration)
}
