// Package metrics exposes Prometheus collectors for the estimator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paint_estimator"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	EstimatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "estimate",
			Name:      "total",
			Help:      "Estimates by final status",
		},
		[]string{"status"},
	)

	EstimateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "estimate",
			Name:      "duration_seconds",
			Help:      "End to end estimate duration in seconds",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "estimate",
			Name:      "cache_hits_total",
			Help:      "Model replies served from the reply cache",
		},
	)

	GeminiCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gemini",
			Name:      "calls_total",
			Help:      "Gemini calls by turn and outcome",
		},
		[]string{"turn", "outcome"},
	)

	GeminiTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gemini",
			Name:      "tokens_total",
			Help:      "Tokens reported by Gemini usage metadata",
		},
		[]string{"kind"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "uploads_total",
			Help:      "Floorplan uploads by outcome",
		},
		[]string{"outcome"},
	)
)
