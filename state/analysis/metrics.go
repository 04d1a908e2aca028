package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// buildDuration tracks wall time per analysis build
	buildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tracestate",
		Subsystem: "analysis",
		Name:      "build_duration_seconds",
		Help:      "Wall time of one analysis build",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"analysis"})

	// buildsTotal counts finished builds by outcome
	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracestate",
		Subsystem: "analysis",
		Name:      "builds_total",
		Help:      "Total analysis builds by outcome (ok, failed, canceled)",
	}, []string{"analysis", "outcome"})
)
