package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsTotal counts processed events by analysis and handler kind
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracestate",
		Subsystem: "provider",
		Name:      "events_total",
		Help:      "Total events processed by handler kind",
	}, []string{"analysis", "kind"})

	// eventsSkipped counts malformed events
	eventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracestate",
		Subsystem: "provider",
		Name:      "events_skipped_total",
		Help:      "Total malformed events skipped by handler kind",
	}, []string{"analysis", "kind"})

	// mutationsRejected counts mutations the store refused
	mutationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracestate",
		Subsystem: "provider",
		Name:      "mutations_rejected_total",
		Help:      "Total state mutations rejected (ordering violations, empty stacks)",
	}, []string{"analysis", "source"})

	// edgesTotal counts dependency edges by origin
	edgesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracestate",
		Subsystem: "provider",
		Name:      "edges_total",
		Help:      "Total dependency edges recorded by origin",
	}, []string{"analysis", "origin"})

	// futureEventsPending tracks the scheduler backlog
	futureEventsPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tracestate",
		Subsystem: "provider",
		Name:      "future_events_pending",
		Help:      "Future events scheduled but not applied yet",
	}, []string{"analysis"})
)
