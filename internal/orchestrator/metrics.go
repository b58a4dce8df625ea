package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "orchestrator",
		Name:      "events_processed_total",
		Help:      "Events processed by kind and outcome.",
	}, []string{"kind", "status"})

	pollFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "orchestrator",
		Name:      "poll_failures_total",
		Help:      "Upstream poll cycles that failed.",
	})
)

func init() {
	prometheus.MustRegister(eventsProcessed, pollFailures)
}
