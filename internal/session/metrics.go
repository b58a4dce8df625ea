package session

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "sessions",
		Name:      "started_total",
		Help:      "Total live sessions started.",
	})

	sessionsEnded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "sessions",
		Name:      "ended_total",
		Help:      "Total live sessions ended.",
	})

	chunksAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "sessions",
		Name:      "chunks_appended_total",
		Help:      "Total content chunks appended across all sessions.",
	})

	sessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "livewatch",
		Subsystem: "sessions",
		Name:      "duration_seconds",
		Help:      "Time from session start to end in seconds.",
		Buckets:   []float64{30, 60, 300, 600, 1800, 3600, 7200, 14400},
	})
)

func init() {
	prometheus.MustRegister(
		sessionsStarted,
		sessionsEnded,
		chunksAppended,
		sessionDuration,
	)
}
