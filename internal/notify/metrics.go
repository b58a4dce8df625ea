package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	activeSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "livewatch",
		Subsystem: "notify",
		Name:      "active_subscribers",
		Help:      "Current number of hub subscribers.",
	})

	eventsBroadcast = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "notify",
		Name:      "events_broadcast_total",
		Help:      "Total events broadcast through the hub.",
	}, []string{"type"})

	eventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "notify",
		Name:      "events_delivered_total",
		Help:      "Total per-subscriber event deliveries.",
	})

	subscribersPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "notify",
		Name:      "subscribers_pruned_total",
		Help:      "Subscribers removed for failing to accept a broadcast.",
	})

	notificationsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "notify",
		Name:      "notifications_recorded_total",
		Help:      "Feed notifications persisted.",
	})
)

func init() {
	prometheus.MustRegister(
		activeSubscribers,
		eventsBroadcast,
		eventsDelivered,
		subscribersPruned,
		notificationsRecorded,
	)
}
