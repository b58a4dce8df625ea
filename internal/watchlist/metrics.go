package watchlist

import "github.com/prometheus/client_golang/prometheus"

var (
	accountsAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "watchlist",
		Name:      "accounts_added_total",
		Help:      "Total accounts added to the watchlist.",
	})

	accountsRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "watchlist",
		Name:      "accounts_removed_total",
		Help:      "Total accounts removed from the watchlist.",
	})

	liveStatusChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "watchlist",
		Name:      "live_status_changes_total",
		Help:      "Total live status transitions by direction.",
	}, []string{"direction"}) // "live", "offline"
)

func init() {
	prometheus.MustRegister(
		accountsAdded,
		accountsRemoved,
		liveStatusChanges,
	)
}
