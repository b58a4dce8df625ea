package scoring

import "github.com/prometheus/client_golang/prometheus"

var (
	contentScored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livewatch",
		Subsystem: "scoring",
		Name:      "content_scored_total",
		Help:      "Total content chunks scored by resulting level.",
	}, []string{"level"}) // "High", "Medium", "Low"
)

func init() {
	prometheus.MustRegister(contentScored)
}
