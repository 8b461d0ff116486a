package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(userContextExtractionsTotal) }

var userContextExtractionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "user_context_extractions_total",
		Help: "Context extraction runs, labeled by result.",
	},
	[]string{"result"}, // 'saved', 'empty', 'no_transcript', 'locked', 'failed'
)

func IncUserContextExtraction(result string) {
	userContextExtractionsTotal.WithLabelValues(norm(result)).Inc()
}
