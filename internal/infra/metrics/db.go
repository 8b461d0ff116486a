package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(dbPoolStats, dbPhaseSeconds, dbTxTotal) }

var (
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_stats",
			Help: "Current state of the database connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use'
	)

	dbPhaseSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_phase_seconds",
			Help:    "Duration of each inference phase.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"}, // 'read', 'model', 'write'
	)

	dbTxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_transactions_total",
			Help: "Transactions by access mode and outcome.",
		},
		[]string{"mode", "result"}, // mode: read_only|read_write; result: commit|rollback|begin_error|commit_error
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func ObservePhase(phase string, d time.Duration) {
	dbPhaseSeconds.WithLabelValues(norm(phase)).Observe(d.Seconds())
}

func IncTx(mode, result string) {
	dbTxTotal.WithLabelValues(norm(mode), norm(result)).Inc()
}
