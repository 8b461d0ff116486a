package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal, lockAcquireTotal) }

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Tracks cache hits and misses for in-process caches.",
		},
		[]string{"cache", "result"}, // e.g., cache="prompt_module", result="hit"
	)

	lockAcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_acquire_total",
			Help: "Distributed lock attempts by scope and result.",
		},
		[]string{"scope", "result"}, // scope: 'conversation', 'user_context'; result: 'acquired', 'held', 'error'
	)
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func IncLockAcquire(scope, result string) {
	lockAcquireTotal.WithLabelValues(norm(scope), norm(result)).Inc()
}
