package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiTokensIn,
		aiTokensOut,
		aiCallsLatencyMs,
		aiRetriesTotal,
		aiInFlight,
		aiSlotWaitSeconds,
	)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "AI call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 20000, 40000},
		},
		[]string{"provider", "model", "success"},
	)

	aiRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_retries_total",
			Help: "Model call retries, labeled by caller (inference, user_context).",
		},
		[]string{"caller"},
	)

	aiInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ai_calls_in_flight",
			Help: "Model calls currently holding a concurrency slot.",
		},
	)

	aiSlotWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_slot_wait_seconds",
			Help:    "Time spent waiting for a model concurrency slot.",
			Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 15, 30},
		},
	)
)

func ObserveModelCall(provider, model string, tokensIn, tokensOut int, latencyMs int, success bool) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncModelRetry(caller string) {
	aiRetriesTotal.WithLabelValues(norm(caller)).Inc()
}

// ModelSlotAcquired records the wait for a slot and marks one call in flight.
// The returned func releases it.
func ModelSlotAcquired(waited time.Duration) func() {
	aiSlotWaitSeconds.Observe(waited.Seconds())
	aiInFlight.Inc()
	return aiInFlight.Dec
}
