package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(inferenceBatchesTotal, inferenceBatchSize, outboundSegmentsTotal, backgroundTasksTotal)
}

var (
	inferenceBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_batches_total",
			Help: "Inference batches processed, labeled by result.",
		},
		[]string{"result"}, // 'succeeded', 'no_reply', '*_error'
	)

	inferenceBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_batch_size",
			Help:    "Number of jobs per inference batch.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	outboundSegmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbound_segments_total",
			Help: "Outbound message rows created by the processor.",
		},
	)

	backgroundTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_tasks_total",
			Help: "Background tasks by name and result.",
		},
		[]string{"task", "result"}, // result: 'ok', 'error', 'panic', 'rejected', 'dropped_error'
	)
)

func IncInferenceBatch(result string, size int) {
	inferenceBatchesTotal.WithLabelValues(norm(result)).Inc()
	inferenceBatchSize.Observe(float64(size))
}

func AddOutboundSegments(n int) {
	outboundSegmentsTotal.Add(float64(n))
}

func IncBackgroundTask(task, result string) {
	backgroundTasksTotal.WithLabelValues(norm(task), norm(result)).Inc()
}
