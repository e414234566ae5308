package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch outcomes.
const (
	outcomeStored       = "stored"
	outcomeSplit        = "split"
	outcomeDeadLettered = "dead_lettered"
	outcomeAborted      = "aborted"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	BatchesTotal   *prometheus.CounterVec
	ChunksTotal    prometheus.Counter
	DocumentsTotal *prometheus.CounterVec
	BatchDuration  prometheus.Histogram
}

// NewMetrics creates ingestion metrics registered with reg. A nil reg leaves
// the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_ingestion_batches_total",
				Help: "Embedding batches by outcome",
			},
			[]string{"outcome"},
		),
		ChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_ingestion_chunks_total",
			Help: "Chunks embedded and written to the knowledge store",
		}),
		DocumentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_ingestion_documents_total",
				Help: "Documents by ingestion outcome",
			},
			[]string{"outcome"},
		),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "conductor_ingestion_batch_seconds",
			Help:    "Time to embed and store one batch, retries included",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}
