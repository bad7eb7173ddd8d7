package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the Prometheus counters and histograms for one ingestion run.
// Collectors live on a private registry rather than the process default: the
// pipeline is a batch job, so metrics leave the process through a Pushgateway
// at the end of the run, and a private registry guarantees the push carries
// exactly this run's samples.
type Metrics struct {
	FilesProcessed prometheus.Counter
	FilesFailed    prometheus.Counter
	RowsRead       prometheus.Counter
	RowsWritten    prometheus.Counter

	// Row attrition metrics.
	DuplicatesDropped  prometheus.Counter
	RowsSkippedByIndex prometheus.Counter
	CoercionNulls      prometheus.Counter

	// Batch shape metrics.
	BatchesWritten prometheus.Counter
	BatchRows      prometheus.Histogram
	BatchDuration  prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates all pipeline metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udl_ingest",
			Name:      "files_processed_total",
			Help:      "Input files fully ingested.",
		}),
		FilesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udl_ingest",
			Name:      "files_failed_total",
			Help:      "Input files abandoned due to malformed records or read errors.",
		}),
		RowsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udl_ingest",
			Name:      "rows_read_total",
			Help:      "Raw records decoded from input files.",
		}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udl_ingest",
			Name:      "rows_written_total",
			Help:      "Rows written to the Parquet dataset.",
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udl_ingest",
			Name:      "duplicates_dropped_total",
			Help:      "Rows dropped by intra-batch natural-key deduplication.",
		}),
		RowsSkippedByIndex: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udl_ingest",
			Name:      "rows_skipped_by_index_total",
			Help:      "Rows filtered out by the durable cross-run key index.",
		}),
		CoercionNulls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udl_ingest",
			Name:      "coercion_nulls_total",
			Help:      "Cells nulled because their value could not parse under the column type.",
		}),
		BatchesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udl_ingest",
			Name:      "batches_written_total",
			Help:      "Batches flushed to the dataset writer.",
		}),
		BatchRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "udl_ingest",
			Name:      "batch_rows",
			Help:      "Rows per batch after deduplication.",
			Buckets:   []float64{100, 1000, 5000, 10000, 25000, 50000},
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "udl_ingest",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a complete chunk-normalize-dedupe-write cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FilesProcessed,
		m.FilesFailed,
		m.RowsRead,
		m.RowsWritten,
		m.DuplicatesDropped,
		m.RowsSkippedByIndex,
		m.CoercionNulls,
		m.BatchesWritten,
		m.BatchRows,
		m.BatchDuration,
	)

	return m
}

// Push delivers the run's metrics to a Pushgateway under the given job name.
// Best effort: callers log a failed push and move on, since losing metrics
// must never fail an otherwise successful run.
func (m *Metrics) Push(gatewayURL, job string) error {
	return push.New(gatewayURL, job).Gatherer(m.registry).Push()
}
