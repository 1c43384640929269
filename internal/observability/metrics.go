package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion engine.
type Metrics struct {
	DatesProcessed *prometheus.CounterVec // labels: status={succeeded,skipped,failed}
	RunActive      prometheus.Gauge

	// Fetch metrics.
	GranulesFetched prometheus.Counter
	GranulesSkipped prometheus.Counter // already present in staging
	FetchErrors     prometheus.Counter
	FetchBytes      prometheus.Counter

	// Aggregation metrics.
	GranulesDiscarded prometheus.Counter // corrupt or outside the bucket window
	BucketsReduced    prometheus.Counter

	// Commit metrics.
	DateDuration    prometheus.Histogram
	ArchiveAppends  *prometheus.CounterVec // labels: outcome={committed,retried,failed}
	ArchiveDuration prometheus.Histogram
	CheckpointDates prometheus.Gauge
}

// NewMetrics creates and registers all ingestion metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.DatesProcessed,
		m.RunActive,
		m.GranulesFetched,
		m.GranulesSkipped,
		m.FetchErrors,
		m.FetchBytes,
		m.GranulesDiscarded,
		m.BucketsReduced,
		m.DateDuration,
		m.ArchiveAppends,
		m.ArchiveDuration,
		m.CheckpointDates,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		DatesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raster_ingest",
			Name:      "dates_processed_total",
			Help:      "Days processed by final status.",
		}, []string{"status"}),
		RunActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raster_ingest",
			Name:      "run_active",
			Help:      "1 while an ingestion run is in progress.",
		}),
		GranulesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raster_ingest",
			Name:      "granules_fetched_total",
			Help:      "Granule files downloaded to staging.",
		}),
		GranulesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raster_ingest",
			Name:      "granules_skipped_total",
			Help:      "Granule downloads skipped because the file already existed.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raster_ingest",
			Name:      "fetch_errors_total",
			Help:      "Granule downloads that failed and were omitted.",
		}),
		FetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raster_ingest",
			Name:      "fetch_bytes_total",
			Help:      "Bytes downloaded from the remote archive.",
		}),
		GranulesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raster_ingest",
			Name:      "granules_discarded_total",
			Help:      "Granules skipped during aggregation (corrupt or outside all buckets).",
		}),
		BucketsReduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raster_ingest",
			Name:      "buckets_reduced_total",
			Help:      "Non-empty time buckets folded into the daily maximum.",
		}),
		DateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "raster_ingest",
			Name:      "date_duration_seconds",
			Help:      "Duration of a complete fetch-aggregate-reproject-commit cycle for one day.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		ArchiveAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raster_ingest",
			Name:      "archive_appends_total",
			Help:      "Yearly shard read-modify-write operations by outcome.",
		}, []string{"outcome"}),
		ArchiveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "raster_ingest",
			Name:      "archive_append_duration_seconds",
			Help:      "Duration of one yearly shard read-modify-write.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		CheckpointDates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raster_ingest",
			Name:      "checkpoint_dates",
			Help:      "Days recorded in the current checkpoint.",
		}),
	}
}
