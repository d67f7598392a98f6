// Package telemetry records pipeline and search metrics. Everything stays
// local: Prometheus metrics are written to a textfile for node_exporter and
// search query statistics are kept in the workspace database.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one pipeline process. Each
// instance has its own registry so tests and repeated runs do not collide.
type Metrics struct {
	registry *prometheus.Registry

	// Download
	DownloadsTotal *prometheus.CounterVec

	// Extraction
	ExtractionsTotal   *prometheus.CounterVec
	ExtractionDuration *prometheus.HistogramVec
	OCRPagesTotal      prometheus.Counter

	// Index
	IndexedDocuments   prometheus.Gauge
	IndexBuildDuration prometheus.Histogram

	// Search
	SearchesTotal  *prometheus.CounterVec
	SearchDuration prometheus.Histogram

	// Clustering
	ClusterRunsTotal *prometheus.CounterVec
	ClusterDuration  *prometheus.HistogramVec
	ClusterCount     *prometheus.GaugeVec

	// Pipeline stages
	StageDuration *prometheus.GaugeVec
}

// NewMetrics creates and registers the pipeline metrics. All metric names
// are prefixed with "docanalysis_".
//
// Metrics:
//   - docanalysis_downloads_total{outcome}
//   - docanalysis_extractions_total{method}
//   - docanalysis_extraction_duration_seconds{method}
//   - docanalysis_ocr_pages_total
//   - docanalysis_indexed_documents
//   - docanalysis_index_build_duration_seconds
//   - docanalysis_searches_total{outcome}
//   - docanalysis_search_duration_seconds
//   - docanalysis_cluster_runs_total{method,outcome}
//   - docanalysis_cluster_duration_seconds{method}
//   - docanalysis_clusters{method}
//   - docanalysis_stage_duration_seconds{stage}
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DownloadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docanalysis_downloads_total",
				Help: "Downloads by outcome",
			},
			[]string{"outcome"}, // "ok", "skipped", "network", "http_status", "timeout"
		),

		ExtractionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docanalysis_extractions_total",
				Help: "Documents extracted by extraction method",
			},
			[]string{"method"},
		),
		ExtractionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docanalysis_extraction_duration_seconds",
				Help:    "Per-document extraction time",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"method"},
		),
		OCRPagesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "docanalysis_ocr_pages_total",
			Help: "Pages sent through optical recognition",
		}),

		IndexedDocuments: f.NewGauge(prometheus.GaugeOpts{
			Name: "docanalysis_indexed_documents",
			Help: "Documents in the current search index",
		}),
		IndexBuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docanalysis_index_build_duration_seconds",
			Help:    "Search index build time",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),

		SearchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docanalysis_searches_total",
				Help: "Search queries by outcome",
			},
			[]string{"outcome"}, // "hits", "zero", "error"
		),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docanalysis_search_duration_seconds",
			Help:    "Search latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),

		ClusterRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docanalysis_cluster_runs_total",
				Help: "Clustering runs by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		ClusterDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docanalysis_cluster_duration_seconds",
				Help:    "Clustering run time",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"method"},
		),
		ClusterCount: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docanalysis_clusters",
				Help: "Clusters found by the last run of each method",
			},
			[]string{"method"},
		),

		StageDuration: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docanalysis_stage_duration_seconds",
				Help: "Wall time of the last run of each pipeline stage",
			},
			[]string{"stage"},
		),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordDownload counts one download outcome.
func (m *Metrics) RecordDownload(outcome string) {
	m.DownloadsTotal.WithLabelValues(outcome).Inc()
}

// RecordExtraction records one extracted document.
func (m *Metrics) RecordExtraction(method string, elapsed time.Duration, ocrPages int) {
	m.ExtractionsTotal.WithLabelValues(method).Inc()
	m.ExtractionDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if ocrPages > 0 {
		m.OCRPagesTotal.Add(float64(ocrPages))
	}
}

// RecordIndexBuild records a completed index build.
func (m *Metrics) RecordIndexBuild(docs int, elapsed time.Duration) {
	m.IndexedDocuments.Set(float64(docs))
	m.IndexBuildDuration.Observe(elapsed.Seconds())
}

// RecordSearch records one query. err takes precedence over results.
func (m *Metrics) RecordSearch(results int, elapsed time.Duration, err error) {
	outcome := "hits"
	switch {
	case err != nil:
		outcome = "error"
	case results == 0:
		outcome = "zero"
	}
	m.SearchesTotal.WithLabelValues(outcome).Inc()
	if err == nil {
		m.SearchDuration.Observe(elapsed.Seconds())
	}
}

// RecordCluster records a clustering run. clusters is ignored for failed
// runs.
func (m *Metrics) RecordCluster(method string, clusters int, elapsed time.Duration, err error) {
	if err != nil {
		m.ClusterRunsTotal.WithLabelValues(method, "error").Inc()
		return
	}
	m.ClusterRunsTotal.WithLabelValues(method, "ok").Inc()
	m.ClusterDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	m.ClusterCount.WithLabelValues(method).Set(float64(clusters))
}

// RecordStage sets the wall time of a pipeline stage.
func (m *Metrics) RecordStage(stage string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(stage).Set(elapsed.Seconds())
}

// WriteTextfile writes all metrics in the Prometheus text format to path,
// atomically, for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
