// Package metrics defines Prometheus metrics for the realm index.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ReindexDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nous_reindex_duration_seconds",
			Help:    "Reindex duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReindexTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nous_reindex_total",
			Help: "Total reindex passes by outcome",
		},
		[]string{"outcome"},
	)

	ScanEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nous_scan_events_total",
			Help: "Scanner events applied, by kind",
		},
		[]string{"kind"},
	)

	Generation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nous_generation",
			Help: "Last committed index generation",
		},
	)

	NodeCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nous_nodes_total",
			Help: "Total node count",
		},
	)

	EdgeCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nous_edges_total",
			Help: "Total resolved edge count",
		},
	)

	UnresolvedLinks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nous_unresolved_links",
			Help: "Links that do not resolve to exactly one node, by kind",
		},
		[]string{"kind"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nous_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ReindexDuration, ReindexTotal, ScanEvents,
		Generation, NodeCount, EdgeCount, UnresolvedLinks,
		RequestDuration,
	)
}
