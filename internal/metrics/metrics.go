package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tkytel/mandala/internal/fetch"
	"github.com/tkytel/mandala/internal/model"
)

// namespace prefixes every metric name.
const namespace = "mandala"

// Crawl statuses used by the crawls_total counter.
const (
	StatusComplete  = "complete"
	StatusTruncated = "truncated"
	StatusFailed    = "failed"
)

// Registry holds the crawl metrics on a private Prometheus registry.
// It implements crawler.Observer and is safe for concurrent use.
type Registry struct {
	FetchesTotal  *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	MergesTotal   *prometheus.CounterVec
	CrawlsTotal   *prometheus.CounterVec
	CrawlDuration *prometheus.GaugeVec
	GraphNodes    *prometheus.GaugeVec
	GraphEdges    *prometheus.GaugeVec
	Documents     *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewRegistry creates a registry with all metrics initialized.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Descriptor fetch attempts by outcome",
			},
			[]string{"outcome"},
		),
		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of descriptor fetch attempts",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		MergesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merges_total",
				Help:      "Fetched descriptors by merge outcome",
			},
			[]string{"outcome"},
		),
		CrawlsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "crawls_total",
				Help:      "Finished crawls by status",
			},
			[]string{"status"},
		),
		CrawlDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "crawl_duration_seconds",
				Help:      "Wall-clock duration of the last crawl per seed",
			},
			[]string{"seed"},
		),
		GraphNodes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "graph_nodes",
				Help:      "Nodes in the last crawled graph per seed and node type",
			},
			[]string{"seed", "type"},
		),
		GraphEdges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "graph_edges",
				Help:      "Edges in the last crawled graph per seed and edge kind",
			},
			[]string{"seed", "kind"},
		),
		Documents: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "documents",
				Help:      "Descriptors merged by the last crawl per seed",
			},
			[]string{"seed"},
		),
		registry: reg,
	}
}

// ObserveFetch records one fetch attempt.
func (r *Registry) ObserveFetch(_ string, elapsed time.Duration, err error) {
	r.FetchesTotal.WithLabelValues(FetchOutcome(err)).Inc()
	r.FetchDuration.Observe(elapsed.Seconds())
}

// ObserveMerge records the merge outcome of a fetched descriptor.
func (r *Registry) ObserveMerge(outcome string) {
	r.MergesTotal.WithLabelValues(outcome).Inc()
}

// RecordReport records the final shape of a crawl.
// Graph gauges are reset per seed so that types absent from this crawl do
// not keep values from an earlier one.
func (r *Registry) RecordReport(report *model.CrawlReport) {
	status := StatusComplete
	switch {
	case report.Error != "":
		status = StatusFailed
	case report.Truncated:
		status = StatusTruncated
	}
	r.CrawlsTotal.WithLabelValues(status).Inc()

	seed := report.SeedURL
	r.CrawlDuration.WithLabelValues(seed).Set(report.Elapsed.Seconds())
	r.Documents.WithLabelValues(seed).Set(float64(report.Statistics.Documents))

	r.GraphNodes.DeletePartialMatch(prometheus.Labels{"seed": seed})
	for typ, n := range report.Graph.CountByType() {
		r.GraphNodes.WithLabelValues(seed, typ).Set(float64(n))
	}

	r.GraphEdges.DeletePartialMatch(prometheus.Labels{"seed": seed})
	kinds := make(map[model.EdgeKind]int)
	for _, e := range report.Graph.Edges {
		kinds[e.Kind]++
	}
	for kind, n := range kinds {
		r.GraphEdges.WithLabelValues(seed, string(kind)).Set(float64(n))
	}
}

// Gatherer returns the underlying registry for exposition.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes all metrics to path in the text exposition format
// understood by the node_exporter textfile collector. The file is replaced
// atomically.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// FetchOutcome maps a fetch error to a label value: "ok" for success, the
// failure kind for a *fetch.FetchError and "error" otherwise.
func FetchOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return "error"
}
