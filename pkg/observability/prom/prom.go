// Package prom implements the observability hooks with Prometheus metrics.
package prom

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/matzehuels/aipgraph/pkg/observability"
)

// Hooks records query, cache and ingest events.
type Hooks struct {
	stages        *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageIDs      *prometheus.HistogramVec
	inflight      prometheus.Gauge
	fallbacks     prometheus.Counter

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheBytes  *prometheus.CounterVec

	merges        *prometheus.CounterVec
	bulkDocs      prometheus.Counter
	bulkErrors    prometheus.Counter
	bulkDurations prometheus.Histogram
}

var (
	_ observability.QueryHooks  = (*Hooks)(nil)
	_ observability.CacheHooks  = (*Hooks)(nil)
	_ observability.IngestHooks = (*Hooks)(nil)
)

// New registers the metrics with reg.
func New(reg prometheus.Registerer) *Hooks {
	f := promauto.With(reg)
	return &Hooks{
		stages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aipgraph_query_stages_total",
			Help: "Query stages by kind, backend and outcome",
		}, []string{"kind", "backend", "result"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aipgraph_query_stage_duration_seconds",
			Help:    "Query stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"kind", "backend"}),
		stageIDs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aipgraph_query_stage_ids",
			Help:    "Ids produced by a query stage",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"rank"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "aipgraph_query_stages_inflight",
			Help: "Query stages currently running",
		}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "aipgraph_query_fallbacks_total",
			Help: "One-hop stages that fell back from search to the graph join",
		}),
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aipgraph_cache_hits_total",
			Help: "Result cache hits",
		}, []string{"key_type"}),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aipgraph_cache_misses_total",
			Help: "Result cache misses",
		}, []string{"key_type"}),
		cacheBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aipgraph_cache_written_bytes_total",
			Help: "Bytes written to the result cache",
		}, []string{"key_type"}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aipgraph_nodes_merged_total",
			Help: "Node writes by kind and whether the node was created",
		}, []string{"kind", "created"}),
		bulkDocs: f.NewCounter(prometheus.CounterOpts{
			Name: "aipgraph_bulk_index_documents_total",
			Help: "Documents submitted to the search index",
		}),
		bulkErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "aipgraph_bulk_index_errors_total",
			Help: "Failed bulk index submissions",
		}),
		bulkDurations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aipgraph_bulk_index_duration_seconds",
			Help:    "Bulk index submission duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Install registers h as the global query, cache and ingest hooks.
func (h *Hooks) Install() {
	observability.SetQueryHooks(h)
	observability.SetCacheHooks(h)
	observability.SetIngestHooks(h)
}

func (h *Hooks) OnStageStart(context.Context, int, string) {
	h.inflight.Inc()
}

func (h *Hooks) OnStageComplete(_ context.Context, rank int, kind, backend string, ids int, d time.Duration, err error) {
	// Cached levels are reported without a start event.
	if backend != "cache" && backend != "simulate" {
		h.inflight.Dec()
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.stages.WithLabelValues(kind, backend, outcome).Inc()
	if err == nil {
		h.stageDuration.WithLabelValues(kind, backend).Observe(d.Seconds())
		h.stageIDs.WithLabelValues(strconv.Itoa(rank)).Observe(float64(ids))
	}
}

func (h *Hooks) OnFallback(context.Context, int, error) {
	h.fallbacks.Inc()
}

func (h *Hooks) OnCacheHit(_ context.Context, keyType string) {
	h.cacheHits.WithLabelValues(keyType).Inc()
}

func (h *Hooks) OnCacheMiss(_ context.Context, keyType string) {
	h.cacheMisses.WithLabelValues(keyType).Inc()
}

func (h *Hooks) OnCacheSet(_ context.Context, keyType string, size int) {
	h.cacheBytes.WithLabelValues(keyType).Add(float64(size))
}

func (h *Hooks) OnNodeMerged(_ context.Context, kind string, created bool) {
	h.merges.WithLabelValues(kind, strconv.FormatBool(created)).Inc()
}

func (h *Hooks) OnBulkIndex(_ context.Context, docs int, d time.Duration, err error) {
	if err != nil {
		h.bulkErrors.Inc()
		return
	}
	h.bulkDocs.Add(float64(docs))
	h.bulkDurations.Observe(d.Seconds())
}
