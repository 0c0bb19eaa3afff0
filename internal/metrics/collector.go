// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 入库指标
	ingestRequestsTotal *prometheus.CounterVec
	ingestDuration      prometheus.Histogram
	chunksStoredTotal   prometheus.Counter
	chunksDedupedTotal  prometheus.Counter
	graphNodesTotal     prometheus.Counter
	relationshipsTotal  *prometheus.CounterVec

	// 嵌入指标
	embeddingDuration *prometheus.HistogramVec
	embeddingErrors   prometheus.Counter

	// 检索指标
	retrievalRequestsTotal *prometheus.CounterVec
	retrievalDuration      *prometheus.HistogramVec
	retrievalConfidence    prometheus.Histogram

	// 清洗指标
	sanitizeRemapsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 入库指标
	c.ingestRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_requests_total",
			Help:      "Total number of ingestion requests",
		},
		[]string{"strategy", "status"},
	)

	c.ingestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Ingestion pipeline duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	c.chunksStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_stored_total",
			Help:      "Total number of chunks stored in the vector store",
		},
	)

	c.chunksDedupedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_deduped_total",
			Help:      "Total number of duplicate chunks skipped by the hash gate",
		},
	)

	c.graphNodesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_nodes_total",
			Help:      "Total number of graph nodes processed",
		},
	)

	c.relationshipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_relationships_total",
			Help:      "Total number of graph relationships processed",
		},
		[]string{"status"}, // stored, dropped
	)

	// 嵌入指标
	c.embeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_duration_seconds",
			Help:      "Embedding gateway round-trip duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"}, // query, document, node
	)

	c.embeddingErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_errors_total",
			Help:      "Total number of embedding gateway failures",
		},
	)

	// 检索指标
	c.retrievalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_requests_total",
			Help:      "Total number of retrieval requests",
		},
		[]string{"mode", "routing_decision"},
	)

	c.retrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	c.retrievalConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_confidence",
			Help:      "Confidence score distribution of retrieval outcomes",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// 清洗指标
	c.sanitizeRemapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanitize_remaps_total",
			Help:      "Total number of labels/types remapped or rejected by the allow-list",
		},
		[]string{"kind"}, // label, rel_type
	)

	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// RecordIngest 记录一次入库请求
func (c *Collector) RecordIngest(strategy, status string, duration time.Duration) {
	c.ingestRequestsTotal.WithLabelValues(strategy, status).Inc()
	c.ingestDuration.Observe(duration.Seconds())
}

// RecordChunks 记录块存储与去重数量
func (c *Collector) RecordChunks(stored, deduped int) {
	c.chunksStoredTotal.Add(float64(stored))
	c.chunksDedupedTotal.Add(float64(deduped))
}

// RecordGraphWrite 记录图写入数量
func (c *Collector) RecordGraphWrite(nodes, relsStored, relsDropped int) {
	c.graphNodesTotal.Add(float64(nodes))
	c.relationshipsTotal.WithLabelValues("stored").Add(float64(relsStored))
	c.relationshipsTotal.WithLabelValues("dropped").Add(float64(relsDropped))
}

// RecordEmbedding 记录一次嵌入网关调用
func (c *Collector) RecordEmbedding(kind string, duration time.Duration, err error) {
	c.embeddingDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err != nil {
		c.embeddingErrors.Inc()
	}
}

// RecordRetrieval 记录一次检索请求
func (c *Collector) RecordRetrieval(mode, routingDecision string, confidence float64, duration time.Duration) {
	c.retrievalRequestsTotal.WithLabelValues(mode, routingDecision).Inc()
	c.retrievalDuration.WithLabelValues(mode).Observe(duration.Seconds())
	c.retrievalConfidence.Observe(confidence)
}

// RecordSanitizeRemap 记录一次白名单重映射
func (c *Collector) RecordSanitizeRemap(kind string) {
	c.sanitizeRemapsTotal.WithLabelValues(kind).Inc()
}
