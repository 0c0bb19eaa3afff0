package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.ingestRequestsTotal)
	assert.NotNil(t, collector.chunksStoredTotal)
	assert.NotNil(t, collector.embeddingDuration)
	assert.NotNil(t, collector.retrievalRequestsTotal)
	assert.NotNil(t, collector.retrievalConfidence)
	assert.NotNil(t, collector.sanitizeRemapsTotal)
}

func TestCollector_RecordIngest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录一次入库
	collector.RecordIngest("recursive", "success", 200*time.Millisecond)
	collector.RecordChunks(10, 2)
	collector.RecordGraphWrite(5, 4, 1)

	count := testutil.CollectAndCount(collector.ingestRequestsTotal)
	assert.Greater(t, count, 0)

	assert.Equal(t, float64(10), testutil.ToFloat64(collector.chunksStoredTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.chunksDedupedTotal))
	assert.Equal(t, float64(5), testutil.ToFloat64(collector.graphNodesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.relationshipsTotal.WithLabelValues("dropped")))
}

func TestCollector_RecordEmbedding(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordEmbedding("document", 100*time.Millisecond, nil)
	collector.RecordEmbedding("query", 50*time.Millisecond, assert.AnError)

	count := testutil.CollectAndCount(collector.embeddingDuration)
	assert.Greater(t, count, 0)
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.embeddingErrors))
}

func TestCollector_RecordRetrieval(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordRetrieval("agentic", "hybrid", 0.85, 300*time.Millisecond)
	collector.RecordRetrieval("weighted", "hybrid", 0.6, 100*time.Millisecond)

	count := testutil.CollectAndCount(collector.retrievalRequestsTotal)
	assert.Greater(t, count, 0)
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.retrievalRequestsTotal.WithLabelValues("agentic", "hybrid")))
}

func TestCollector_RecordSanitizeRemap(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordSanitizeRemap("label")
	collector.RecordSanitizeRemap("label")
	collector.RecordSanitizeRemap("rel_type")

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.sanitizeRemapsTotal.WithLabelValues("label")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.sanitizeRemapsTotal.WithLabelValues("rel_type")))
}

func TestNewCollector_NilLogger(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)
	assert.NotNil(t, collector)
	assert.NotNil(t, collector.logger)
}
