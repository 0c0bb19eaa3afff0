package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/neorag/types"
)

// VectorStore 向量存储契约。
// Nearest 的排序由存储自身的距离度量决定，原始分数不保证可见。
type VectorStore interface {
	// Upsert 写入一个文本块。
	Upsert(ctx context.Context, chunk types.Chunk) error

	// FindByHash 按内容哈希查找已存块，返回块 ID 和是否存在。
	FindByHash(ctx context.Context, hash string) (string, bool, error)

	// Nearest 返回按距离排序的前 k 条命中。
	Nearest(ctx context.Context, embedding []float64, k int) ([]types.VectorHit, error)

	// Count 返回已存块数量。
	Count(ctx context.Context) (int, error)
}

// =============================================================================
// 内存向量存储（测试与小规模场景）
// =============================================================================

// InMemoryVectorStore 内存向量存储
type InMemoryVectorStore struct {
	chunks []types.Chunk
	byHash map[string]string // content hash -> chunk id
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		byHash: make(map[string]string),
		logger: logger.With(zap.String("component", "memory_vector_store")),
	}
}

// Upsert 写入文本块
func (s *InMemoryVectorStore) Upsert(_ context.Context, chunk types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byHash[chunk.ContentHash]; ok && chunk.ContentHash != "" {
		s.logger.Debug("duplicate chunk skipped",
			zap.String("hash", chunk.ContentHash),
			zap.String("existing_id", existing))
		return nil
	}

	s.chunks = append(s.chunks, chunk)
	if chunk.ContentHash != "" {
		s.byHash[chunk.ContentHash] = chunk.ID
	}
	return nil
}

// FindByHash 按内容哈希查找
func (s *InMemoryVectorStore) FindByHash(_ context.Context, hash string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	return id, ok, nil
}

// Nearest 余弦相似度排序的前 k 条
func (s *InMemoryVectorStore) Nearest(_ context.Context, embedding []float64, k int) ([]types.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		hit   types.VectorHit
		score float64
	}
	results := make([]scored, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		if chunk.Embedding == nil {
			continue
		}
		results = append(results, scored{
			hit:   types.VectorHit{ID: chunk.ID, Content: chunk.Content, Metadata: chunk.Metadata},
			score: cosineSimilarity(embedding, chunk.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if k > len(results) {
		k = len(results)
	}
	hits := make([]types.VectorHit, 0, k)
	for _, r := range results[:k] {
		hits = append(hits, r.hit)
	}
	return hits, nil
}

// Count 返回块数量
func (s *InMemoryVectorStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// cosineSimilarity 余弦相似度，维度不匹配或零向量返回 0。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
