package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/neorag/internal/cache"
)

// CachedProvider 在任意 Provider 外层加一层 Redis 嵌入缓存。
// 缓存键是 模型名 + 文本内容 的 SHA-256，与入库去重使用同族哈希。
// 缓存故障只降级为直连嵌入网关，不影响正确性。
type CachedProvider struct {
	inner  Provider
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedProvider 创建带缓存的嵌入提供者。
func NewCachedProvider(inner Provider, cacheManager *cache.Manager, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		inner:  inner,
		cache:  cacheManager,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "embedding_cache")),
	}
}

func (p *CachedProvider) Name() string    { return p.inner.Name() + "-cached" }
func (p *CachedProvider) Dimensions() int { return p.inner.Dimensions() }

// Embed 直接透传（批量接口的缓存在 EmbedDocuments 处理）。
func (p *CachedProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	return p.inner.Embed(ctx, req)
}

// EmbedQuery 先查缓存，未命中时调用底层提供者并回填。
func (p *CachedProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	key := p.cacheKey(query)

	var cached []float64
	err := p.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		p.logger.Warn("embedding cache read failed", zap.Error(err))
	}

	emb, err := p.inner.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := p.cache.SetJSON(ctx, key, emb, p.ttl); err != nil {
		p.logger.Warn("embedding cache write failed", zap.Error(err))
	}
	return emb, nil
}

// EmbedDocuments 逐条查缓存，只把未命中的文档发给底层批量调用。
func (p *CachedProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	result := make([][]float64, len(documents))
	var missIdx []int
	var missDocs []string

	for i, doc := range documents {
		var cached []float64
		if err := p.cache.GetJSON(ctx, p.cacheKey(doc), &cached); err == nil {
			result[i] = cached
			continue
		}
		missIdx = append(missIdx, i)
		missDocs = append(missDocs, doc)
	}

	if len(missDocs) == 0 {
		return result, nil
	}

	embedded, err := p.inner.EmbedDocuments(ctx, missDocs)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		result[idx] = embedded[j]
		if err := p.cache.SetJSON(ctx, p.cacheKey(documents[idx]), embedded[j], p.ttl); err != nil {
			p.logger.Warn("embedding cache write failed", zap.Error(err))
		}
	}

	p.logger.Debug("embedding cache batch",
		zap.Int("total", len(documents)),
		zap.Int("misses", len(missDocs)),
	)
	return result, nil
}

func (p *CachedProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(p.inner.Name() + ":" + text))
	return "neorag:emb:" + hex.EncodeToString(sum[:])
}
