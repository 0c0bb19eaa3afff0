package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/neorag/internal/metrics"
	"github.com/BaSui01/neorag/llm/embedding"
	"github.com/BaSui01/neorag/types"
)

// Pipeline 入库管线。
// 把原始文本变成去重后的向量块和清洗过的知识图写入。
// 只有分块嵌入失败是致命的；实体抽取和节点嵌入失败都降级继续。
type Pipeline struct {
	chunker     *Chunker
	embedder    embedding.Provider
	extractor   *EntityExtractor
	vectorStore VectorStore
	graphStore  GraphStore
	sanitizer   *Sanitizer
	collector   *metrics.Collector
	logger      *zap.Logger
}

// PipelineOption 管线可选项
type PipelineOption func(*Pipeline)

// WithMetrics 启用指标采集。
func WithMetrics(collector *metrics.Collector) PipelineOption {
	return func(p *Pipeline) { p.collector = collector }
}

// NewPipeline 创建入库管线。所有依赖显式传入，不做全局单例。
func NewPipeline(
	chunker *Chunker,
	embedder embedding.Provider,
	extractor *EntityExtractor,
	vectorStore VectorStore,
	graphStore GraphStore,
	sanitizer *Sanitizer,
	logger *zap.Logger,
	opts ...PipelineOption,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		chunker:     chunker,
		embedder:    embedder,
		extractor:   extractor,
		vectorStore: vectorStore,
		graphStore:  graphStore,
		sanitizer:   sanitizer,
		logger:      logger.With(zap.String("component", "ingestion_pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest 执行一次文本入库。
// 空白输入返回 types.ErrInvalidInput。
func (p *Pipeline) Ingest(ctx context.Context, text string, metadata map[string]string, cfg ChunkingConfig) (*types.IngestSummary, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.NewError(types.ErrInvalidInput, "text cannot be empty")
	}

	started := time.Now()
	summary, err := p.ingest(ctx, text, metadata, cfg)
	if p.collector != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		strategy := string(cfg.Strategy)
		if summary != nil {
			strategy = summary.StrategyUsed
		}
		p.collector.RecordIngest(strategy, status, time.Since(started))
	}
	return summary, err
}

func (p *Pipeline) ingest(ctx context.Context, text string, metadata map[string]string, cfg ChunkingConfig) (*types.IngestSummary, error) {
	// 1. 分块
	result, err := p.chunker.Chunk(ctx, text, cfg)
	if err != nil {
		return nil, err
	}
	if result.ChunkCount == 0 {
		return &types.IngestSummary{StrategyUsed: string(result.StrategyUsed)}, nil
	}

	// 2. 批量嵌入：失败对本次请求是致命的，没有向量的块无法入库
	embedStart := time.Now()
	embeddings, err := p.embedder.EmbedDocuments(ctx, result.Chunks)
	if p.collector != nil {
		p.collector.RecordEmbedding("document", time.Since(embedStart), err)
	}
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	// 3. 哈希去重写入
	stored := 0
	for i, content := range result.Chunks {
		hash := contentHash(content)
		if _, exists, err := p.vectorStore.FindByHash(ctx, hash); err != nil {
			return nil, fmt.Errorf("dedup lookup: %w", err)
		} else if exists {
			continue
		}

		chunk := types.Chunk{
			ID:          uuid.NewString(),
			Content:     content,
			Embedding:   embeddings[i],
			Metadata:    metadata,
			ContentHash: hash,
			CreatedAt:   time.Now().UTC(),
		}
		if err := p.vectorStore.Upsert(ctx, chunk); err != nil {
			return nil, fmt.Errorf("store chunk: %w", err)
		}
		stored++
	}
	if p.collector != nil {
		p.collector.RecordChunks(stored, result.ChunkCount-stored)
	}

	// 4-6. 图路径：对原始文本抽取实体，全程非致命
	graphNodes := p.ingestGraph(ctx, text)

	summary := &types.IngestSummary{
		ChunksStored: stored,
		StrategyUsed: string(result.StrategyUsed),
		ChunkCount:   result.ChunkCount,
		AvgChunkSize: result.AvgChunkSize,
		GraphNodes:   graphNodes,
	}
	p.logger.Info("ingestion completed",
		zap.Int("chunk_count", summary.ChunkCount),
		zap.Int("chunks_stored", summary.ChunksStored),
		zap.Int("graph_nodes", summary.GraphNodes),
		zap.String("strategy", summary.StrategyUsed))
	return summary, nil
}

// ingestGraph 执行抽取 → 节点嵌入 → 清洗 → 图合并。
// 任何一步失败都只降级，返回已处理的节点数。
func (p *Pipeline) ingestGraph(ctx context.Context, text string) int {
	kg, err := p.extractor.Extract(ctx, text)
	if err != nil {
		p.logger.Warn("entity extraction failed, continuing without graph", zap.Error(err))
		return 0
	}
	if len(kg.Nodes) == 0 {
		return 0
	}

	// 节点嵌入文本 "<label>: <id>"；失败时节点不带嵌入继续落库
	nodeTexts := make([]string, len(kg.Nodes))
	for i, node := range kg.Nodes {
		nodeTexts[i] = nodeEmbeddingText(node.Label, node.ID)
	}
	embedStart := time.Now()
	nodeEmbeddings, err := p.embedder.EmbedDocuments(ctx, nodeTexts)
	if p.collector != nil {
		p.collector.RecordEmbedding("node", time.Since(embedStart), err)
	}
	if err != nil {
		p.logger.Warn("node embedding failed, storing nodes without embeddings", zap.Error(err))
		nodeEmbeddings = nil
	}
	for i := range kg.Nodes {
		if nodeEmbeddings != nil {
			kg.Nodes[i].Embedding = nodeEmbeddings[i]
		}
	}

	sanitized := p.sanitizer.SanitizeGraph(kg)

	written := make(map[string]bool, len(sanitized.Nodes))
	for _, node := range sanitized.Nodes {
		if err := p.graphStore.MergeNode(ctx, node); err != nil {
			p.logger.Warn("merge node failed", zap.String("id", node.ID), zap.Error(err))
			continue
		}
		written[node.ID] = true
	}

	relsStored, relsDropped := 0, 0
	for _, rel := range sanitized.Relationships {
		if !p.endpointResolvable(ctx, written, rel.SourceID) || !p.endpointResolvable(ctx, written, rel.TargetID) {
			relsDropped++
			p.logger.Debug("dropping relationship with unresolvable endpoint",
				zap.String("source", rel.SourceID),
				zap.String("target", rel.TargetID))
			continue
		}
		if err := p.graphStore.MergeRelationship(ctx, rel); err != nil {
			p.logger.Warn("merge relationship failed", zap.Error(err))
			relsDropped++
			continue
		}
		relsStored++
	}
	if p.collector != nil {
		p.collector.RecordGraphWrite(len(written), relsStored, relsDropped)
	}
	return len(written)
}

// endpointResolvable 端点要么本次写入过，要么图里已有。
func (p *Pipeline) endpointResolvable(ctx context.Context, written map[string]bool, id string) bool {
	if written[id] {
		return true
	}
	exists, err := p.graphStore.HasNode(ctx, id)
	if err != nil {
		p.logger.Warn("endpoint lookup failed", zap.String("id", id), zap.Error(err))
		return false
	}
	return exists
}

// contentHash 内容去重键：SHA-256 十六进制。
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// nodeEmbeddingText 节点嵌入用的文本表示。
func nodeEmbeddingText(label, id string) string {
	return label + ": " + id
}
