package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/neorag/llm/embedding"
	"github.com/BaSui01/neorag/types"
)

// DefaultTraversalLimit 单次遍历返回的三元组上限
const DefaultTraversalLimit = 50

// DefaultMinSimilarity 混合图检索的相似度下限。
// 低于下限的节点不算图命中，不参与遍历、引用和置信度计算。
const DefaultMinSimilarity = 0.7

// GraphSearchResult 混合图检索结果。
// ContextText 是可直接嵌进 LLM 提示词的扁平文本块。
type GraphSearchResult struct {
	Nodes       []types.ScoredNode  `json:"nodes"`
	Triples     []types.GraphTriple `json:"triples"`
	ContextText string              `json:"context_text"`
}

// GraphIndex 图相似度索引：对节点嵌入做暴力余弦检索，
// 再对命中节点做有界跳数遍历。线性复杂度，目标规模下够用，
// 明确不是近似最近邻索引。
type GraphIndex struct {
	store          GraphStore
	embedder       embedding.Provider
	traversalLimit int
	minSimilarity  float64
	logger         *zap.Logger
}

// GraphIndexOption 图索引可选项
type GraphIndexOption func(*GraphIndex)

// WithMinSimilarity 覆盖混合图检索的相似度下限。
func WithMinSimilarity(minSimilarity float64) GraphIndexOption {
	return func(g *GraphIndex) { g.minSimilarity = minSimilarity }
}

// WithTraversalLimit 覆盖单次遍历的三元组上限。
func WithTraversalLimit(limit int) GraphIndexOption {
	return func(g *GraphIndex) {
		if limit > 0 {
			g.traversalLimit = limit
		}
	}
}

// NewGraphIndex 创建图相似度索引。
func NewGraphIndex(store GraphStore, embedder embedding.Provider, logger *zap.Logger, opts ...GraphIndexOption) *GraphIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &GraphIndex{
		store:          store,
		embedder:       embedder,
		traversalLimit: DefaultTraversalLimit,
		minSimilarity:  DefaultMinSimilarity,
		logger:         logger.With(zap.String("component", "graph_index")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FindSimilarNodes 扫描全部带嵌入的节点，按余弦相似度排序返回前 topK 条，
// 低于 minSimilarity 的丢弃。并列时顺序依赖存储迭代顺序，不保证稳定副键。
func (g *GraphIndex) FindSimilarNodes(ctx context.Context, queryEmbedding []float64, topK int, minSimilarity float64) ([]types.ScoredNode, error) {
	nodes, err := g.store.NodesWithEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load node embeddings: %w", err)
	}

	scored := make([]types.ScoredNode, 0, len(nodes))
	for _, node := range nodes {
		sim := cosineSimilarity(queryEmbedding, node.Embedding)
		if sim < minSimilarity {
			continue
		}
		scored = append(scored, types.ScoredNode{ID: node.ID, Label: node.Label, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if topK > 0 && topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}

// HybridGraphSearch 嵌入查询 → 节点排序 → 单次有界遍历 → 三元组 + 扁平文本。
// 节点排序应用配置的相似度下限，弱相关节点不算命中。
// 嵌入失败返回空结果而不是错误；遍历失败返回无上下文的节点排序。
func (g *GraphIndex) HybridGraphSearch(ctx context.Context, query string, topK, hopDepth int) (*GraphSearchResult, error) {
	queryEmbedding, err := g.embedder.EmbedQuery(ctx, query)
	if err != nil {
		g.logger.Warn("query embedding failed, returning empty graph result", zap.Error(err))
		return &GraphSearchResult{Nodes: []types.ScoredNode{}, Triples: []types.GraphTriple{}}, nil
	}

	nodes, err := g.FindSimilarNodes(ctx, queryEmbedding, topK, g.minSimilarity)
	if err != nil {
		g.logger.Warn("node similarity search failed, returning empty graph result", zap.Error(err))
		return &GraphSearchResult{Nodes: []types.ScoredNode{}, Triples: []types.GraphTriple{}}, nil
	}
	if len(nodes) == 0 {
		return &GraphSearchResult{Nodes: []types.ScoredNode{}, Triples: []types.GraphTriple{}}, nil
	}

	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}

	triples, err := g.store.Traverse(ctx, ids, hopDepth, g.traversalLimit)
	if err != nil {
		// 存储不可用时退化为纯节点排序
		g.logger.Warn("graph traversal failed, returning nodes without context", zap.Error(err))
		return &GraphSearchResult{
			Nodes:       nodes,
			Triples:     []types.GraphTriple{},
			ContextText: formatGraphContext(nodes, nil),
		}, nil
	}

	return &GraphSearchResult{
		Nodes:       nodes,
		Triples:     triples,
		ContextText: formatGraphContext(nodes, triples),
	}, nil
}

// formatGraphContext 每个命中节点一行，节点相关的遍历边各占一条缩进行。
func formatGraphContext(nodes []types.ScoredNode, triples []types.GraphTriple) string {
	var b strings.Builder
	for _, node := range nodes {
		fmt.Fprintf(&b, "- %s: %s (similarity: %.2f)\n", node.Label, node.ID, node.Similarity)
		for _, t := range triples {
			if t.Source == node.ID || t.Target == node.ID {
				fmt.Fprintf(&b, "  %s -[%s]-> %s\n", t.Source, t.Rel, t.Target)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
