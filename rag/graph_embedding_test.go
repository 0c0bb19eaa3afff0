package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/neorag/types"
)

func seedGraph(t *testing.T, store *InMemoryGraphStore) {
	t.Helper()
	ctx := context.Background()

	nodes := []types.GraphNode{
		{ID: "go", Label: "Concept", Embedding: []float64{1, 0}},
		{ID: "rust", Label: "Concept", Embedding: []float64{0.9, 0.1}},
		{ID: "cooking", Label: "Concept", Embedding: []float64{0, 1}},
		{ID: "unscored", Label: "Concept"},
	}
	for _, n := range nodes {
		require.NoError(t, store.MergeNode(ctx, n))
	}
	require.NoError(t, store.MergeRelationship(ctx, types.GraphRelationship{
		SourceID: "go", TargetID: "rust", Type: "RELATES_TO",
	}))
}

func TestGraphIndex_FindSimilarNodes(t *testing.T) {
	store := NewInMemoryGraphStore(zap.NewNop())
	seedGraph(t, store)
	idx := NewGraphIndex(store, newStubEmbedder(), zap.NewNop())

	nodes, err := idx.FindSimilarNodes(context.Background(), []float64{1, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "go", nodes[0].ID)
	assert.Equal(t, "rust", nodes[1].ID)
	assert.Greater(t, nodes[0].Similarity, nodes[1].Similarity)
}

func TestGraphIndex_FindSimilarNodesTopK(t *testing.T) {
	store := NewInMemoryGraphStore(zap.NewNop())
	seedGraph(t, store)
	idx := NewGraphIndex(store, newStubEmbedder(), zap.NewNop())

	nodes, err := idx.FindSimilarNodes(context.Background(), []float64{1, 0}, 1, 0)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestGraphIndex_HybridGraphSearch(t *testing.T) {
	store := NewInMemoryGraphStore(zap.NewNop())
	seedGraph(t, store)

	embedder := newStubEmbedder()
	embedder.embedFn = func(string) []float64 { return []float64{1, 0} }
	idx := NewGraphIndex(store, embedder, zap.NewNop())

	result, err := idx.HybridGraphSearch(context.Background(), "programming languages", 2, 1)
	require.NoError(t, err)
	require.Len(t, result.Nodes, 2)
	require.Len(t, result.Triples, 1)
	assert.Equal(t, types.GraphTriple{Source: "go", Rel: "RELATES_TO", Target: "rust"}, result.Triples[0])

	// 扁平文本：每个节点一行，相关边缩进
	assert.Contains(t, result.ContextText, "- Concept: go (similarity: 1.00)")
	assert.Contains(t, result.ContextText, "  go -[RELATES_TO]-> rust")
}

func TestGraphIndex_HybridGraphSearchFiltersWeakNodes(t *testing.T) {
	store := NewInMemoryGraphStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.MergeNode(ctx, types.GraphNode{
		ID: "strong", Label: "Concept", Embedding: []float64{1, 0},
	}))
	require.NoError(t, store.MergeNode(ctx, types.GraphNode{
		ID: "orthogonal", Label: "Concept", Embedding: []float64{0, 1},
	}))

	embedder := newStubEmbedder()
	embedder.embedFn = func(string) []float64 { return []float64{1, 0} }

	// 默认下限 0.7：相似度 0 的节点不算命中
	idx := NewGraphIndex(store, embedder, zap.NewNop())
	result, err := idx.HybridGraphSearch(ctx, "query", 10, 1)
	require.NoError(t, err)
	require.Len(t, result.Nodes, 1)
	assert.Equal(t, "strong", result.Nodes[0].ID)

	// 下限降到 0 时弱节点重新可见
	idx = NewGraphIndex(store, embedder, zap.NewNop(), WithMinSimilarity(0))
	result, err = idx.HybridGraphSearch(ctx, "query", 10, 1)
	require.NoError(t, err)
	assert.Len(t, result.Nodes, 2)
}

func TestGraphIndex_HybridGraphSearchEmbedFailure(t *testing.T) {
	store := NewInMemoryGraphStore(zap.NewNop())
	seedGraph(t, store)

	embedder := newStubEmbedder()
	embedder.queryErr = fmt.Errorf("gateway down")
	idx := NewGraphIndex(store, embedder, zap.NewNop())

	// 嵌入失败返回空结果而不是错误
	result, err := idx.HybridGraphSearch(context.Background(), "anything", 3, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Nodes)
	assert.Empty(t, result.Triples)
}

func TestGraphIndex_HybridGraphSearchEmptyGraph(t *testing.T) {
	store := NewInMemoryGraphStore(zap.NewNop())
	idx := NewGraphIndex(store, newStubEmbedder(), zap.NewNop())

	result, err := idx.HybridGraphSearch(context.Background(), "anything", 3, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Nodes)
	assert.Empty(t, result.ContextText)
}

func TestGraphIndex_TraversalCapped(t *testing.T) {
	store := NewInMemoryGraphStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.MergeNode(ctx, types.GraphNode{ID: "hub", Label: "Entity", Embedding: []float64{1, 0}}))
	for i := 0; i < 80; i++ {
		require.NoError(t, store.MergeRelationship(ctx, types.GraphRelationship{
			SourceID: "hub", TargetID: fmt.Sprintf("n%d", i), Type: "MENTIONS",
		}))
	}

	embedder := newStubEmbedder()
	embedder.embedFn = func(string) []float64 { return []float64{1, 0} }
	idx := NewGraphIndex(store, embedder, zap.NewNop())

	result, err := idx.HybridGraphSearch(ctx, "hub", 1, 3)
	require.NoError(t, err)
	assert.Len(t, result.Triples, DefaultTraversalLimit)
}
