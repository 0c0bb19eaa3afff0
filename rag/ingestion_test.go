package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/neorag/types"
)

func newTestPipeline(embedder *stubEmbedder, provider *stubLLM) (*Pipeline, *InMemoryVectorStore, *InMemoryGraphStore) {
	logger := zap.NewNop()
	vectorStore := NewInMemoryVectorStore(logger)
	graphStore := NewInMemoryGraphStore(logger)
	p := NewPipeline(
		NewChunker(embedder, nil, logger),
		embedder,
		NewEntityExtractor(provider, logger),
		vectorStore,
		graphStore,
		NewSanitizer(false, logger),
		logger,
	)
	return p, vectorStore, graphStore
}

func TestPipeline_IngestSingleCharacter(t *testing.T) {
	p, _, _ := newTestPipeline(newStubEmbedder(), newStubLLM(emptyExtractionJSON))

	summary, err := p.Ingest(context.Background(), "A", nil, DefaultChunkingConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ChunkCount)
	assert.Equal(t, 1, summary.ChunksStored)
}

func TestPipeline_ReingestStoresNothing(t *testing.T) {
	p, store, _ := newTestPipeline(newStubEmbedder(), newStubLLM(emptyExtractionJSON))
	ctx := context.Background()

	first, err := p.Ingest(ctx, "Same text twice.", nil, DefaultChunkingConfig())
	require.NoError(t, err)
	assert.Equal(t, first.ChunkCount, first.ChunksStored)

	second, err := p.Ingest(ctx, "Same text twice.", nil, DefaultChunkingConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, second.ChunksStored)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ChunksStored, count)
}

func TestPipeline_EmptyInputRejected(t *testing.T) {
	p, _, _ := newTestPipeline(newStubEmbedder(), newStubLLM(emptyExtractionJSON))

	for _, text := range []string{"", "   \n"} {
		_, err := p.Ingest(context.Background(), text, nil, DefaultChunkingConfig())
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrInvalidInput))
	}
}

func TestPipeline_EmbeddingFailureIsFatal(t *testing.T) {
	embedder := newStubEmbedder()
	embedder.docsErr = fmt.Errorf("embedding gateway down")
	p, store, _ := newTestPipeline(embedder, newStubLLM(emptyExtractionJSON))

	_, err := p.Ingest(context.Background(), "some text", nil, ChunkingConfig{Strategy: StrategyRecursive, ChunkSize: 100})
	require.Error(t, err)

	count, _ := store.Count(context.Background())
	assert.Equal(t, 0, count)
}

func TestPipeline_ExtractionFailureIsNonFatal(t *testing.T) {
	provider := &stubLLM{handler: func(string) (string, error) {
		return "", fmt.Errorf("llm down")
	}}
	p, store, _ := newTestPipeline(newStubEmbedder(), provider)

	summary, err := p.Ingest(context.Background(), "vector path still works", nil, DefaultChunkingConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.GraphNodes)
	assert.Equal(t, 1, summary.ChunksStored)

	count, _ := store.Count(context.Background())
	assert.Equal(t, 1, count)
}

func TestPipeline_GraphWriteWithSanitization(t *testing.T) {
	provider := newStubLLM(`{
		"nodes": [
			{"id": "Alice", "label": "person"},
			{"id": "Acme", "label": "Megacorp"}
		],
		"relationships": [
			{"source_id": "Alice", "target_id": "Acme", "type": "works at"}
		]
	}`)
	p, _, graphStore := newTestPipeline(newStubEmbedder(), provider)
	ctx := context.Background()

	summary, err := p.Ingest(ctx, "Alice works at Acme.", nil, DefaultChunkingConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.GraphNodes)

	// 标签和类型都收敛到白名单
	nodes, err := graphStore.NodesWithEmbeddings(ctx)
	require.NoError(t, err)
	labels := map[string]string{}
	for _, n := range nodes {
		labels[n.ID] = n.Label
	}
	assert.Equal(t, "Person", labels["Alice"])
	assert.Equal(t, "Entity", labels["Acme"])

	triples, err := graphStore.Traverse(ctx, []string{"Alice"}, 1, 0)
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Equal(t, "RELATES_TO", triples[0].Rel)
}

func TestPipeline_DanglingRelationshipDropped(t *testing.T) {
	provider := newStubLLM(`{
		"nodes": [
			{"id": "a", "label": "Entity"},
			{"id": "b", "label": "Entity"}
		],
		"relationships": [
			{"source_id": "a", "target_id": "ghost", "type": "MENTIONS"},
			{"source_id": "a", "target_id": "b", "type": "MENTIONS"}
		]
	}`)
	p, _, graphStore := newTestPipeline(newStubEmbedder(), provider)
	ctx := context.Background()

	summary, err := p.Ingest(ctx, "a mentions b and a ghost", nil, DefaultChunkingConfig())
	require.NoError(t, err)
	// 悬空关系被丢弃，节点数不受影响，也不报错
	assert.Equal(t, 2, summary.GraphNodes)

	triples, err := graphStore.Traverse(ctx, []string{"a"}, 1, 0)
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Equal(t, "b", triples[0].Target)
}

func TestPipeline_NodeEmbeddingFailureIsNonFatal(t *testing.T) {
	embedder := newStubEmbedder()
	embedder.failOnCall = 2 // 第一次批量调用给块用，第二次给节点用
	provider := newStubLLM(`{"nodes": [{"id": "x", "label": "Entity"}], "relationships": []}`)
	p, _, graphStore := newTestPipeline(embedder, provider)
	ctx := context.Background()

	summary, err := p.Ingest(ctx, "text about x", nil, DefaultChunkingConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.GraphNodes)

	// 节点落库但不带嵌入
	ok, err := graphStore.HasNode(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)
	nodes, err := graphStore.NodesWithEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestPipeline_ChunkMetadataPropagated(t *testing.T) {
	p, store, _ := newTestPipeline(newStubEmbedder(), newStubLLM(emptyExtractionJSON))
	ctx := context.Background()

	metadata := map[string]string{"source": "unit-test"}
	_, err := p.Ingest(ctx, "metadata carrying text", metadata, DefaultChunkingConfig())
	require.NoError(t, err)

	hits, err := store.Nearest(ctx, []float64{1, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "unit-test", hits[0].Metadata["source"])
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, contentHash("x"), contentHash("x"))
	assert.NotEqual(t, contentHash("x"), contentHash("y"))
	assert.Len(t, contentHash("x"), 64)
	assert.False(t, strings.ContainsAny(contentHash("x"), "ABCDEF"))
}

func TestNodeEmbeddingText(t *testing.T) {
	assert.Equal(t, "Person: Alice", nodeEmbeddingText("Person", "Alice"))
}
