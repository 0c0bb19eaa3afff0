package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/neorag/types"
)

func newTestRetriever(router Router, provider *stubLLM, embedder *stubEmbedder) (*Retriever, *InMemoryVectorStore, *InMemoryGraphStore) {
	logger := zap.NewNop()
	vectorStore := NewInMemoryVectorStore(logger)
	graphStore := NewInMemoryGraphStore(logger)
	graphIndex := NewGraphIndex(graphStore, embedder, logger)
	r := NewRetriever(router, provider, embedder, vectorStore, graphIndex, logger)
	return r, vectorStore, graphStore
}

func TestRetriever_EmptyStore(t *testing.T) {
	r, _, _ := newTestRetriever(nil, newStubLLM("no evidence"), newStubEmbedder())

	outcome, err := r.HybridRetrieval(context.Background(), "unrelated nonsense", 5)
	require.NoError(t, err)
	assert.Equal(t, types.RoutingNone, outcome.RoutingDecision)
	assert.Equal(t, 0.5, outcome.Confidence)
	assert.Empty(t, outcome.SourceCitations)
	assert.Empty(t, outcome.VectorResults)
	assert.Empty(t, outcome.GraphResults)
}

func TestRetriever_EmptyQueryRejected(t *testing.T) {
	r, _, _ := newTestRetriever(nil, newStubLLM("x"), newStubEmbedder())

	_, err := r.HybridRetrieval(context.Background(), "  ", 5)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidInput))
}

func TestRetriever_RouterAnswerUsedVerbatim(t *testing.T) {
	router := &stubRouter{result: &RouterResult{Tool: ToolVectorSearch, Answer: "router says hi"}}
	r, _, _ := newTestRetriever(router, newStubLLM("synth"), newStubEmbedder())

	outcome, err := r.HybridRetrieval(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, "router says hi", outcome.SynthesizedAnswer)
}

func TestRetriever_RouterFailureFallsBack(t *testing.T) {
	router := &stubRouter{err: fmt.Errorf("router exploded")}
	r, vectorStore, _ := newTestRetriever(router, newStubLLM("fallback synthesis"), newStubEmbedder())
	ctx := context.Background()

	require.NoError(t, vectorStore.Upsert(ctx, types.Chunk{
		ID: "c1", Content: "stored evidence", Embedding: []float64{1, 1, 0}, ContentHash: "h",
	}))

	outcome, err := r.HybridRetrieval(ctx, "q", 5)
	require.NoError(t, err)
	assert.Equal(t, "fallback synthesis", outcome.SynthesizedAnswer)
	assert.Equal(t, types.RoutingVector, outcome.RoutingDecision)
}

func TestRetriever_CitationsAndDecision(t *testing.T) {
	embedder := newStubEmbedder()
	embedder.embedFn = func(string) []float64 { return []float64{1, 0} }
	r, vectorStore, graphStore := newTestRetriever(nil, newStubLLM("answer"), embedder)
	ctx := context.Background()

	longContent := strings.Repeat("x", 300)
	require.NoError(t, vectorStore.Upsert(ctx, types.Chunk{
		ID: "chunk-1", Content: longContent, Embedding: []float64{1, 0}, ContentHash: "h1",
	}))
	require.NoError(t, graphStore.MergeNode(ctx, types.GraphNode{
		ID: "alice", Label: "Person", Embedding: []float64{1, 0},
	}))

	outcome, err := r.HybridRetrieval(ctx, "who is alice", 5)
	require.NoError(t, err)
	assert.Equal(t, types.RoutingHybrid, outcome.RoutingDecision)
	require.Len(t, outcome.SourceCitations, 2)

	vc := outcome.SourceCitations[0]
	assert.Equal(t, types.SourceVectorChunk, vc.SourceType)
	assert.Len(t, vc.ContentPreview, 200)
	assert.Nil(t, vc.SimilarityScore)

	gc := outcome.SourceCitations[1]
	assert.Equal(t, types.SourceGraphNode, gc.SourceType)
	assert.Equal(t, "Person: alice", gc.ContentPreview)
	require.NotNil(t, gc.SimilarityScore)
	assert.InDelta(t, 1.0, *gc.SimilarityScore, 1e-9)

	// 1 向量命中 + 高相似图命中 + 双来源: 0.5+0.04+0.1+0.1
	assert.Equal(t, 0.74, outcome.Confidence)
}

func TestRetriever_EmbeddingFailureDegrades(t *testing.T) {
	embedder := newStubEmbedder()
	embedder.queryErr = fmt.Errorf("gateway down")
	r, vectorStore, _ := newTestRetriever(nil, newStubLLM("honest answer"), embedder)
	ctx := context.Background()

	require.NoError(t, vectorStore.Upsert(ctx, types.Chunk{
		ID: "c", Content: "unreachable", Embedding: []float64{1, 0}, ContentHash: "h",
	}))

	outcome, err := r.HybridRetrieval(ctx, "q", 5)
	require.NoError(t, err)
	assert.Equal(t, types.RoutingNone, outcome.RoutingDecision)
	assert.Equal(t, 0.5, outcome.Confidence)
}

func TestConfidenceScore(t *testing.T) {
	hit := func(n int) []types.VectorHit {
		hits := make([]types.VectorHit, n)
		return hits
	}

	// 无证据 → 基准
	assert.Equal(t, 0.5, confidenceScore(nil, nil))
	// 向量加成封顶 0.2
	assert.Equal(t, 0.7, confidenceScore(hit(5), nil))
	assert.Equal(t, 0.7, confidenceScore(hit(20), nil))
	// 高相似图命中 +0.1（无向量 → 无双来源加成）
	assert.Equal(t, 0.6, confidenceScore(nil, []types.ScoredNode{{Similarity: 0.9}}))
	// 低相似图命中只拿双来源加成
	assert.Equal(t, 0.64, confidenceScore(hit(1), []types.ScoredNode{{Similarity: 0.3}}))
	// 满配封顶 0.9
	assert.Equal(t, 0.9, confidenceScore(hit(20), []types.ScoredNode{{Similarity: 0.95}}))
}

func TestConfidenceScore_BoundsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "hits")
		hits := make([]types.VectorHit, n)

		var nodes []types.ScoredNode
		for i := 0; i < rapid.IntRange(0, 5).Draw(t, "nodes"); i++ {
			nodes = append(nodes, types.ScoredNode{
				Similarity: rapid.Float64Range(0, 1).Draw(t, fmt.Sprintf("sim%d", i)),
			})
		}

		c := confidenceScore(hits, nodes)
		if c < 0 || c > 1 {
			t.Fatalf("confidence %v out of [0,1]", c)
		}
	})
}

func TestDeriveRoutingDecision(t *testing.T) {
	v := []types.VectorHit{{}}
	g := []types.ScoredNode{{}}

	assert.Equal(t, types.RoutingHybrid, deriveRoutingDecision(v, g))
	assert.Equal(t, types.RoutingGraph, deriveRoutingDecision(nil, g))
	assert.Equal(t, types.RoutingVector, deriveRoutingDecision(v, nil))
	assert.Equal(t, types.RoutingNone, deriveRoutingDecision(nil, nil))
}

func TestParseToolChoice(t *testing.T) {
	choice, err := parseToolChoice(`{"tool": "hybrid_search"}`)
	require.NoError(t, err)
	assert.Equal(t, ToolHybridSearch, choice.Tool)

	choice, err = parseToolChoice("```json\n{\"tool\": \"code_lookup\", \"path\": \"main.go\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, ToolCodeLookup, choice.Tool)
	assert.Equal(t, "main.go", choice.Path)

	_, err = parseToolChoice(`{"tool": "time_travel"}`)
	assert.Error(t, err)

	_, err = parseToolChoice("not json")
	assert.Error(t, err)
}

func TestLLMRouter_Route(t *testing.T) {
	logger := zap.NewNop()
	embedder := newStubEmbedder()
	embedder.embedFn = func(string) []float64 { return []float64{1, 0} }

	vectorStore := NewInMemoryVectorStore(logger)
	require.NoError(t, vectorStore.Upsert(context.Background(), types.Chunk{
		ID: "c", Content: "tool evidence", Embedding: []float64{1, 0}, ContentHash: "h",
	}))
	graphIndex := NewGraphIndex(NewInMemoryGraphStore(logger), embedder, logger)

	var sawToolOutput bool
	provider := &stubLLM{handler: func(prompt string) (string, error) {
		if strings.Contains(prompt, "Select the single best retrieval tool") {
			return `{"tool": "vector_search"}`, nil
		}
		sawToolOutput = strings.Contains(prompt, "tool evidence")
		return "routed answer", nil
	}}

	router := NewLLMRouter(provider, vectorStore, graphIndex, embedder, nil, logger)
	result, err := router.Route(context.Background(), "what is stored?", 5)
	require.NoError(t, err)
	assert.Equal(t, ToolVectorSearch, result.Tool)
	assert.Equal(t, "routed answer", result.Answer)
	assert.True(t, sawToolOutput)
}

func TestLLMRouter_SelectionFailure(t *testing.T) {
	provider := &stubLLM{handler: func(string) (string, error) {
		return "", fmt.Errorf("llm down")
	}}
	router := NewLLMRouter(provider, NewInMemoryVectorStore(zap.NewNop()),
		NewGraphIndex(NewInMemoryGraphStore(zap.NewNop()), newStubEmbedder(), zap.NewNop()),
		newStubEmbedder(), nil, zap.NewNop())

	_, err := router.Route(context.Background(), "q", 5)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRouter))
}
