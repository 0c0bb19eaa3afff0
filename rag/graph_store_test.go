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

func TestInMemoryGraphStore_MergeNode(t *testing.T) {
	s := NewInMemoryGraphStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.MergeNode(ctx, types.GraphNode{
		ID: "alice", Label: "Person", Properties: map[string]any{"role": "engineer"},
	}))
	require.NoError(t, s.MergeNode(ctx, types.GraphNode{
		ID: "alice", Label: "Person",
		Embedding:  []float64{1, 0},
		Properties: map[string]any{"team": "infra"},
	}))

	nodes, err := s.NodesWithEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	// merge 语义：属性合并，不新建节点
	assert.Equal(t, "engineer", nodes[0].Properties["role"])
	assert.Equal(t, "infra", nodes[0].Properties["team"])
}

func TestInMemoryGraphStore_MergeRelationshipDedupe(t *testing.T) {
	s := NewInMemoryGraphStore(zap.NewNop())
	ctx := context.Background()

	rel := types.GraphRelationship{SourceID: "a", TargetID: "b", Type: "MENTIONS"}
	require.NoError(t, s.MergeRelationship(ctx, rel))
	require.NoError(t, s.MergeRelationship(ctx, rel))

	triples, err := s.Traverse(ctx, []string{"a"}, 1, 0)
	require.NoError(t, err)
	assert.Len(t, triples, 1)
}

func TestInMemoryGraphStore_HasNode(t *testing.T) {
	s := NewInMemoryGraphStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.MergeNode(ctx, types.GraphNode{ID: "x", Label: "Entity"}))

	ok, err := s.HasNode(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasNode(ctx, "y")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryGraphStore_TraverseHops(t *testing.T) {
	s := NewInMemoryGraphStore(zap.NewNop())
	ctx := context.Background()

	// a -> b -> c -> d 链
	for _, pair := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}} {
		require.NoError(t, s.MergeRelationship(ctx, types.GraphRelationship{
			SourceID: pair[0], TargetID: pair[1], Type: "RELATES_TO",
		}))
	}

	oneHop, err := s.Traverse(ctx, []string{"a"}, 1, 0)
	require.NoError(t, err)
	assert.Len(t, oneHop, 1)

	twoHop, err := s.Traverse(ctx, []string{"a"}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, twoHop, 2)
}

func TestInMemoryGraphStore_TraverseCap(t *testing.T) {
	s := NewInMemoryGraphStore(zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 80; i++ {
		require.NoError(t, s.MergeRelationship(ctx, types.GraphRelationship{
			SourceID: "hub", TargetID: fmt.Sprintf("n%d", i), Type: "MENTIONS",
		}))
	}

	triples, err := s.Traverse(ctx, []string{"hub"}, 3, DefaultTraversalLimit)
	require.NoError(t, err)
	assert.Len(t, triples, DefaultTraversalLimit)
}
