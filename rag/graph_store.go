package rag

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/neorag/types"
)

// GraphStore 图存储契约。
// 传入 MergeNode / MergeRelationship 的标签和类型必须已经过白名单清洗，
// 存储层自身不做注入防御。
type GraphStore interface {
	// MergeNode 按 ID 合并写入节点：已存在时合并属性而不是新建。
	MergeNode(ctx context.Context, node types.GraphNode) error

	// MergeRelationship 合并写入关系。端点是否存在由调用方保证。
	MergeRelationship(ctx context.Context, rel types.GraphRelationship) error

	// HasNode 判断节点是否存在。
	HasNode(ctx context.Context, id string) (bool, error)

	// RunQuery 执行一段图查询文本，返回行结果。
	RunQuery(ctx context.Context, query string) ([]map[string]any, error)

	// Traverse 从种子节点集合出发做 1..hopDepth 跳遍历，
	// 返回去重后的三元组，总数不超过 limit。
	Traverse(ctx context.Context, nodeIDs []string, hopDepth, limit int) ([]types.GraphTriple, error)

	// NodesWithEmbeddings 返回携带嵌入向量的全部节点。
	NodesWithEmbeddings(ctx context.Context) ([]types.GraphNode, error)
}

// =============================================================================
// 内存图存储（测试与小规模场景）
// =============================================================================

// InMemoryGraphStore 内存图存储
type InMemoryGraphStore struct {
	nodes  map[string]*types.GraphNode
	rels   []types.GraphRelationship
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryGraphStore 创建内存图存储
func NewInMemoryGraphStore(logger *zap.Logger) *InMemoryGraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryGraphStore{
		nodes:  make(map[string]*types.GraphNode),
		logger: logger.With(zap.String("component", "memory_graph_store")),
	}
}

// MergeNode 合并写入节点
func (s *InMemoryGraphStore) MergeNode(_ context.Context, node types.GraphNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.nodes[node.ID]
	if !ok {
		n := node
		if n.Properties == nil {
			n.Properties = make(map[string]any)
		}
		s.nodes[node.ID] = &n
		return nil
	}

	// merge 语义：属性覆盖合并，嵌入向量有新值才替换
	for k, v := range node.Properties {
		existing.Properties[k] = v
	}
	if node.Embedding != nil {
		existing.Embedding = node.Embedding
	}
	existing.Label = node.Label
	return nil
}

// MergeRelationship 合并写入关系
func (s *InMemoryGraphStore) MergeRelationship(_ context.Context, rel types.GraphRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.rels {
		if existing.SourceID == rel.SourceID && existing.TargetID == rel.TargetID && existing.Type == rel.Type {
			if rel.Properties != nil {
				if s.rels[i].Properties == nil {
					s.rels[i].Properties = make(map[string]any)
				}
				for k, v := range rel.Properties {
					s.rels[i].Properties[k] = v
				}
			}
			return nil
		}
	}
	s.rels = append(s.rels, rel)
	return nil
}

// HasNode 判断节点是否存在
func (s *InMemoryGraphStore) HasNode(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok, nil
}

// RunQuery 内存实现不支持查询文本，返回空行集。
func (s *InMemoryGraphStore) RunQuery(_ context.Context, _ string) ([]map[string]any, error) {
	return []map[string]any{}, nil
}

// Traverse 有界跳数遍历，按插入顺序去重，结果数不超过 limit。
func (s *InMemoryGraphStore) Traverse(_ context.Context, nodeIDs []string, hopDepth, limit int) ([]types.GraphTriple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if hopDepth < 1 {
		hopDepth = 1
	}

	frontier := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		frontier[id] = true
	}

	seen := make(map[types.GraphTriple]bool)
	var triples []types.GraphTriple

	for hop := 0; hop < hopDepth; hop++ {
		next := make(map[string]bool)
		for _, rel := range s.rels {
			if !frontier[rel.SourceID] && !frontier[rel.TargetID] {
				continue
			}
			triple := types.GraphTriple{Source: rel.SourceID, Rel: rel.Type, Target: rel.TargetID}
			if seen[triple] {
				continue
			}
			seen[triple] = true
			triples = append(triples, triple)
			if limit > 0 && len(triples) >= limit {
				return triples, nil
			}
			next[rel.SourceID] = true
			next[rel.TargetID] = true
		}
		frontier = next
	}
	return triples, nil
}

// NodesWithEmbeddings 返回携带嵌入的节点
func (s *InMemoryGraphStore) NodesWithEmbeddings(_ context.Context) ([]types.GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nodes []types.GraphNode
	for _, n := range s.nodes {
		if n.Embedding != nil {
			nodes = append(nodes, *n)
		}
	}
	return nodes, nil
}
