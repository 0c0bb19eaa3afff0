package types

import "time"

// Chunk 表示一个已入库的文本块及其嵌入向量。
// 入库后不可变；ContentHash 是全系统去重键，同一哈希最多存一条。
type Chunk struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	Embedding   []float64         `json:"embedding,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ContentHash string            `json:"content_hash"`
	CreatedAt   time.Time         `json:"created_at,omitempty"`
}

// GraphNode 表示知识图中的节点。
// ID 由调用方指定（通常是有意义的实体名），Label 必须属于固定白名单。
// 重复写入同一 ID 采用 merge 语义：合并属性而不是新建节点。
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Embedding  []float64      `json:"embedding,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphRelationship 表示两个节点之间的关系。
// Type 必须属于固定白名单；端点无法解析的关系会被丢弃而不是落库。
type GraphRelationship struct {
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// KnowledgeGraph 是实体抽取的候选输出：节点 + 关系。
// 抽取结果不可信，落库前必须经过白名单清洗。
type KnowledgeGraph struct {
	Nodes         []GraphNode         `json:"nodes"`
	Relationships []GraphRelationship `json:"relationships"`
}

// IngestSummary 是一次文本入库的结果汇总。
type IngestSummary struct {
	ChunksStored int     `json:"chunks_stored"`
	StrategyUsed string  `json:"strategy_used"`
	ChunkCount   int     `json:"chunk_count"`
	AvgChunkSize float64 `json:"avg_chunk_size"`
	GraphNodes   int     `json:"graph_nodes"`
}

// SourceType 标识引用来源的类别。
type SourceType string

const (
	SourceVectorChunk SourceType = "vector_chunk"
	SourceGraphNode   SourceType = "graph_node"
)

// Citation 是一条证据引用。
// 向量块不暴露相似度分数（存储层只保证排序，不保证分数可见），
// 图节点携带计算出的余弦相似度。
type Citation struct {
	SourceID        string     `json:"source_id"`
	SourceType      SourceType `json:"source_type"`
	ContentPreview  string     `json:"content_preview"`
	SimilarityScore *float64   `json:"similarity_score"`
}

// RoutingDecision 是事后根据各来源是否产出结果推导出的路由标签。
type RoutingDecision string

const (
	RoutingHybrid RoutingDecision = "hybrid"
	RoutingGraph  RoutingDecision = "graph"
	RoutingVector RoutingDecision = "vector"
	RoutingNone   RoutingDecision = "none"
)

// VectorHit 是向量检索命中的一条文档。
type VectorHit struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScoredNode 是图相似度检索命中的一个节点。
type ScoredNode struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
}

// GraphTriple 是一条 (source, relationship, target) 遍历结果。
type GraphTriple struct {
	Source string `json:"source"`
	Rel    string `json:"rel"`
	Target string `json:"target"`
}

// RetrievalOutcome 是代理路由检索的完整结果。
type RetrievalOutcome struct {
	VectorResults     []VectorHit     `json:"vector_results"`
	GraphResults      []ScoredNode    `json:"graph_results"`
	SynthesizedAnswer string          `json:"synthesized_answer"`
	RoutingDecision   RoutingDecision `json:"routing_decision"`
	Confidence        float64         `json:"confidence"`
	SourceCitations   []Citation      `json:"source_citations"`
}

// QueryResponse 是加权融合查询的结果。
type QueryResponse struct {
	Answer        string `json:"answer"`
	GraphContext  string `json:"graph_context"`
	VectorContext string `json:"vector_context"`
}
