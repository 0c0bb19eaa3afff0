package rag

import (
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/neorag/types"
)

// 标签和关系类型会被直接拼进图存储的查询文本，无法走绑定参数，
// 所以落库前必须收敛到固定白名单。

// DefaultNodeLabel 未知标签的回退值
const DefaultNodeLabel = "Entity"

// DefaultRelType 未知关系类型的回退值
const DefaultRelType = "RELATES_TO"

// allowedNodeLabels 节点标签白名单
var allowedNodeLabels = map[string]string{
	"entity":       "Entity",
	"concept":      "Concept",
	"person":       "Person",
	"organization": "Organization",
	"location":     "Location",
	"event":        "Event",
	"document":     "Document",
}

// allowedRelTypes 关系类型白名单
var allowedRelTypes = map[string]bool{
	"RELATES_TO": true,
	"MENTIONS":   true,
	"CONTAINS":   true,
	"PART_OF":    true,
	"CREATED_BY": true,
	"LOCATED_IN": true,
}

// Sanitizer 白名单清洗器。
// rejectUnknown 为 false（默认）时未知值重映射到安全回退值；
// 为 true 时未知值对应的节点/关系被整条丢弃。
type Sanitizer struct {
	rejectUnknown bool
	logger        *zap.Logger
}

// NewSanitizer 创建清洗器。
func NewSanitizer(rejectUnknown bool, logger *zap.Logger) *Sanitizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sanitizer{
		rejectUnknown: rejectUnknown,
		logger:        logger.With(zap.String("component", "sanitizer")),
	}
}

// SanitizeLabel 把任意标签字符串收敛到白名单成员。
// 返回清洗后的标签和是否发生了重映射。
func (s *Sanitizer) SanitizeLabel(label string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if canonical, ok := allowedNodeLabels[normalized]; ok {
		return canonical, canonical != label
	}
	return DefaultNodeLabel, true
}

// SanitizeRelType 把任意关系类型收敛到白名单成员。
// 归一化规则：大写化，空格和连字符转下划线。
func (s *Sanitizer) SanitizeRelType(relType string) (string, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(relType))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if allowedRelTypes[normalized] {
		return normalized, normalized != relType
	}
	return DefaultRelType, true
}

// SanitizeGraph 清洗整个抽取结果。
// 返回的图中每个标签和类型都保证属于白名单；reject 模式下未知值
// 对应的节点/关系被丢弃，其余保留。清洗永不失败。
func (s *Sanitizer) SanitizeGraph(kg *types.KnowledgeGraph) *types.KnowledgeGraph {
	if kg == nil {
		return &types.KnowledgeGraph{}
	}

	out := &types.KnowledgeGraph{
		Nodes:         make([]types.GraphNode, 0, len(kg.Nodes)),
		Relationships: make([]types.GraphRelationship, 0, len(kg.Relationships)),
	}
	dropped := make(map[string]bool)

	for _, node := range kg.Nodes {
		if strings.TrimSpace(node.ID) == "" {
			continue
		}
		label, remapped := s.SanitizeLabel(node.Label)
		if remapped && s.rejectUnknown && !isKnownLabel(node.Label) {
			s.logger.Warn("rejecting node with unknown label",
				zap.String("id", node.ID),
				zap.String("label", node.Label))
			dropped[node.ID] = true
			continue
		}
		if remapped {
			s.logger.Warn("remapped node label",
				zap.String("id", node.ID),
				zap.String("from", node.Label),
				zap.String("to", label))
		}
		node.Label = label
		out.Nodes = append(out.Nodes, node)
	}

	for _, rel := range kg.Relationships {
		if dropped[rel.SourceID] || dropped[rel.TargetID] {
			continue
		}
		relType, remapped := s.SanitizeRelType(rel.Type)
		if remapped && s.rejectUnknown && !isKnownRelType(rel.Type) {
			s.logger.Warn("rejecting relationship with unknown type",
				zap.String("source", rel.SourceID),
				zap.String("type", rel.Type))
			continue
		}
		if remapped {
			s.logger.Warn("remapped relationship type",
				zap.String("from", rel.Type),
				zap.String("to", relType))
		}
		rel.Type = relType
		out.Relationships = append(out.Relationships, rel)
	}

	return out
}

// isKnownLabel 判断原始标签是否能归一化到白名单（仅大小写/空白差异）。
func isKnownLabel(label string) bool {
	_, ok := allowedNodeLabels[strings.ToLower(strings.TrimSpace(label))]
	return ok
}

func isKnownRelType(relType string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(relType))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return allowedRelTypes[normalized]
}
