package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/neorag/llm"
	"github.com/BaSui01/neorag/types"
)

// extractionPrompt 约束模型只输出 JSON 形式的节点和关系。
const extractionPrompt = `Extract entities and relationships from the following text.

Allowed node labels: Entity, Concept, Person, Organization, Location, Event, Document
Allowed relationship types: RELATES_TO, MENTIONS, CONTAINS, PART_OF, CREATED_BY, LOCATED_IN

Respond with JSON only, in this exact shape:
{
  "nodes": [{"id": "entity name", "label": "Entity", "properties": {}}],
  "relationships": [{"source_id": "a", "target_id": "b", "type": "RELATES_TO", "properties": {}}]
}

Use concise human-readable entity names as node ids. Do not invent entities
that are not present in the text.

Text:
%s`

// EntityExtractor 基于 LLM 的实体/关系抽取器。
// 输出是不可信的候选图，落库前必须经 Sanitizer 清洗。
type EntityExtractor struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewEntityExtractor 创建抽取器。
func NewEntityExtractor(provider llm.Provider, logger *zap.Logger) *EntityExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityExtractor{
		provider: provider,
		logger:   logger.With(zap.String("component", "entity_extractor")),
	}
}

// Extract 从文本抽取候选知识图。
// 网关失败或输出无法解析时返回 types.ErrExtraction，调用方决定降级。
func (e *EntityExtractor) Extract(ctx context.Context, text string) (*types.KnowledgeGraph, error) {
	resp, err := e.provider.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(extractionPrompt, text)},
		},
		JSONMode: true,
	})
	if err != nil {
		return nil, types.NewError(types.ErrExtraction, "entity extraction request failed").WithCause(err)
	}

	kg, err := parseExtraction(resp.Content)
	if err != nil {
		return nil, types.NewError(types.ErrExtraction, "entity extraction output unparsable").WithCause(err)
	}

	e.logger.Debug("entities extracted",
		zap.Int("nodes", len(kg.Nodes)),
		zap.Int("relationships", len(kg.Relationships)))
	return kg, nil
}

// parseExtraction 解析模型输出。容忍 code fence 和前后缀噪声：
// 截取第一个 '{' 到最后一个 '}' 之间的内容再解码。
func parseExtraction(content string) (*types.KnowledgeGraph, error) {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var kg types.KnowledgeGraph
	if err := json.Unmarshal([]byte(content[start:end+1]), &kg); err != nil {
		return nil, fmt.Errorf("decode extraction JSON: %w", err)
	}
	return &kg, nil
}
