package rag

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/neorag/llm"
	"github.com/BaSui01/neorag/llm/embedding"
	"github.com/BaSui01/neorag/types"
)

// graphQueryPrompt 自然语言转图查询的翻译提示。
const graphQueryPrompt = `Translate the following question into a single read-only SQL query
over these tables:

  graph_nodes(id TEXT, label TEXT, properties TEXT)
  graph_relationships(source_id TEXT, target_id TEXT, rel_type TEXT, properties TEXT)

Return only the SQL, no explanation, no code fences.

Question: %s`

// QueryService 加权融合检索。
// 图上下文和向量上下文独立获取，任一失败只影响自身：失败被转成
// 描述性字符串作为该侧上下文内容，而不是向上抛错。
type QueryService struct {
	provider    llm.Provider
	embedder    embedding.Provider
	vectorStore VectorStore
	graphStore  GraphStore
	topK        int
	logger      *zap.Logger
}

// NewQueryService 创建加权融合检索服务。
func NewQueryService(
	provider llm.Provider,
	embedder embedding.Provider,
	vectorStore VectorStore,
	graphStore GraphStore,
	topK int,
	logger *zap.Logger,
) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topK <= 0 {
		topK = 5
	}
	return &QueryService{
		provider:    provider,
		embedder:    embedder,
		vectorStore: vectorStore,
		graphStore:  graphStore,
		topK:        topK,
		logger:      logger.With(zap.String("component", "query_service")),
	}
}

// Query 执行一次加权融合查询。alpha ∈ [0,1] 控制图/向量优先级。
// 对格式正确的查询永不硬失败：合成失败时答案是解释性字符串。
func (s *QueryService) Query(ctx context.Context, text string, alpha float64) (*types.QueryResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.NewError(types.ErrInvalidInput, "query cannot be empty")
	}
	if alpha < 0 || alpha > 1 {
		return nil, types.NewError(types.ErrInvalidInput, "alpha must be in [0,1]")
	}

	// 两侧上下文相互独立，可以并发取
	var graphContext, vectorContext string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		graphContext = s.fetchGraphContext(gctx, text)
		return nil
	})
	g.Go(func() error {
		vectorContext = s.fetchVectorContext(gctx, text)
		return nil
	})
	_ = g.Wait()

	instruction := weightingInstruction(alpha)

	prompt := fmt.Sprintf(`Answer the question using the two context sections below.

%s

Graph Context:
%s

Vector Context:
%s

Question: %s`, instruction, graphContext, vectorContext, text)

	answer, err := s.provider.CompletePrompt(ctx, prompt)
	if err != nil {
		answer = synthesisFailureAnswer(s.logger, err)
	}

	return &types.QueryResponse{
		Answer:        answer,
		GraphContext:  graphContext,
		VectorContext: vectorContext,
	}, nil
}

// fetchGraphContext 自然语言 → 图查询 → 执行 → 行格式化。
// 任何失败都转成描述性字符串。
func (s *QueryService) fetchGraphContext(ctx context.Context, text string) string {
	query, err := s.provider.CompletePrompt(ctx, fmt.Sprintf(graphQueryPrompt, text))
	if err != nil {
		s.logger.Warn("graph query translation failed", zap.Error(err))
		return fmt.Sprintf("Graph context unavailable: query translation failed (%v)", err)
	}
	query = stripCodeFences(query)

	rows, err := s.graphStore.RunQuery(ctx, query)
	if err != nil {
		s.logger.Warn("graph query execution failed", zap.Error(err))
		return fmt.Sprintf("Graph context unavailable: query execution failed (%v)", err)
	}
	if len(rows) == 0 {
		return "No graph results found."
	}

	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "%v\n", row)
	}
	return strings.TrimRight(b.String(), "\n")
}

// fetchVectorContext 嵌入查询 → 最近邻 → 拼接内容。
func (s *QueryService) fetchVectorContext(ctx context.Context, text string) string {
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		s.logger.Warn("query embedding failed", zap.Error(err))
		return fmt.Sprintf("Vector context unavailable: embedding failed (%v)", err)
	}

	hits, err := s.vectorStore.Nearest(ctx, queryEmbedding, s.topK)
	if err != nil {
		s.logger.Warn("vector search failed", zap.Error(err))
		return fmt.Sprintf("Vector context unavailable: search failed (%v)", err)
	}
	if len(hits) == 0 {
		return "No vector results found."
	}

	contents := make([]string, len(hits))
	for i, hit := range hits {
		contents[i] = hit.Content
	}
	return strings.Join(contents, "\n---\n")
}

// synthesisFailureAnswer 把合成失败归类为 SYNTHESIS_ERROR 并生成解释性降级答案。
func synthesisFailureAnswer(logger *zap.Logger, cause error) string {
	logger.Error("answer synthesis failed",
		zap.Error(types.NewError(types.ErrSynthesis, "answer synthesis failed").WithCause(cause)))
	return fmt.Sprintf("Answer synthesis failed: %v", cause)
}

// weightingInstruction 把 alpha 翻译成给合成模型的加权指令。
func weightingInstruction(alpha float64) string {
	switch {
	case alpha >= 1.0:
		return "Rely *exclusively* on the Graph Context and ignore the Vector Context."
	case alpha <= 0.0:
		return "Rely *exclusively* on the Vector Context and ignore the Graph Context."
	case alpha == 0.5:
		return "Weight the Graph Context and the Vector Context equally."
	case alpha > 0.5:
		return fmt.Sprintf("Prioritize the Graph Context about %.1fx more than the Vector Context.", priorityFactor(alpha))
	default:
		return fmt.Sprintf("Prioritize the Vector Context about %.1fx more than the Graph Context.", priorityFactor(alpha))
	}
}

// priorityFactor 主导侧相对次要侧的倍数：max(alpha,1-alpha)/min(alpha,1-alpha)。
// 关于 0.5 对称，向两端严格递增。
func priorityFactor(alpha float64) float64 {
	hi := math.Max(alpha, 1-alpha)
	lo := math.Min(alpha, 1-alpha)
	if lo == 0 {
		return math.Inf(1)
	}
	return hi / lo
}

// stripCodeFences 去掉模型偶尔加上的 ``` 包裹。
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
