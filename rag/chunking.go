package rag

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/neorag/llm/embedding"
)

// Strategy 分块策略
type Strategy string

const (
	StrategyAuto      Strategy = "auto"      // 按内容自动选择
	StrategyRecursive Strategy = "recursive" // 递归分隔符分块
	StrategyMarkdown  Strategy = "markdown"  // Markdown 结构感知
	StrategyCode      Strategy = "code"      // 代码结构感知
	StrategySemantic  Strategy = "semantic"  // 句子嵌入语义分块
)

// ChunkingConfig 分块配置
type ChunkingConfig struct {
	Strategy     Strategy `json:"strategy"`       // 分块策略
	ChunkSize    int      `json:"chunk_size"`     // 目标块大小（字符）
	ChunkOverlap int      `json:"chunk_overlap"`  // 相邻块重叠（字符）
	MinChunkSize int      `json:"min_chunk_size"` // 语义分块的最小块大小
	Language     string   `json:"language"`       // 代码分块的语言提示
}

// DefaultChunkingConfig 默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Strategy:     StrategyAuto,
		ChunkSize:    1000,
		ChunkOverlap: 200,
		MinChunkSize: 100,
	}
}

// ChunkResult 分块结果。
// StrategyUsed 是实际使用的策略，内部失败降级时可能与请求的不同。
type ChunkResult struct {
	Chunks       []string `json:"chunks"`
	StrategyUsed Strategy `json:"strategy_used"`
	ChunkCount   int      `json:"chunk_count"`
	AvgChunkSize float64  `json:"avg_chunk_size"`
}

// LengthFunc 度量文本长度（字符或 token）。
type LengthFunc func(text string) int

// RuneLength 按 rune 计数的默认长度函数。
func RuneLength(text string) int { return len([]rune(text)) }

// chunkFunc 是单个策略的实现契约。
type chunkFunc func(ctx context.Context, text string, cfg ChunkingConfig) ([]string, error)

// Chunker 分块引擎。
// 策略表在构造时按枚举键建好，调用点不做字符串到实现的查找。
type Chunker struct {
	embedder   embedding.Provider
	length     LengthFunc
	strategies map[Strategy]chunkFunc
	logger     *zap.Logger
}

// NewChunker 创建分块引擎。
// embedder 仅语义策略需要，传 nil 时语义策略降级为递归策略。
func NewChunker(embedder embedding.Provider, length LengthFunc, logger *zap.Logger) *Chunker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if length == nil {
		length = RuneLength
	}

	c := &Chunker{
		embedder: embedder,
		length:   length,
		logger:   logger.With(zap.String("component", "chunker")),
	}
	c.strategies = map[Strategy]chunkFunc{
		StrategyRecursive: c.recursiveChunk,
		StrategyMarkdown:  c.markdownChunk,
		StrategyCode:      c.codeChunk,
		StrategySemantic:  c.semanticChunk,
	}
	return c
}

// Chunk 把文本切成有界的块。
// 对合法的非空输入永不返回错误：策略内部失败时降级到递归策略并在
// StrategyUsed 里记录。空白输入直接返回零块结果，不触发任何子策略。
func (c *Chunker) Chunk(ctx context.Context, text string, cfg ChunkingConfig) (*ChunkResult, error) {
	if strings.TrimSpace(text) == "" {
		return &ChunkResult{Chunks: []string{}, StrategyUsed: cfg.Strategy}, nil
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkingConfig().ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}

	strategy := cfg.Strategy
	if strategy == StrategyAuto || strategy == "" {
		strategy = c.detectStrategy(text)
		c.logger.Debug("auto-detected chunking strategy", zap.String("strategy", string(strategy)))
	}

	fn, ok := c.strategies[strategy]
	if !ok {
		strategy = StrategyRecursive
		fn = c.strategies[StrategyRecursive]
	}

	chunks, err := fn(ctx, text, cfg)
	if err != nil {
		c.logger.Warn("chunking strategy failed, falling back to recursive",
			zap.String("strategy", string(strategy)),
			zap.Error(err))
		strategy = StrategyRecursive
		chunks, _ = c.recursiveChunk(ctx, text, cfg)
	}

	// 丢弃空白块后再算平均大小
	filtered := make([]string, 0, len(chunks))
	total := 0
	for _, ch := range chunks {
		if strings.TrimSpace(ch) == "" {
			continue
		}
		filtered = append(filtered, ch)
		total += c.length(ch)
	}

	result := &ChunkResult{
		Chunks:       filtered,
		StrategyUsed: strategy,
		ChunkCount:   len(filtered),
	}
	if len(filtered) > 0 {
		result.AvgChunkSize = float64(total) / float64(len(filtered))
	}
	return result, nil
}

// =============================================================================
// 自动检测
// =============================================================================

var markdownMarkers = []string{"# ", "## ", "```", "- [ ]", "* "}

var codeIndicators = []string{"def ", "class ", "function ", "import ", "const ", "let ", "var "}

// detectStrategy 根据内容特征选择策略：
// 出现 Markdown 标记 → markdown；出现 ≥2 种不同的代码指示词 → code；否则递归。
func (c *Chunker) detectStrategy(text string) Strategy {
	for _, marker := range markdownMarkers {
		if strings.Contains(text, marker) {
			return StrategyMarkdown
		}
	}

	distinct := 0
	for _, ind := range codeIndicators {
		if strings.Contains(text, ind) {
			distinct++
		}
	}
	if distinct >= 2 {
		return StrategyCode
	}
	return StrategyRecursive
}

// =============================================================================
// 递归分块
// =============================================================================

var recursiveSeparators = []string{"\n\n", "\n", ". ", " ", ""}

func (c *Chunker) recursiveChunk(_ context.Context, text string, cfg ChunkingConfig) ([]string, error) {
	return c.splitWithSeparators(text, recursiveSeparators, cfg), nil
}

// splitWithSeparators 按分隔符优先级递归切分，再带重叠合并。
func (c *Chunker) splitWithSeparators(text string, separators []string, cfg ChunkingConfig) []string {
	pieces := c.splitRecursive(text, separators, cfg.ChunkSize)
	return c.mergePieces(pieces, cfg.ChunkSize, cfg.ChunkOverlap)
}

// splitRecursive 产出不超过 size 的片段（单个不可分割单元除外）。
// 分隔符保留在片段尾部，保证合并后不丢失字符。
func (c *Chunker) splitRecursive(text string, separators []string, size int) []string {
	if c.length(text) <= size {
		return []string{text}
	}
	if len(separators) == 0 {
		return c.splitByRunes(text, size)
	}

	sep := separators[0]
	rest := separators[1:]

	if sep == "" {
		return c.splitByRunes(text, size)
	}
	if !strings.Contains(text, sep) {
		return c.splitRecursive(text, rest, size)
	}

	parts := strings.Split(text, sep)
	var pieces []string
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if part == "" {
			continue
		}
		if c.length(part) > size {
			pieces = append(pieces, c.splitRecursive(part, rest, size)...)
		} else {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

// splitByRunes 最后手段：按 rune 硬切。
func (c *Chunker) splitByRunes(text string, size int) []string {
	runes := []rune(text)
	if size <= 0 {
		return []string{text}
	}
	var pieces []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[i:end]))
	}
	return pieces
}

// mergePieces 把片段贪心合并成接近 size 的块，相邻块之间保留
// overlap 长度的尾部片段作为重叠。
func (c *Chunker) mergePieces(pieces []string, size, overlap int) []string {
	var chunks []string
	var current []string
	total := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunk := strings.Join(current, "")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		// 保留尾部片段作为下一块的重叠前缀
		for total > overlap && len(current) > 0 {
			total -= c.length(current[0])
			current = current[1:]
		}
	}

	for _, piece := range pieces {
		plen := c.length(piece)
		if total+plen > size && total > 0 {
			flush()
		}
		current = append(current, piece)
		total += plen
	}
	if len(current) > 0 {
		chunk := strings.Join(current, "")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// =============================================================================
// Markdown / 代码分块
// =============================================================================

var markdownSeparators = []string{"\n## ", "\n### ", "\n# ", "\n```", "\n\n", "\n", ". ", " ", ""}

func (c *Chunker) markdownChunk(_ context.Context, text string, cfg ChunkingConfig) ([]string, error) {
	return c.splitWithSeparators(text, markdownSeparators, cfg), nil
}

// codeSeparators 按语言给出结构边界；未识别语言用通用边界。
var codeSeparators = map[string][]string{
	"python":     {"\nclass ", "\ndef ", "\n\tdef ", "\n\n", "\n", " ", ""},
	"go":         {"\nfunc ", "\ntype ", "\nconst ", "\nvar ", "\n\n", "\n", " ", ""},
	"javascript": {"\nfunction ", "\nclass ", "\nconst ", "\nlet ", "\n\n", "\n", " ", ""},
	"typescript": {"\nfunction ", "\nclass ", "\nconst ", "\nlet ", "\ninterface ", "\n\n", "\n", " ", ""},
	"java":       {"\nclass ", "\npublic ", "\nprivate ", "\nprotected ", "\n\n", "\n", " ", ""},
	"rust":       {"\nfn ", "\nimpl ", "\nstruct ", "\nenum ", "\n\n", "\n", " ", ""},
}

var genericCodeSeparators = []string{"\n\n", "\n", " ", ""}

func (c *Chunker) codeChunk(_ context.Context, text string, cfg ChunkingConfig) ([]string, error) {
	seps, ok := codeSeparators[strings.ToLower(cfg.Language)]
	if !ok {
		seps = genericCodeSeparators
	}
	return c.splitWithSeparators(text, seps, cfg), nil
}

// =============================================================================
// 语义分块
// =============================================================================

// semanticChunk 按句子嵌入相似度分块：相邻句子相似度低于
// (均值 - 一个标准差) 且累积长度达到 MinChunkSize 时断开。
// 嵌入网关不可用、失败或句子数 ≤1 时返回错误，由 Chunk 降级为递归策略。
func (c *Chunker) semanticChunk(ctx context.Context, text string, cfg ChunkingConfig) ([]string, error) {
	if c.embedder == nil {
		return nil, fmt.Errorf("semantic chunking requires an embedding provider")
	}

	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return nil, fmt.Errorf("semantic chunking needs more than one sentence, got %d", len(sentences))
	}

	embeddings, err := c.embedder.EmbedDocuments(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}

	similarities := make([]float64, len(sentences)-1)
	for i := 0; i < len(sentences)-1; i++ {
		similarities[i] = cosineSimilarity(embeddings[i], embeddings[i+1])
	}
	threshold := breakpointThreshold(similarities)

	var chunks []string
	current := []string{sentences[0]}
	accumulated := c.length(sentences[0])

	for i := 1; i < len(sentences); i++ {
		breakpoint := similarities[i-1] < threshold && accumulated >= cfg.MinChunkSize
		forced := accumulated+c.length(sentences[i]) > cfg.ChunkSize

		if breakpoint || forced {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			accumulated = 0
		}
		current = append(current, sentences[i])
		accumulated += c.length(sentences[i])
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	c.logger.Debug("semantic chunking completed",
		zap.Int("sentences", len(sentences)),
		zap.Float64("threshold", threshold),
		zap.Int("chunks", len(chunks)))
	return chunks, nil
}

// breakpointThreshold 返回 均值 - 一个标准差。
func breakpointThreshold(similarities []float64) float64 {
	if len(similarities) == 0 {
		return 0
	}
	var sum float64
	for _, s := range similarities {
		sum += s
	}
	mean := sum / float64(len(similarities))

	var variance float64
	for _, s := range similarities {
		d := s - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(similarities)))
	return mean - stddev
}

var sentenceEnders = map[rune]bool{'.': true, '!': true, '?': true, '。': true, '！': true, '？': true, '\n': true}

// splitSentences 按终止标点切句，丢弃空白句。
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if sentenceEnders[r] {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
