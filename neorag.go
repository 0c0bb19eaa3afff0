// Package neorag provides a top-level convenience entry point that wires
// a loaded configuration into ready-to-use ingestion and retrieval services.
//
// Usage:
//
//	import (
//	    "github.com/BaSui01/neorag"
//	    "github.com/BaSui01/neorag/config"
//	)
//
//	cfg := config.MustLoad("config.yaml")
//	sys, err := neorag.New(cfg)
//	summary, err := sys.Ingest(ctx, text, nil)
//	resp, err := sys.Query(ctx, "What does the ingestion pipeline do?")
//
// Every component can be swapped via options; by default the system runs on
// in-memory stores, and switches to Postgres/GORM-backed stores when
// cfg.Database.DSN is set.
package neorag

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/neorag/config"
	"github.com/BaSui01/neorag/internal/cache"
	"github.com/BaSui01/neorag/internal/database"
	"github.com/BaSui01/neorag/internal/metrics"
	"github.com/BaSui01/neorag/llm"
	"github.com/BaSui01/neorag/llm/embedding"
	"github.com/BaSui01/neorag/rag"
	"github.com/BaSui01/neorag/types"
)

// System 把配置翻译成装配好的组件集合。
// 字段导出以便调用方直接使用单个服务；便捷方法用配置里的
// 检索默认值（top_k、alpha、hop_depth）补全参数。
type System struct {
	Pipeline     *rag.Pipeline
	QueryService *rag.QueryService
	Retriever    *rag.Retriever
	GraphIndex   *rag.GraphIndex

	cfg          *config.Config
	logger       *zap.Logger
	vectorStore  rag.VectorStore
	graphStore   rag.GraphStore
	pool         *database.PoolManager
	cacheManager *cache.Manager
}

// Option 配置 [New] 创建的系统。
type Option func(*options)

type options struct {
	logger      *zap.Logger
	provider    llm.Provider
	embedder    embedding.Provider
	vectorStore rag.VectorStore
	graphStore  rag.GraphStore
	router      rag.Router
	codeRoot    string
	collector   *metrics.Collector
}

// WithLogger 注入自定义 zap logger，替代从 cfg.Log 构建的默认 logger。
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProvider 注入预构建的 LLM 提供者，替代从 cfg.LLM 构建的 OpenAI 网关。
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithEmbedder 注入预构建的嵌入提供者，替代从 cfg.Embedding 构建的网关。
func WithEmbedder(e embedding.Provider) Option {
	return func(o *options) { o.embedder = e }
}

// WithVectorStore 注入向量存储，覆盖 DSN 驱动的默认选择。
func WithVectorStore(s rag.VectorStore) Option {
	return func(o *options) { o.vectorStore = s }
}

// WithGraphStore 注入图存储，覆盖 DSN 驱动的默认选择。
func WithGraphStore(s rag.GraphStore) Option {
	return func(o *options) { o.graphStore = s }
}

// WithRouter 注入检索路由器，替代默认的 LLM 路由器。
func WithRouter(r rag.Router) Option {
	return func(o *options) { o.router = r }
}

// WithCodeRoot 启用代码检索工具，root 是允许读取的目录。
func WithCodeRoot(root string) Option {
	return func(o *options) { o.codeRoot = root }
}

// WithCollector 启用 Prometheus 指标采集。
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// New 根据配置装配完整系统。cfg 为 nil 时使用 config.DefaultConfig()。
func New(cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = NewLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	sys := &System{cfg: cfg, logger: logger}

	provider := o.provider
	if provider == nil {
		provider = llm.NewOpenAIProvider(llm.OpenAIConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
	}

	embedder := o.embedder
	if embedder == nil {
		var err error
		embedder, err = sys.buildEmbedder()
		if err != nil {
			return nil, err
		}
	}

	if err := sys.buildStores(o); err != nil {
		return nil, err
	}

	var length rag.LengthFunc
	if cfg.Chunking.TokenizerModel != "" {
		var err error
		length, err = rag.NewTiktokenLength(cfg.Chunking.TokenizerModel, logger)
		if err != nil {
			return nil, fmt.Errorf("build tokenizer %q: %w", cfg.Chunking.TokenizerModel, err)
		}
	}

	chunker := rag.NewChunker(embedder, length, logger)
	extractor := rag.NewEntityExtractor(provider, logger)
	sanitizer := rag.NewSanitizer(cfg.Graph.RejectUnknownLabels, logger)

	indexOpts := []rag.GraphIndexOption{rag.WithTraversalLimit(cfg.Retrieval.TraversalLimit)}
	if cfg.Retrieval.MinSimilarity > 0 {
		indexOpts = append(indexOpts, rag.WithMinSimilarity(cfg.Retrieval.MinSimilarity))
	}
	sys.GraphIndex = rag.NewGraphIndex(sys.graphStore, embedder, logger, indexOpts...)

	var pipelineOpts []rag.PipelineOption
	var retrieverOpts []rag.RetrieverOption
	if o.collector != nil {
		pipelineOpts = append(pipelineOpts, rag.WithMetrics(o.collector))
		retrieverOpts = append(retrieverOpts, rag.WithRetrieverMetrics(o.collector))
	}

	sys.Pipeline = rag.NewPipeline(chunker, embedder, extractor,
		sys.vectorStore, sys.graphStore, sanitizer, logger, pipelineOpts...)

	router := o.router
	if router == nil {
		var codeLookup *rag.CodeLookup
		if o.codeRoot != "" {
			codeLookup = rag.NewCodeLookup(o.codeRoot, logger)
		}
		router = rag.NewLLMRouter(provider, sys.vectorStore, sys.GraphIndex, embedder, codeLookup, logger)
	}
	sys.Retriever = rag.NewRetriever(router, provider, embedder,
		sys.vectorStore, sys.GraphIndex, logger, retrieverOpts...)

	sys.QueryService = rag.NewQueryService(provider, embedder,
		sys.vectorStore, sys.graphStore, cfg.Retrieval.TopK, logger)

	return sys, nil
}

// buildEmbedder 从 cfg.Embedding 构建嵌入网关，
// CacheEnabled 时再套一层 Redis 缓存（地址来自 cfg.Redis）。
func (s *System) buildEmbedder() (embedding.Provider, error) {
	inner := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL:    s.cfg.Embedding.BaseURL,
		APIKey:     s.cfg.Embedding.APIKey,
		Model:      s.cfg.Embedding.Model,
		Dimensions: s.cfg.Embedding.Dimensions,
		Timeout:    s.cfg.Embedding.Timeout,
	})
	if !s.cfg.Embedding.CacheEnabled {
		return inner, nil
	}

	cm, err := cache.NewManager(cache.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		DefaultTTL:   s.cfg.Redis.DefaultTTL,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("connect embedding cache: %w", err)
	}
	s.cacheManager = cm
	return embedding.NewCachedProvider(inner, cm, s.cfg.Embedding.CacheTTL, s.logger), nil
}

// buildStores 选择存储后端：注入的优先，其次 DSN 驱动的 Postgres/GORM，
// 最后内存实现。两个存储共用同一个连接池。
func (s *System) buildStores(o options) error {
	s.vectorStore = o.vectorStore
	s.graphStore = o.graphStore
	if s.vectorStore != nil && s.graphStore != nil {
		return nil
	}

	if s.cfg.Database.DSN != "" {
		db, err := gorm.Open(postgres.Open(s.cfg.Database.DSN), &gorm.Config{})
		if err != nil {
			return types.NewError(types.ErrStoreUnavailable, "open database").WithCause(err)
		}
		pool, err := database.NewPoolManager(db, database.PoolConfig{
			MaxIdleConns:        s.cfg.Database.MaxIdleConns,
			MaxOpenConns:        s.cfg.Database.MaxOpenConns,
			ConnMaxLifetime:     s.cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime:     s.cfg.Database.ConnMaxIdleTime,
			HealthCheckInterval: s.cfg.Database.HealthCheckInterval,
		}, s.logger)
		if err != nil {
			return types.NewError(types.ErrStoreUnavailable, "initialize database pool").WithCause(err)
		}
		s.pool = pool

		if s.vectorStore == nil {
			s.vectorStore = rag.NewPostgresVectorStore(pool, s.logger)
		}
		if s.graphStore == nil {
			graphStore, err := rag.NewGormGraphStore(pool.DB(), s.logger)
			if err != nil {
				return err
			}
			s.graphStore = graphStore
		}
		return nil
	}

	if s.vectorStore == nil {
		s.vectorStore = rag.NewInMemoryVectorStore(s.logger)
	}
	if s.graphStore == nil {
		s.graphStore = rag.NewInMemoryGraphStore(s.logger)
	}
	return nil
}

// Ingest 用 cfg.Chunking 的默认分块参数入库一段文本。
func (s *System) Ingest(ctx context.Context, text string, metadata map[string]string) (*types.IngestSummary, error) {
	return s.Pipeline.Ingest(ctx, text, metadata, rag.ChunkingConfig{
		Strategy:     rag.Strategy(s.cfg.Chunking.Strategy),
		ChunkSize:    s.cfg.Chunking.ChunkSize,
		ChunkOverlap: s.cfg.Chunking.ChunkOverlap,
		MinChunkSize: s.cfg.Chunking.MinChunkSize,
		Language:     s.cfg.Chunking.Language,
	})
}

// Query 用 cfg.Retrieval.DefaultAlpha 执行加权融合查询。
func (s *System) Query(ctx context.Context, text string) (*types.QueryResponse, error) {
	return s.QueryService.Query(ctx, text, s.cfg.Retrieval.DefaultAlpha)
}

// QueryWeighted 用显式 alpha 执行加权融合查询。
func (s *System) QueryWeighted(ctx context.Context, text string, alpha float64) (*types.QueryResponse, error) {
	return s.QueryService.Query(ctx, text, alpha)
}

// Retrieve 用 cfg.Retrieval.TopK 执行一次代理路由检索。
func (s *System) Retrieve(ctx context.Context, query string) (*types.RetrievalOutcome, error) {
	return s.Retriever.HybridRetrieval(ctx, query, s.cfg.Retrieval.TopK)
}

// GraphSearch 用 cfg.Retrieval 的 TopK 和 HopDepth 执行图检索。
func (s *System) GraphSearch(ctx context.Context, query string) (*rag.GraphSearchResult, error) {
	return s.GraphIndex.HybridGraphSearch(ctx, query, s.cfg.Retrieval.TopK, s.cfg.Retrieval.HopDepth)
}

// Close 释放持有的连接池和缓存连接。内存存储无需释放。
func (s *System) Close() error {
	var firstErr error
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			firstErr = err
		}
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewLogger 根据日志配置构建 zap logger。
// format=console 用开发编码器，其余用生产 JSON 编码器。
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = level
	}
	return zc.Build()
}
