package config

import "time"

// DefaultConfig 返回带有生产级默认值的完整配置
func DefaultConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			Strategy:     "auto",
			ChunkSize:    1000,
			ChunkOverlap: 200,
			MinChunkSize: 100,
		},
		Embedding: EmbeddingConfig{
			BaseURL:      "https://api.openai.com",
			Model:        "text-embedding-3-small",
			Dimensions:   1536,
			Timeout:      30 * time.Second,
			CacheEnabled: false,
			CacheTTL:     24 * time.Hour,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4-turbo",
			Temperature: 0,
			Timeout:     60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:        20,
			MaxIdleConns:        5,
			ConnMaxLifetime:     time.Hour,
			ConnMaxIdleTime:     10 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			DefaultTTL:   5 * time.Minute,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Retrieval: RetrievalConfig{
			TopK:           5,
			MinSimilarity:  0.7,
			HopDepth:       1,
			TraversalLimit: 50,
			DefaultAlpha:   0.5,
		},
		Graph: GraphConfig{
			RejectUnknownLabels: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
