package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/neorag/internal/database"
	"github.com/BaSui01/neorag/types"
)

// PostgresVectorStore 基于 Postgres + pgvector 的向量存储。
// documents 表：id, content, embedding vector(N), metadata jsonb,
// content_hash 唯一索引承担去重约束。连接经 database.PoolManager 按调用获取。
type PostgresVectorStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewPostgresVectorStore 创建 Postgres 向量存储。
func NewPostgresVectorStore(pool *database.PoolManager, logger *zap.Logger) *PostgresVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresVectorStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "postgres_vector_store")),
	}
}

// Migrate 建表和索引。embedding 维度由调用方给定。
func (s *PostgresVectorStore) Migrate(ctx context.Context, dimensions int) error {
	db, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB DEFAULT '{}',
			content_hash TEXT UNIQUE NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		)`, dimensions),
		"CREATE INDEX IF NOT EXISTS documents_content_hash_idx ON documents (content_hash)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return types.NewError(types.ErrStoreQuery, "migrate documents table").WithCause(err)
		}
	}
	return nil
}

// Upsert 写入文本块；content_hash 冲突时静默跳过。
func (s *PostgresVectorStore) Upsert(ctx context.Context, chunk types.Chunk) error {
	db, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	metadata, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return types.NewError(types.ErrInvalidInput, "encode chunk metadata").WithCause(err)
	}

	createdAt := chunk.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result := db.Exec(
		`INSERT INTO documents (id, content, embedding, metadata, content_hash, created_at)
		 VALUES (?, ?, ?::vector, ?::jsonb, ?, ?)
		 ON CONFLICT (content_hash) DO NOTHING`,
		chunk.ID, chunk.Content, vectorLiteral(chunk.Embedding), string(metadata), chunk.ContentHash, createdAt,
	)
	if result.Error != nil {
		return types.NewError(types.ErrStoreQuery, "upsert document").WithCause(result.Error)
	}
	return nil
}

// FindByHash 按内容哈希查找已存块。
func (s *PostgresVectorStore) FindByHash(ctx context.Context, hash string) (string, bool, error) {
	db, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", false, err
	}

	var ids []string
	if err := db.Raw(`SELECT id FROM documents WHERE content_hash = ? LIMIT 1`, hash).Scan(&ids).Error; err != nil {
		return "", false, types.NewError(types.ErrStoreQuery, "find by hash").WithCause(err)
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], true, nil
}

// Nearest 按余弦距离排序返回前 k 条。
// pgvector 的 <=> 是余弦距离算子；原始距离不向上层暴露。
func (s *PostgresVectorStore) Nearest(ctx context.Context, embedding []float64, k int) ([]types.VectorHit, error) {
	db, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows := []struct {
		ID       string
		Content  string
		Metadata string
	}{}
	err = db.Raw(
		`SELECT id, content, metadata::text AS metadata FROM documents
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> ?::vector
		 LIMIT ?`,
		vectorLiteral(embedding), k,
	).Scan(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrStoreQuery, "nearest search").WithCause(err)
	}

	hits := make([]types.VectorHit, 0, len(rows))
	for _, row := range rows {
		hit := types.VectorHit{ID: row.ID, Content: row.Content}
		if row.Metadata != "" {
			if err := json.Unmarshal([]byte(row.Metadata), &hit.Metadata); err != nil {
				s.logger.Warn("skipping unparsable document metadata",
					zap.String("id", row.ID), zap.Error(err))
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count 返回已存块数量。
func (s *PostgresVectorStore) Count(ctx context.Context) (int, error) {
	db, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM documents`).Scan(&count).Error; err != nil {
		return 0, types.NewError(types.ErrStoreQuery, "count documents").WithCause(err)
	}
	return int(count), nil
}

// vectorLiteral 把向量编码成 pgvector 的文本字面量 "[1,2,3]"。
func vectorLiteral(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
