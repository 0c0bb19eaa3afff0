package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/neorag/types"
)

// graphNodeRow 是 graph_nodes 表的行模型。
// 嵌入和属性都以 JSON 文本落库，跨 Postgres / SQLite 可移植。
type graphNodeRow struct {
	ID         string `gorm:"primaryKey;column:id"`
	Label      string `gorm:"column:label;index"`
	Embedding  string `gorm:"column:embedding"`
	Properties string `gorm:"column:properties"`
}

func (graphNodeRow) TableName() string { return "graph_nodes" }

// graphRelRow 是 graph_relationships 表的行模型。
// (source_id, target_id, rel_type) 唯一，merge 语义靠它承载。
type graphRelRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SourceID   string `gorm:"column:source_id;index;uniqueIndex:idx_rel_identity"`
	TargetID   string `gorm:"column:target_id;index;uniqueIndex:idx_rel_identity"`
	RelType    string `gorm:"column:rel_type;uniqueIndex:idx_rel_identity"`
	Properties string `gorm:"column:properties"`
}

func (graphRelRow) TableName() string { return "graph_relationships" }

// GormGraphStore 基于关系表的图存储实现。
// 遍历用逐跳 SQL 查询实现，RunQuery 直接透传查询文本。
type GormGraphStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormGraphStore 创建图存储并迁移表结构。
func NewGormGraphStore(db *gorm.DB, logger *zap.Logger) (*GormGraphStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&graphNodeRow{}, &graphRelRow{}); err != nil {
		return nil, fmt.Errorf("migrate graph tables: %w", err)
	}
	return &GormGraphStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_graph_store")),
	}, nil
}

// MergeNode 按 ID 合并写入：已存在时属性覆盖合并，嵌入有新值才替换。
func (s *GormGraphStore) MergeNode(ctx context.Context, node types.GraphNode) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing graphNodeRow
		err := tx.Where("id = ?", node.ID).First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row, encErr := encodeNodeRow(node)
			if encErr != nil {
				return encErr
			}
			if createErr := tx.Create(&row).Error; createErr != nil {
				return types.NewError(types.ErrStoreQuery, "create graph node").WithCause(createErr)
			}
			return nil
		case err != nil:
			return types.NewError(types.ErrStoreQuery, "lookup graph node").WithCause(err)
		}

		merged := make(map[string]any)
		if existing.Properties != "" {
			if decErr := json.Unmarshal([]byte(existing.Properties), &merged); decErr != nil {
				merged = make(map[string]any)
			}
		}
		for k, v := range node.Properties {
			merged[k] = v
		}
		props, encErr := json.Marshal(merged)
		if encErr != nil {
			return types.NewError(types.ErrInvalidInput, "encode node properties").WithCause(encErr)
		}

		updates := map[string]any{
			"label":      node.Label,
			"properties": string(props),
		}
		if node.Embedding != nil {
			emb, embErr := json.Marshal(node.Embedding)
			if embErr != nil {
				return types.NewError(types.ErrInvalidInput, "encode node embedding").WithCause(embErr)
			}
			updates["embedding"] = string(emb)
		}

		if updErr := tx.Model(&graphNodeRow{}).Where("id = ?", node.ID).Updates(updates).Error; updErr != nil {
			return types.NewError(types.ErrStoreQuery, "update graph node").WithCause(updErr)
		}
		return nil
	})
}

// MergeRelationship 合并写入关系，同一 (source, target, type) 只存一条。
func (s *GormGraphStore) MergeRelationship(ctx context.Context, rel types.GraphRelationship) error {
	props, err := json.Marshal(rel.Properties)
	if err != nil {
		return types.NewError(types.ErrInvalidInput, "encode relationship properties").WithCause(err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&graphRelRow{}).
			Where("source_id = ? AND target_id = ? AND rel_type = ?", rel.SourceID, rel.TargetID, rel.Type).
			Count(&count).Error
		if err != nil {
			return types.NewError(types.ErrStoreQuery, "lookup relationship").WithCause(err)
		}

		if count > 0 {
			err = tx.Model(&graphRelRow{}).
				Where("source_id = ? AND target_id = ? AND rel_type = ?", rel.SourceID, rel.TargetID, rel.Type).
				Update("properties", string(props)).Error
			if err != nil {
				return types.NewError(types.ErrStoreQuery, "update relationship").WithCause(err)
			}
			return nil
		}

		row := graphRelRow{
			SourceID:   rel.SourceID,
			TargetID:   rel.TargetID,
			RelType:    rel.Type,
			Properties: string(props),
		}
		if err := tx.Create(&row).Error; err != nil {
			return types.NewError(types.ErrStoreQuery, "create relationship").WithCause(err)
		}
		return nil
	})
}

// HasNode 判断节点是否存在。
func (s *GormGraphStore) HasNode(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&graphNodeRow{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, types.NewError(types.ErrStoreQuery, "check node existence").WithCause(err)
	}
	return count > 0, nil
}

// RunQuery 透传执行查询文本。
// 调用方负责查询内容的安全性；本层只做执行和行扫描。
func (s *GormGraphStore) RunQuery(ctx context.Context, query string) ([]map[string]any, error) {
	var rows []map[string]any
	if err := s.db.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrStoreQuery, "run graph query").WithCause(err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

// Traverse 逐跳扩展边界集合，三元组去重，结果数不超过 limit。
func (s *GormGraphStore) Traverse(ctx context.Context, nodeIDs []string, hopDepth, limit int) ([]types.GraphTriple, error) {
	if len(nodeIDs) == 0 {
		return []types.GraphTriple{}, nil
	}
	if hopDepth < 1 {
		hopDepth = 1
	}

	frontier := nodeIDs
	seen := make(map[types.GraphTriple]bool)
	triples := []types.GraphTriple{}

	for hop := 0; hop < hopDepth && len(frontier) > 0; hop++ {
		var rows []graphRelRow
		err := s.db.WithContext(ctx).
			Where("source_id IN ? OR target_id IN ?", frontier, frontier).
			Find(&rows).Error
		if err != nil {
			return nil, types.NewError(types.ErrStoreQuery, "traverse relationships").WithCause(err)
		}

		var next []string
		for _, row := range rows {
			triple := types.GraphTriple{Source: row.SourceID, Rel: row.RelType, Target: row.TargetID}
			if seen[triple] {
				continue
			}
			seen[triple] = true
			triples = append(triples, triple)
			if limit > 0 && len(triples) >= limit {
				return triples, nil
			}
			next = append(next, row.SourceID, row.TargetID)
		}
		frontier = next
	}
	return triples, nil
}

// NodesWithEmbeddings 返回携带嵌入向量的全部节点。
func (s *GormGraphStore) NodesWithEmbeddings(ctx context.Context) ([]types.GraphNode, error) {
	var rows []graphNodeRow
	err := s.db.WithContext(ctx).
		Where("embedding IS NOT NULL AND embedding <> ''").
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrStoreQuery, "load node embeddings").WithCause(err)
	}

	nodes := make([]types.GraphNode, 0, len(rows))
	for _, row := range rows {
		node := types.GraphNode{ID: row.ID, Label: row.Label}
		if err := json.Unmarshal([]byte(row.Embedding), &node.Embedding); err != nil {
			s.logger.Warn("skipping node with unparsable embedding",
				zap.String("id", row.ID), zap.Error(err))
			continue
		}
		if row.Properties != "" {
			_ = json.Unmarshal([]byte(row.Properties), &node.Properties)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// encodeNodeRow 把节点编码为行模型。
func encodeNodeRow(node types.GraphNode) (graphNodeRow, error) {
	row := graphNodeRow{ID: node.ID, Label: node.Label}

	if node.Embedding != nil {
		emb, err := json.Marshal(node.Embedding)
		if err != nil {
			return row, types.NewError(types.ErrInvalidInput, "encode node embedding").WithCause(err)
		}
		row.Embedding = string(emb)
	}

	props, err := json.Marshal(node.Properties)
	if err != nil {
		return row, types.NewError(types.ErrInvalidInput, "encode node properties").WithCause(err)
	}
	if node.Properties == nil {
		props = []byte("{}")
	}
	row.Properties = string(props)
	return row, nil
}
