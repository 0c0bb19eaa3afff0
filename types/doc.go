// Copyright (c) NeoRag Authors.
// Licensed under the MIT License.

/*
Package types 提供 NeoRag 后端的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 rag、llm、config 等上层
模块提供统一的类型契约。所有跨包共享的值对象、枚举和错误码均定义于此，
以避免循环依赖。

# 核心类型

  - Chunk              — 入库文本块（内容 + 嵌入 + 内容哈希去重键）
  - GraphNode          — 知识图节点（merge-on-id 语义，白名单 Label）
  - GraphRelationship  — 节点关系（白名单 Type，悬空端点丢弃）
  - KnowledgeGraph     — 实体抽取候选输出（未清洗，不可信）
  - IngestSummary      — 入库结果汇总
  - RetrievalOutcome   — 代理路由检索结果（含置信度与引用）
  - Citation           — 证据引用（向量块 / 图节点）
  - Error / ErrorCode  — 结构化错误体系，含 Retryable 标记与 cause 链
*/
package types
