// Copyright (c) NeoRag Authors.
// Licensed under the MIT License.

/*
# 概述

Package rag 实现入库与混合检索的核心管线。

系统维护两个互补的存储：文本块向量存储和实体知识图。入库侧负责
分块策略选择、去重双写和抽取结果清洗；检索侧负责图+向量证据融合
（加权模式与代理路由模式）、置信度打分和引用构建。

# 核心接口/类型

  - Chunker — 分块引擎，策略表按枚举键分发（recursive / markdown / code / semantic / auto）
  - VectorStore — 向量存储契约（Upsert / FindByHash / Nearest），InMemory 与 Postgres+pgvector 实现
  - GraphStore — 图存储契约（MergeNode / MergeRelationship / RunQuery / Traverse），InMemory 与 GORM 实现
  - EntityExtractor — 基于 LLM 的实体/关系抽取，输出不可信，必须经 Sanitizer 清洗
  - Sanitizer — 节点标签与关系类型的白名单清洗
  - Pipeline — 入库管线：分块 → 批量嵌入 → 哈希去重 → 抽取 → 清洗 → 图合并
  - GraphIndex — 节点嵌入的暴力余弦检索 + 有界跳数遍历
  - QueryService — 加权融合检索（alpha 控制图/向量优先级）
  - Retriever — 代理路由检索（LLM 路由 + 基线双检索 + 置信度 + 引用）

# 失败语义

入库路径上只有分块嵌入失败是致命的；实体抽取、节点嵌入失败均降级继续。
检索路径对格式正确的查询永不硬失败：缺失的证据表现为更低的置信度。
*/
package rag
