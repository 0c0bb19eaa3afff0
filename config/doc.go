/*
Package config 提供 NeoRag 的统一配置加载。

配置优先级: 默认值 → YAML 文件 → 环境变量（NEORAG_ 前缀）。

各组件（分块、嵌入、LLM、数据库连接池、Redis 缓存、检索参数）的配置
集中在一个 Config 结构中，由调用方显式注入到对应组件，不存在进程级
单例。
*/
package config
