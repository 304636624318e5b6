package repository

import (
	"context"

	"VectorLink/internal/modules/rag/domain/document"
)

// VectorIndex 是 domain 层定义的“相似度索引能力抽象”。
//
// 设计约束：
// 1) application 层只能依赖本接口，不应直接依赖 Milvus SDK 或任何具体索引结构。
// 2) infrastructure 通过适配器实现本接口（MemoryIndex / MilvusIndex），
//    可替换为 pgvector、Qdrant 等而不改动调用方。
// 3) Search 的排序必须确定：得分降序，得分相同时按 id 升序——同一集合状态下
//    重复查询必须返回完全一致的结果序列。

// VectorEntry 向量写入所需的标准字段
//
// ID 为向量主键；一个文档切分出多个 chunk 时各 chunk 持有独立 ID，
// DocID 保留文档归属，供按文档删除与去重使用。
type VectorEntry struct {
	ID       string
	DocID    string
	Vector   []float32
	Content  string
	Metadata document.Metadata
}

// SearchFilter 元数据等值过滤（key 不存在或值不相等则不命中）
type SearchFilter map[string]any

// VectorIndex 相似度索引接口
type VectorIndex interface {
	// Upsert 幂等写入：同 ID 重复写入只保留最新向量
	Upsert(ctx context.Context, entries []VectorEntry) error
	// Delete 按向量 ID 删除，ID 不存在时为 no-op
	Delete(ctx context.Context, ids []string) error
	// DeleteByDocIDs 删除归属指定文档的全部向量
	DeleteByDocIDs(ctx context.Context, docIDs []string) error
	// Search 返回至多 topK 条命中，得分降序、同分按 id 升序
	Search(ctx context.Context, vector []float32, topK int, filter SearchFilter) ([]document.ScoredMatch, error)
	// Count 当前向量总数
	Count(ctx context.Context) (int64, error)
	Dim() int
	Metric() document.Metric
	Close() error
}
