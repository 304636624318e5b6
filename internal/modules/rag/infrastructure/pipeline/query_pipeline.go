package pipeline

import (
	"context"
	"fmt"
	"time"

	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/domain/repository"
	"VectorLink/internal/modules/rag/infrastructure/embedding"
	"VectorLink/pkg/xerr"

	"github.com/cloudwego/eino/compose"
)

// QueryRequest 检索 Pipeline 的输入
type QueryRequest struct {
	TenantUserID string         // 租户用户 ID（必填，从 JWT 提取）
	Query        string         // 查询文本（必填）
	TopK         int            // 返回条数（默认 5，上限 50）
	MinScore     *float64       // 相似度阈值；nil 表示未指定（取配置默认），显式 0 生效
	Filter       map[string]any // 元数据等值过滤（租户条件由 Pipeline 自动注入）
}

// QueryResult 检索 Pipeline 的输出
type QueryResult struct {
	QueryID       string                 // 本次查询唯一 ID（便于追踪回放）
	Query         string                 // 原始查询文本
	Matches       []document.ScoredMatch // 去重、过滤、排序后的最终结果
	TotalHits     int                    // 向量库原始命中数（后处理前）
	ReturnedCount int                    // 最终返回条数
	DurationMs    int64                  // 总耗时（毫秒）
	EmbeddingMs   int64                  // 向量化耗时（毫秒）
	SearchMs      int64                  // 检索耗时（毫秒）
	PostProcessMs int64                  // 后处理耗时（毫秒）
	IsEmpty       bool                   // 未命中任何结果（正常结局，不是错误）
	Message       string                 // 未命中时的提示信息
}

// QueryPipeline 向量检索 Pipeline（基于 Eino compose.Graph）
//
// 设计原则：
// 1. 与 IngestPipeline 保持一致的架构风格（Eino Graph + Lambda 节点）
// 2. 只依赖 domain 层接口（TextEmbedder, VectorIndex），不直接依赖具体后端
// 3. 租户隔离内建：检索过滤条件自动注入 tenant_user_id
// 4. 观测优先：记录 query_id 与各阶段耗时
type QueryPipeline struct {
	embedder embedding.TextEmbedder
	index    repository.VectorIndex
	defaults QueryDefaults
	r        compose.Runnable[*QueryRequest, *QueryResult]
}

// QueryDefaults 调用方未显式传参时的默认值
type QueryDefaults struct {
	TopK     int
	MinScore float64
}

func NewQueryPipeline(
	embedder embedding.TextEmbedder,
	index repository.VectorIndex,
	defaults QueryDefaults,
) (*QueryPipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index is nil")
	}
	if defaults.TopK <= 0 {
		defaults.TopK = 5
	}
	p := &QueryPipeline{embedder: embedder, index: index, defaults: defaults}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Query 执行检索（封装 Eino Runnable.Invoke）
func (p *QueryPipeline) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	if req == nil {
		return nil, fmt.Errorf("query request is nil")
	}
	if p.r == nil {
		return nil, fmt.Errorf("pipeline runnable is nil")
	}
	return p.r.Invoke(ctx, req)
}

// normalizeTopK 规范化 TopK（默认值由配置给出，上限 50）
func normalizeTopK(topK, def int) int {
	if topK <= 0 {
		return def
	}
	if topK > 50 {
		return 50
	}
	return topK
}

// searchWithRetry 对瞬时后端错误重试一次（退避 200ms），调用方参数错误不重试
func searchWithRetry(ctx context.Context, index repository.VectorIndex, vec []float32, topK int, filter repository.SearchFilter) ([]document.ScoredMatch, error) {
	hits, err := index.Search(ctx, vec, topK, filter)
	if err == nil || !xerr.IsTransient(err) {
		return hits, err
	}
	select {
	case <-ctx.Done():
		return nil, err
	case <-time.After(200 * time.Millisecond):
	}
	return index.Search(ctx, vec, topK, filter)
}
