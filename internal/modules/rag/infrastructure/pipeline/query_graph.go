package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/domain/repository"
	"VectorLink/internal/modules/rag/infrastructure/ranking"
	"VectorLink/pkg/util"
	"VectorLink/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

// queryState 检索 Pipeline 的中间状态（在节点间传递）
type queryState struct {
	Req           *QueryRequest          // 原始请求
	MinScore      float64                // 生效的相似度阈值（请求值或配置默认）
	QueryVec      []float32              // 查询向量
	Filter        repository.SearchFilter // 注入租户条件后的过滤器
	Hits          []document.ScoredMatch // 向量库原始命中
	Ranked        []document.ScoredMatch // 去重排序后的结果
	Start         time.Time              // 开始时间
	EmbeddingMs   int64                  // 向量化耗时
	SearchMs      int64                  // 检索耗时
	PostProcessMs int64                  // 后处理耗时
	Err           error                  // 错误（如果有）
}

// buildGraph 构建检索 Pipeline 的 Eino Graph
//
// 节点顺序：Validate → EmbedQuery → SearchVector → RankHits → BuildResult
func (p *QueryPipeline) buildGraph(ctx context.Context) (compose.Runnable[*QueryRequest, *QueryResult], error) {
	const (
		Validate     = "Validate"
		EmbedQuery   = "EmbedQuery"
		SearchVector = "SearchVector"
		RankHits     = "RankHits"
		BuildResult  = "BuildResult"
	)
	g := compose.NewGraph[*QueryRequest, *QueryResult]()
	// 添加节点
	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(EmbedQuery, compose.InvokableLambdaWithOption(p.embedQueryNode), compose.WithNodeName(EmbedQuery))
	_ = g.AddLambdaNode(SearchVector, compose.InvokableLambdaWithOption(p.searchVectorNode), compose.WithNodeName(SearchVector))
	_ = g.AddLambdaNode(RankHits, compose.InvokableLambdaWithOption(p.rankHitsNode), compose.WithNodeName(RankHits))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))
	// 添加边（定义节点顺序）
	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, EmbedQuery)
	_ = g.AddEdge(EmbedQuery, SearchVector)
	_ = g.AddEdge(SearchVector, RankHits)
	_ = g.AddEdge(RankHits, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)
	// 编译为 Runnable
	return g.Compile(ctx, compose.WithGraphName("VectorQueryPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// validateNode 节点 1：校验请求参数并构造过滤器
func (p *QueryPipeline) validateNode(ctx context.Context, req *QueryRequest, _ ...any) (*queryState, error) {
	st := &queryState{Req: req, Start: time.Now()}
	if req == nil {
		st.Err = fmt.Errorf("query request is nil")
		return st, nil
	}
	// 1. 校验必填参数
	tenant := strings.TrimSpace(req.TenantUserID)
	req.TenantUserID = tenant
	if tenant == "" {
		st.Err = fmt.Errorf("missing tenant_user_id")
		return st, nil
	}
	query := strings.TrimSpace(req.Query)
	req.Query = query
	if query == "" {
		st.Err = fmt.Errorf("missing query")
		return st, nil
	}
	// 2. 规范化参数（MinScore 未指定取配置默认，显式传 0 关闭过滤）
	req.TopK = normalizeTopK(req.TopK, p.defaults.TopK)
	st.MinScore = p.defaults.MinScore
	if req.MinScore != nil {
		st.MinScore = *req.MinScore
	}
	// 3. 构造过滤器（必须包含租户条件，防止越权）
	st.Filter = repository.SearchFilter{"tenant_user_id": tenant}
	for k, v := range req.Filter {
		if k == "tenant_user_id" {
			continue
		}
		st.Filter[k] = v
	}
	return st, nil
}

// embedQueryNode 节点 2：查询文本向量化
func (p *QueryPipeline) embedQueryNode(ctx context.Context, st *queryState, _ ...any) (*queryState, error) {
	if st == nil {
		return &queryState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	embStart := time.Now()
	r, err := p.embedder.EmbedTexts(ctx, []string{st.Req.Query})
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.QueryVec = r[0].Vector
	st.EmbeddingMs = time.Since(embStart).Milliseconds()
	return st, nil
}

// searchVectorNode 节点 3：执行向量检索（瞬时错误重试一次）
func (p *QueryPipeline) searchVectorNode(ctx context.Context, st *queryState, _ ...any) (*queryState, error) {
	if st == nil {
		return &queryState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	if len(st.QueryVec) == 0 {
		st.Err = fmt.Errorf("query vector is empty")
		return st, nil
	}
	searchStart := time.Now()
	hits, err := searchWithRetry(ctx, p.index, st.QueryVec, st.Req.TopK, st.Filter)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Hits = hits
	st.SearchMs = time.Since(searchStart).Milliseconds()
	return st, nil
}

// rankHitsNode 节点 4：去重、阈值过滤、排序、截断
func (p *QueryPipeline) rankHitsNode(ctx context.Context, st *queryState, _ ...any) (*queryState, error) {
	_ = ctx
	if st == nil {
		return &queryState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	ppStart := time.Now()
	st.Ranked = ranking.Rank(st.Hits, st.MinScore, st.Req.TopK)
	st.PostProcessMs = time.Since(ppStart).Milliseconds()
	return st, nil
}

// buildResultNode 节点 5：组装最终响应结构
func (p *QueryPipeline) buildResultNode(ctx context.Context, st *queryState, _ ...any) (*QueryResult, error) {
	_ = ctx
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}
	req := st.Req
	res := &QueryResult{}
	if req != nil {
		res.Query = req.Query
	}
	// 生成唯一的 query_id（用于日志回放）
	res.QueryID = fmt.Sprintf("q_%s", util.GenerateShortUUID())
	res.Matches = st.Ranked
	res.TotalHits = len(st.Hits)
	res.ReturnedCount = len(st.Ranked)
	res.EmbeddingMs = st.EmbeddingMs
	res.SearchMs = st.SearchMs
	res.PostProcessMs = st.PostProcessMs
	res.DurationMs = time.Since(st.Start).Milliseconds()
	// 空结果是正常结局：告知调用方而不是报错
	if res.ReturnedCount == 0 && st.Err == nil {
		res.IsEmpty = true
		res.Message = "未命中任何文档，可降低 min_score 或先摄取数据"
	}
	tenantUserID := ""
	topK := 0
	if req != nil {
		tenantUserID = req.TenantUserID
		topK = req.TopK
	}
	zlog.Info(
		"vector query done",
		zap.String("query_id", res.QueryID),
		zap.String("tenant_user_id", tenantUserID),
		zap.Int("top_k", topK),
		zap.Float64("min_score", st.MinScore),
		zap.Int("total_hits", res.TotalHits),
		zap.Int("returned_count", res.ReturnedCount),
		zap.Int64("embedding_ms", res.EmbeddingMs),
		zap.Int64("search_ms", res.SearchMs),
		zap.Int64("post_process_ms", res.PostProcessMs),
		zap.Int64("duration_ms", res.DurationMs),
		zap.Bool("is_empty", res.IsEmpty),
	)
	return res, st.Err
}
