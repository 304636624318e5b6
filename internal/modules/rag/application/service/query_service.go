package service

import (
	"context"
	"fmt"
	"strings"

	"VectorLink/internal/modules/rag/application/dto/request"
	"VectorLink/internal/modules/rag/application/dto/respond"
	"VectorLink/internal/modules/rag/infrastructure/pipeline"
)

// QueryService 向量检索服务接口
type QueryService interface {
	// Query 执行向量检索，结果按相似度降序、得分已四舍五入
	Query(ctx context.Context, req request.QueryRequest, tenantUserID string) (*respond.QueryRespond, error)
}

type queryServiceImpl struct {
	pipeline *pipeline.QueryPipeline
}

func NewQueryService(p *pipeline.QueryPipeline) QueryService {
	return &queryServiceImpl{pipeline: p}
}

func (s *queryServiceImpl) Query(ctx context.Context, req request.QueryRequest, tenantUserID string) (*respond.QueryRespond, error) {
	if s.pipeline == nil {
		return nil, fmt.Errorf("query pipeline is nil")
	}
	tenant := strings.TrimSpace(tenantUserID)
	if tenant == "" {
		return nil, fmt.Errorf("tenant_user_id is required")
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	result, err := s.pipeline.Query(ctx, &pipeline.QueryRequest{
		TenantUserID: tenant,
		Query:        query,
		TopK:         req.TopK,
		MinScore:     req.MinScore,
		Filter:       req.Filter,
	})
	if err != nil {
		return nil, err
	}

	matches := make([]respond.MatchHit, 0, len(result.Matches))
	for _, m := range result.Matches {
		matches = append(matches, respond.NewMatchHit(m))
	}
	return &respond.QueryRespond{
		QueryID:       result.QueryID,
		Query:         result.Query,
		Matches:       matches,
		TotalHits:     result.TotalHits,
		ReturnedCount: result.ReturnedCount,
		DurationMs:    result.DurationMs,
		EmbeddingMs:   result.EmbeddingMs,
		SearchMs:      result.SearchMs,
		PostProcessMs: result.PostProcessMs,
		IsEmpty:       result.IsEmpty,
		Message:       result.Message,
	}, nil
}
