package service

import (
	"context"
	"fmt"
	"strings"

	"VectorLink/internal/modules/rag/application/dto/respond"
	"VectorLink/internal/modules/rag/domain/repository"
)

// AdminService 运维查询服务
type AdminService interface {
	// Stats 返回租户文档数与索引总量
	Stats(ctx context.Context, tenantUserID string) (*respond.StatsRespond, error)
}

type adminServiceImpl struct {
	index   repository.VectorIndex
	ledger  repository.DocumentLedger
	backend string
}

func NewAdminService(index repository.VectorIndex, ledger repository.DocumentLedger, backend string) AdminService {
	return &adminServiceImpl{index: index, ledger: ledger, backend: backend}
}

func (s *adminServiceImpl) Stats(ctx context.Context, tenantUserID string) (*respond.StatsRespond, error) {
	if s.index == nil || s.ledger == nil {
		return nil, fmt.Errorf("admin service not wired")
	}
	tenant := strings.TrimSpace(tenantUserID)
	if tenant == "" {
		return nil, fmt.Errorf("tenant_user_id is required")
	}
	docs, err := s.ledger.CountByTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	vectors, err := s.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &respond.StatsRespond{
		TenantUserID: tenant,
		Documents:    docs,
		Vectors:      vectors,
		Backend:      s.backend,
		Metric:       string(s.index.Metric()),
		Dim:          s.index.Dim(),
	}, nil
}
