package service

import (
	"context"
	"fmt"
	"strings"

	"VectorLink/internal/modules/rag/application/dto/request"
	"VectorLink/internal/modules/rag/application/dto/respond"
	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/infrastructure/pipeline"
)

// IngestService 同步摄取服务接口
type IngestService interface {
	// Ingest 批量摄取文档（幂等：同 ID 同内容跳过，内容变更替换旧向量）
	Ingest(ctx context.Context, req request.IngestRequest, tenantUserID string) (*respond.IngestRespond, error)
	// DeleteDocuments 删除文档及其向量与台账记录
	DeleteDocuments(ctx context.Context, req request.DeleteDocumentsRequest, tenantUserID string) error
}

type ingestServiceImpl struct {
	pipeline *pipeline.IngestPipeline
}

func NewIngestService(p *pipeline.IngestPipeline) IngestService {
	return &ingestServiceImpl{pipeline: p}
}

func (s *ingestServiceImpl) Ingest(ctx context.Context, req request.IngestRequest, tenantUserID string) (*respond.IngestRespond, error) {
	if s.pipeline == nil {
		return nil, fmt.Errorf("ingest pipeline is nil")
	}
	tenant := strings.TrimSpace(tenantUserID)
	if tenant == "" {
		return nil, fmt.Errorf("tenant_user_id is required")
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("items is empty")
	}

	result, err := s.pipeline.Ingest(ctx, &pipeline.IngestRequest{
		TenantUserID: tenant,
		Items:        toDomainDocs(req.Items),
	})
	if err != nil {
		return nil, err
	}
	return toIngestRespond(result.Report), nil
}

func (s *ingestServiceImpl) DeleteDocuments(ctx context.Context, req request.DeleteDocumentsRequest, tenantUserID string) error {
	if s.pipeline == nil {
		return fmt.Errorf("ingest pipeline is nil")
	}
	tenant := strings.TrimSpace(tenantUserID)
	if tenant == "" {
		return fmt.Errorf("tenant_user_id is required")
	}
	ids := make([]string, 0, len(req.DocIDs))
	for _, id := range req.DocIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("doc_ids is empty")
	}
	return s.pipeline.Purge(ctx, tenant, ids)
}

func toDomainDocs(items []request.IngestItem) []document.Document {
	docs := make([]document.Document, 0, len(items))
	for _, it := range items {
		docs = append(docs, document.Document{
			ID:       it.ID,
			Text:     it.Text,
			Metadata: document.Metadata(it.Metadata),
		})
	}
	return docs
}

func toIngestRespond(rep document.IngestReport) *respond.IngestRespond {
	errs := make([]respond.IngestItemErrorRespond, 0, len(rep.Errors))
	for _, e := range rep.Errors {
		errs = append(errs, respond.IngestItemErrorRespond{DocumentID: e.DocumentID, Reason: e.Reason})
	}
	return &respond.IngestRespond{
		Inserted:   rep.Inserted,
		Updated:    rep.Updated,
		Skipped:    rep.Skipped,
		Failed:     rep.Failed,
		Errors:     errs,
		DurationMs: rep.DurationMs,
	}
}
