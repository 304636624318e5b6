package persistence

import (
	"context"
	"time"

	"VectorLink/internal/modules/rag/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type documentLedgerImpl struct {
	db *gorm.DB
}

func NewDocumentLedger(db *gorm.DB) repository.DocumentLedger {
	return &documentLedgerImpl{db: db}
}

func (r *documentLedgerImpl) Get(ctx context.Context, tenantUserID, docID string) (*repository.DocumentRecord, error) {
	var rec repository.DocumentRecord
	err := r.db.WithContext(ctx).
		Where("tenant_user_id = ? AND doc_id = ?", tenantUserID, docID).
		Take(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

// Save 通过唯一索引 uniq_vl_doc（tenant_user_id, doc_id）upsert
func (r *documentLedgerImpl) Save(ctx context.Context, rec *repository.DocumentRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_user_id"}, {Name: "doc_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content_hash", "chunks", "embed_status", "error_msg", "updated_at"}),
	}).Create(rec).Error
}

func (r *documentLedgerImpl) UpdateStatus(ctx context.Context, tenantUserID, docID string, status int8, errMsg string) error {
	return r.db.WithContext(ctx).
		Model(&repository.DocumentRecord{}).
		Where("tenant_user_id = ? AND doc_id = ?", tenantUserID, docID).
		Updates(map[string]any{
			"embed_status": status,
			"error_msg":    errMsg,
			"updated_at":   time.Now(),
		}).Error
}

func (r *documentLedgerImpl) DeleteByDocIDs(ctx context.Context, tenantUserID string, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("tenant_user_id = ? AND doc_id IN ?", tenantUserID, docIDs).
		Delete(&repository.DocumentRecord{}).Error
}

func (r *documentLedgerImpl) CountByTenant(ctx context.Context, tenantUserID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&repository.DocumentRecord{}).
		Where("tenant_user_id = ?", tenantUserID).
		Count(&n).Error
	return n, err
}
