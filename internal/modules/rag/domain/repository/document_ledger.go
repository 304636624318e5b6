package repository

import (
	"context"
	"time"
)

// 文档向量化状态
const (
	EmbedStatusPending   int8 = 0
	EmbedStatusSucceeded int8 = 1
	EmbedStatusFailed    int8 = 2
)

// DocumentRecord 摄取台账：记录每个文档的内容哈希与向量化状态。
//
// 幂等摄取依赖 ContentHash（text 的 sha256）比对，而不是重新向量化后对比，
// 避免对未变更文档的冗余 embedding 调用。
type DocumentRecord struct {
	Id           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TenantUserId string    `gorm:"column:tenant_user_id;type:varchar(64);not null;uniqueIndex:uniq_vl_doc"`
	DocId        string    `gorm:"column:doc_id;type:varchar(128);not null;uniqueIndex:uniq_vl_doc"`
	ContentHash  string    `gorm:"column:content_hash;type:char(64);not null"`
	Chunks       int       `gorm:"column:chunks;type:int;not null;default:0"`
	EmbedStatus  int8      `gorm:"column:embed_status;type:tinyint;not null;default:0;index:idx_vl_doc_status"`
	ErrorMsg     string    `gorm:"column:error_msg;type:varchar(255)"`
	CreatedAt    time.Time `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;type:datetime;not null"`
}

func (DocumentRecord) TableName() string { return "vl_document_record" }

// DocumentLedger 摄取台账仓储
type DocumentLedger interface {
	// Get 查询台账记录，不存在时返回 (nil, nil)
	Get(ctx context.Context, tenantUserID, docID string) (*DocumentRecord, error)
	// Save 按 (tenant_user_id, doc_id) 幂等写入
	Save(ctx context.Context, rec *DocumentRecord) error
	// UpdateStatus 更新向量化状态与错误信息
	UpdateStatus(ctx context.Context, tenantUserID, docID string, status int8, errMsg string) error
	// DeleteByDocIDs 删除指定文档的台账记录
	DeleteByDocIDs(ctx context.Context, tenantUserID string, docIDs []string) error
	// CountByTenant 统计租户名下已入库文档数
	CountByTenant(ctx context.Context, tenantUserID string) (int64, error)
}
