package persistence

import (
	"context"
	"sync"
	"time"

	"VectorLink/internal/modules/rag/domain/repository"
)

// MemoryLedger 进程内台账，配合 memory 向量后端在无 MySQL 环境下运行
type MemoryLedger struct {
	mu   sync.RWMutex
	recs map[string]repository.DocumentRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{recs: make(map[string]repository.DocumentRecord)}
}

func ledgerKey(tenantUserID, docID string) string {
	return tenantUserID + "\x00" + docID
}

func (m *MemoryLedger) Get(ctx context.Context, tenantUserID, docID string) (*repository.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[ledgerKey(tenantUserID, docID)]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *MemoryLedger) Save(ctx context.Context, rec *repository.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	key := ledgerKey(rec.TenantUserId, rec.DocId)
	if old, ok := m.recs[key]; ok {
		rec.Id = old.Id
		rec.CreatedAt = old.CreatedAt
	} else {
		rec.Id = int64(len(m.recs) + 1)
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.recs[key] = *rec
	return nil
}

func (m *MemoryLedger) UpdateStatus(ctx context.Context, tenantUserID, docID string, status int8, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey(tenantUserID, docID)
	rec, ok := m.recs[key]
	if !ok {
		return nil
	}
	rec.EmbedStatus = status
	rec.ErrorMsg = errMsg
	rec.UpdatedAt = time.Now()
	m.recs[key] = rec
	return nil
}

func (m *MemoryLedger) DeleteByDocIDs(ctx context.Context, tenantUserID string, docIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docIDs {
		delete(m.recs, ledgerKey(tenantUserID, d))
	}
	return nil
}

func (m *MemoryLedger) CountByTenant(ctx context.Context, tenantUserID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, rec := range m.recs {
		if rec.TenantUserId == tenantUserID {
			n++
		}
	}
	return n, nil
}

var _ repository.DocumentLedger = (*MemoryLedger)(nil)
