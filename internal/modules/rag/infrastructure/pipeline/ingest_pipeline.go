package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/domain/repository"
	"VectorLink/internal/modules/rag/infrastructure/chunking"
	"VectorLink/internal/modules/rag/infrastructure/embedding"

	"github.com/cloudwego/eino/compose"
)

// IngestRequest 摄取 Pipeline 的输入
type IngestRequest struct {
	TenantUserID string              // 租户用户 ID（必填）
	Items        []document.Document // 待摄取文档，ID 缺省时自动生成
}

// IngestResult 摄取 Pipeline 的输出（整体成功，单文档失败记录在 Errors）
type IngestResult struct {
	TenantUserID string                `json:"tenant_user_id"`
	Report       document.IngestReport `json:"report"`
}

// IngestPipeline 文档摄取 Pipeline（基于 Eino compose.Graph）
//
// 幂等语义：
//   - 同 ID 同内容哈希且已成功向量化 → 跳过（不重复调用 embedding）
//   - 同 ID 新内容 → 先删旧向量再写新向量（更新）
//   - 单文档失败不会中断批次，逐条记录原因后继续
type IngestPipeline struct {
	embedder  embedding.TextEmbedder
	index     repository.VectorIndex
	ledger    repository.DocumentLedger
	chunker   *chunking.SimpleChunker
	batchSize int
	r         compose.Runnable[*IngestRequest, *IngestResult]
}

// IngestDefaults 摄取 Pipeline 的配置默认值
type IngestDefaults struct {
	BatchSize int // 单次 embedding 调用的最大切片数
}

func NewIngestPipeline(
	embedder embedding.TextEmbedder,
	index repository.VectorIndex,
	ledger repository.DocumentLedger,
	chunker *chunking.SimpleChunker,
	defaults IngestDefaults,
) (*IngestPipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index is nil")
	}
	if ledger == nil {
		return nil, fmt.Errorf("document ledger is nil")
	}
	if chunker == nil {
		return nil, fmt.Errorf("chunker is nil")
	}
	if defaults.BatchSize <= 0 {
		defaults.BatchSize = 32
	}
	p := &IngestPipeline{embedder: embedder, index: index, ledger: ledger, chunker: chunker, batchSize: defaults.BatchSize}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Ingest 执行批量摄取（封装 Eino Runnable.Invoke）
func (p *IngestPipeline) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	if req == nil {
		return nil, fmt.Errorf("ingest request is nil")
	}
	if p.r == nil {
		return nil, fmt.Errorf("pipeline runnable is nil")
	}
	return p.r.Invoke(ctx, req)
}

// Purge 删除文档的向量与台账记录（按租户隔离）
func (p *IngestPipeline) Purge(ctx context.Context, tenantUserID string, docIDs []string) error {
	tenant := strings.TrimSpace(tenantUserID)
	if tenant == "" {
		return fmt.Errorf("missing tenant_user_id")
	}
	if len(docIDs) == 0 {
		return nil
	}
	if err := p.index.DeleteByDocIDs(ctx, docIDs); err != nil {
		return err
	}
	return p.ledger.DeleteByDocIDs(ctx, tenant, docIDs)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// chunkEntryID 第 i 个切片的向量 ID；单切片文档直接用 docID
func chunkEntryID(docID string, i, total int) string {
	if total <= 1 {
		return docID
	}
	return fmt.Sprintf("%s#%04d", docID, i)
}
