package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/domain/repository"
	"VectorLink/internal/modules/rag/infrastructure/embedding"
	"VectorLink/pkg/util"
	"VectorLink/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

// ingestState 摄取 Pipeline 的中间状态
type ingestState struct {
	Req    *IngestRequest
	Report document.IngestReport
	Start  time.Time
	Err    error
}

// buildGraph 构建摄取 Pipeline 的 Eino Graph
//
// 节点顺序：Prepare → ProcessDocs → BuildReport
func (p *IngestPipeline) buildGraph(ctx context.Context) (compose.Runnable[*IngestRequest, *IngestResult], error) {
	const (
		Prepare     = "Prepare"
		ProcessDocs = "ProcessDocs"
		BuildReport = "BuildReport"
	)
	g := compose.NewGraph[*IngestRequest, *IngestResult]()

	_ = g.AddLambdaNode(Prepare, compose.InvokableLambdaWithOption(p.prepareNode), compose.WithNodeName(Prepare))
	_ = g.AddLambdaNode(ProcessDocs, compose.InvokableLambdaWithOption(p.processDocsNode), compose.WithNodeName(ProcessDocs))
	_ = g.AddLambdaNode(BuildReport, compose.InvokableLambdaWithOption(p.buildReportNode), compose.WithNodeName(BuildReport))

	_ = g.AddEdge(compose.START, Prepare)
	_ = g.AddEdge(Prepare, ProcessDocs)
	_ = g.AddEdge(ProcessDocs, BuildReport)
	_ = g.AddEdge(BuildReport, compose.END)

	return g.Compile(ctx, compose.WithGraphName("DocumentIngestPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// prepareNode 节点 1：校验请求并补全文档 ID
func (p *IngestPipeline) prepareNode(ctx context.Context, req *IngestRequest, _ ...any) (*ingestState, error) {
	_ = ctx
	st := &ingestState{Req: req, Start: time.Now()}
	if req == nil {
		st.Err = fmt.Errorf("nil request")
		return st, nil
	}
	tenant := strings.TrimSpace(req.TenantUserID)
	req.TenantUserID = tenant
	if tenant == "" {
		st.Err = fmt.Errorf("missing tenant_user_id")
		return st, nil
	}
	for i := range req.Items {
		req.Items[i].ID = strings.TrimSpace(req.Items[i].ID)
		if req.Items[i].ID == "" {
			req.Items[i].ID = "doc_" + util.GenerateShortUUID()
		}
	}
	return st, nil
}

// processDocsNode 节点 2：逐文档处理（哈希比对 → 切片 → 向量化 → 写入 → 台账）
//
// 单文档失败只记入 Errors，不中断批次。
func (p *IngestPipeline) processDocsNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	for _, item := range st.Req.Items {
		p.processOne(ctx, st, item)
	}
	return st, nil
}

func (p *IngestPipeline) processOne(ctx context.Context, st *ingestState, item document.Document) {
	tenant := st.Req.TenantUserID
	fail := func(reason string) {
		st.Report.Failed++
		st.Report.Errors = append(st.Report.Errors, document.IngestItemError{DocumentID: item.ID, Reason: reason})
	}

	text := strings.TrimSpace(item.Text)
	if text == "" {
		fail("empty text")
		return
	}
	for k, v := range item.Metadata {
		if !document.IsScalarValue(v) {
			fail(fmt.Sprintf("metadata value for %q is not a scalar", k))
			return
		}
	}
	hash := sha256Hex(text)

	// 1. 台账比对：同内容且已成功 → 跳过，不重复向量化
	rec, err := p.ledger.Get(ctx, tenant, item.ID)
	if err != nil {
		fail("ledger lookup: " + err.Error())
		return
	}
	if rec != nil && rec.ContentHash == hash && rec.EmbedStatus == repository.EmbedStatusSucceeded {
		st.Report.Skipped++
		return
	}

	// 2. 切片并按 batchSize 分批向量化
	chunks, err := p.chunker.ChunkText(ctx, text)
	if err != nil {
		fail("chunking: " + err.Error())
		return
	}
	if len(chunks) == 0 {
		fail("no chunks produced")
		return
	}
	results, err := p.embedChunks(ctx, chunks)
	if err != nil {
		fail("embedding: " + err.Error())
		p.markFailed(ctx, tenant, item.ID, hash, err)
		return
	}

	entries := make([]repository.VectorEntry, 0, len(chunks))
	for i, chunk := range chunks {
		meta := document.Metadata{}
		for k, v := range item.Metadata {
			meta[k] = v
		}
		meta["tenant_user_id"] = tenant
		meta["chunk_index"] = i
		entries = append(entries, repository.VectorEntry{
			ID:       chunkEntryID(item.ID, i, len(chunks)),
			DocID:    item.ID,
			Vector:   results[i].Vector,
			Content:  chunk,
			Metadata: meta,
		})
		if results[i].Truncated {
			zlog.Warn("ingest chunk truncated", zap.String("doc_id", item.ID), zap.Int("chunk_index", i))
		}
	}

	// 3. 更新路径：先清掉旧向量，避免切片数变化后残留
	isUpdate := rec != nil
	if isUpdate {
		if err := p.index.DeleteByDocIDs(ctx, []string{item.ID}); err != nil {
			fail("delete stale vectors: " + err.Error())
			p.markFailed(ctx, tenant, item.ID, hash, err)
			return
		}
	}
	if err := p.index.Upsert(ctx, entries); err != nil {
		fail("vector upsert: " + err.Error())
		p.markFailed(ctx, tenant, item.ID, hash, err)
		return
	}

	// 4. 台账落库
	if err := p.ledger.Save(ctx, &repository.DocumentRecord{
		TenantUserId: tenant,
		DocId:        item.ID,
		ContentHash:  hash,
		Chunks:       len(chunks),
		EmbedStatus:  repository.EmbedStatusSucceeded,
	}); err != nil {
		fail("ledger save: " + err.Error())
		return
	}
	if isUpdate {
		st.Report.Updated++
	} else {
		st.Report.Inserted++
	}
}

// embedChunks 按 batchSize 分批调用 embedding，限制单次请求体量
func (p *IngestPipeline) embedChunks(ctx context.Context, chunks []string) ([]embedding.Result, error) {
	results := make([]embedding.Result, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		rs, err := p.embedder.EmbedTexts(ctx, chunks[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, rs...)
	}
	return results, nil
}

// markFailed 失败状态落台账（尽力而为，本身失败只记日志）
func (p *IngestPipeline) markFailed(ctx context.Context, tenant, docID, hash string, cause error) {
	msg := cause.Error()
	if len(msg) > 250 {
		msg = msg[:250]
	}
	err := p.ledger.Save(ctx, &repository.DocumentRecord{
		TenantUserId: tenant,
		DocId:        docID,
		ContentHash:  hash,
		EmbedStatus:  repository.EmbedStatusFailed,
		ErrorMsg:     msg,
	})
	if err != nil {
		zlog.Warn("mark ingest failure", zap.String("doc_id", docID), zap.Error(err))
	}
}

// buildReportNode 节点 3：汇总报告
func (p *IngestPipeline) buildReportNode(ctx context.Context, st *ingestState, _ ...any) (*IngestResult, error) {
	_ = ctx
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}
	st.Report.DurationMs = time.Since(st.Start).Milliseconds()
	res := &IngestResult{Report: st.Report}
	if st.Req != nil {
		res.TenantUserID = st.Req.TenantUserID
	}
	zlog.Info(
		"document ingest done",
		zap.String("tenant_user_id", res.TenantUserID),
		zap.Int("inserted", st.Report.Inserted),
		zap.Int("updated", st.Report.Updated),
		zap.Int("skipped", st.Report.Skipped),
		zap.Int("failed", st.Report.Failed),
		zap.Int64("duration_ms", st.Report.DurationMs),
	)
	return res, st.Err
}
