package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/domain/repository"
	"VectorLink/internal/modules/rag/infrastructure/chunking"
	"VectorLink/internal/modules/rag/infrastructure/embedding"
	"VectorLink/internal/modules/rag/infrastructure/persistence"
	"VectorLink/internal/modules/rag/infrastructure/vectordb"
	"VectorLink/pkg/xerr"

	einoembed "github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 64

func newTestEmbedder() embedding.TextEmbedder {
	return embedding.NewGuardedEmbedder(func(ctx context.Context) (einoembed.Embedder, error) {
		return embedding.NewMockEmbedder(testDim), nil
	}, testDim, 0, false)
}

func newTestIndex(t *testing.T) *vectordb.MemoryIndex {
	t.Helper()
	idx, err := vectordb.NewMemoryIndex(testDim, document.MetricCosine)
	require.NoError(t, err)
	return idx
}

// flakyIndex 包装真实索引，前 N 次检索注入错误
type flakyIndex struct {
	repository.VectorIndex
	failures int32
	searches int32
	failWith func() error
}

func (f *flakyIndex) Search(ctx context.Context, vector []float32, topK int, filter repository.SearchFilter) ([]document.ScoredMatch, error) {
	atomic.AddInt32(&f.searches, 1)
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, f.failWith()
	}
	return f.VectorIndex.Search(ctx, vector, topK, filter)
}

// failingEmbedder 向量化恒定失败的假实现
type failingEmbedder struct{ dim int }

func (f *failingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]embedding.Result, error) {
	return nil, errors.New("embedding provider down")
}

func (f *failingEmbedder) Dim() int { return f.dim }

// countingEmbedder 记录每次 EmbedTexts 的批大小
type countingEmbedder struct {
	inner   embedding.TextEmbedder
	batches [][]string
}

func (c *countingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]embedding.Result, error) {
	cp := make([]string, len(texts))
	copy(cp, texts)
	c.batches = append(c.batches, cp)
	return c.inner.EmbedTexts(ctx, texts)
}

func (c *countingEmbedder) Dim() int { return c.inner.Dim() }

// fakeChatModel 函数字段式假生成模型
type fakeChatModel struct {
	calls      int32
	lastPrompt []*schema.Message
	generateFn func(ctx context.Context) (*schema.Message, error)
	streamFn   func(ctx context.Context) (*schema.StreamReader[*schema.Message], error)
}

func (f *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastPrompt = in
	if f.generateFn != nil {
		return f.generateFn(ctx)
	}
	return &schema.Message{Role: schema.Assistant, Content: "答案"}, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastPrompt = in
	if f.streamFn != nil {
		return f.streamFn(ctx)
	}
	return schema.StreamReaderFromArray([]*schema.Message{
		{Role: schema.Assistant, Content: "流式"},
		{Role: schema.Assistant, Content: "答案"},
	}), nil
}

func ingestDocs(t *testing.T, p *IngestPipeline, tenant string, docs ...document.Document) *IngestResult {
	t.Helper()
	res, err := p.Ingest(context.Background(), &IngestRequest{TenantUserID: tenant, Items: docs})
	require.NoError(t, err)
	return res
}

func newIngestPipeline(t *testing.T, idx repository.VectorIndex, ledger repository.DocumentLedger) *IngestPipeline {
	t.Helper()
	p, err := NewIngestPipeline(newTestEmbedder(), idx, ledger, chunking.NewSimpleChunker(500, 0), IngestDefaults{})
	require.NoError(t, err)
	return p
}

func TestIngestPipeline_InsertSkipUpdate(t *testing.T) {
	idx := newTestIndex(t)
	ledger := persistence.NewMemoryLedger()
	p := newIngestPipeline(t, idx, ledger)

	doc := document.Document{ID: "d1", Text: "流感症状包括发烧和咳嗽"}

	res := ingestDocs(t, p, "t1", doc)
	assert.Equal(t, 1, res.Report.Inserted)
	assert.Equal(t, 0, res.Report.Skipped)

	// 同内容重复摄取：跳过，不重复向量化
	res = ingestDocs(t, p, "t1", doc)
	assert.Equal(t, 0, res.Report.Inserted)
	assert.Equal(t, 1, res.Report.Skipped)

	// 内容变更：更新，旧向量被替换
	doc.Text = "流感的常见症状是高烧"
	res = ingestDocs(t, p, "t1", doc)
	assert.Equal(t, 1, res.Report.Updated)

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIngestPipeline_PartialFailureDoesNotAbortBatch(t *testing.T) {
	idx := newTestIndex(t)
	p := newIngestPipeline(t, idx, persistence.NewMemoryLedger())

	res := ingestDocs(t, p, "t1",
		document.Document{ID: "ok1", Text: "正常文档一"},
		document.Document{ID: "bad", Text: "   "},
		document.Document{ID: "ok2", Text: "正常文档二"},
	)

	assert.Equal(t, 2, res.Report.Inserted)
	assert.Equal(t, 1, res.Report.Failed)
	require.Len(t, res.Report.Errors, 1)
	assert.Equal(t, "bad", res.Report.Errors[0].DocumentID)
}

func TestIngestPipeline_NonScalarMetadataRejected(t *testing.T) {
	idx := newTestIndex(t)
	p := newIngestPipeline(t, idx, persistence.NewMemoryLedger())

	res := ingestDocs(t, p, "t1",
		document.Document{ID: "ok", Text: "正常文档"},
		document.Document{ID: "nested", Text: "带嵌套元数据", Metadata: document.Metadata{
			"tags": map[string]any{"a": 1},
		}},
	)

	assert.Equal(t, 1, res.Report.Inserted)
	assert.Equal(t, 1, res.Report.Failed)
	require.Len(t, res.Report.Errors, 1)
	assert.Equal(t, "nested", res.Report.Errors[0].DocumentID)
	assert.Contains(t, res.Report.Errors[0].Reason, "not a scalar")

	// 被拒文档不产生任何向量
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIngestPipeline_EmbeddingBatched(t *testing.T) {
	ce := &countingEmbedder{inner: newTestEmbedder()}
	idx := newTestIndex(t)
	p, err := NewIngestPipeline(ce, idx, persistence.NewMemoryLedger(), chunking.NewSimpleChunker(10, 0), IngestDefaults{BatchSize: 2})
	require.NoError(t, err)

	// 50 字符、片大小 10 → 5 个切片；批大小 2 → 3 次向量化调用
	res := ingestDocs(t, p, "t1", document.Document{ID: "d1", Text: strings.Repeat("abcdefghij", 5)})
	assert.Equal(t, 1, res.Report.Inserted)

	require.Len(t, ce.batches, 3)
	for _, b := range ce.batches {
		assert.LessOrEqual(t, len(b), 2)
	}
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestIngestPipeline_RecursiveChunkerSplitsSentences(t *testing.T) {
	idx := newTestIndex(t)
	ledger := persistence.NewMemoryLedger()
	p, err := NewIngestPipeline(newTestEmbedder(), idx, ledger, chunking.NewRecursiveChunker(20, 0), IngestDefaults{})
	require.NoError(t, err)

	res := ingestDocs(t, p, "t1", document.Document{
		ID:   "d1",
		Text: "第一句讲流感的常见症状。第二句讲发烧的处理办法。第三句讲什么时候需要就医。",
	})
	assert.Equal(t, 1, res.Report.Inserted)

	// 超过片大小的多句文本按句边界切开，台账记录的切片数大于 1
	rec, err := ledger.Get(context.Background(), "t1", "d1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Greater(t, rec.Chunks, 1)
}

func TestIngestPipeline_MissingTenantRejected(t *testing.T) {
	p := newIngestPipeline(t, newTestIndex(t), persistence.NewMemoryLedger())

	_, err := p.Ingest(context.Background(), &IngestRequest{Items: []document.Document{{ID: "d", Text: "x"}}})
	require.Error(t, err)
}

func newQueryPipeline(t *testing.T, idx repository.VectorIndex) *QueryPipeline {
	t.Helper()
	p, err := NewQueryPipeline(newTestEmbedder(), idx, QueryDefaults{TopK: 5, MinScore: 0})
	require.NoError(t, err)
	return p
}

func TestQueryPipeline_TenantIsolation(t *testing.T) {
	idx := newTestIndex(t)
	ledger := persistence.NewMemoryLedger()
	ip := newIngestPipeline(t, idx, ledger)
	ingestDocs(t, ip, "t1", document.Document{ID: "d1", Text: "apple banana"})
	ingestDocs(t, ip, "t2", document.Document{ID: "d2", Text: "apple banana"})

	qp := newQueryPipeline(t, idx)
	res, err := qp.Query(context.Background(), &QueryRequest{TenantUserID: "t1", Query: "apple"})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "d1", res.Matches[0].DocumentID)
}

func TestQueryPipeline_EmptyResultIsNormal(t *testing.T) {
	qp := newQueryPipeline(t, newTestIndex(t))

	res, err := qp.Query(context.Background(), &QueryRequest{TenantUserID: "t1", Query: "任意查询"})
	require.NoError(t, err)
	assert.True(t, res.IsEmpty)
	assert.Empty(t, res.Matches)
	assert.NotEmpty(t, res.Message)
	assert.NotEmpty(t, res.QueryID)
}

func TestQueryPipeline_TransientSearchRetriedOnce(t *testing.T) {
	idx := newTestIndex(t)
	ip := newIngestPipeline(t, idx, persistence.NewMemoryLedger())
	ingestDocs(t, ip, "t1", document.Document{ID: "d1", Text: "hello world"})

	flaky := &flakyIndex{VectorIndex: idx, failures: 1, failWith: func() error {
		return xerr.MarkTransient(errors.New("backend hiccup"))
	}}
	qp := newQueryPipeline(t, flaky)

	res, err := qp.Query(context.Background(), &QueryRequest{TenantUserID: "t1", Query: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&flaky.searches))
	assert.Len(t, res.Matches, 1)
}

func TestQueryPipeline_NonTransientErrorNotRetried(t *testing.T) {
	flaky := &flakyIndex{VectorIndex: newTestIndex(t), failures: 99, failWith: func() error {
		return errors.New("bad expr")
	}}
	qp := newQueryPipeline(t, flaky)

	_, err := qp.Query(context.Background(), &QueryRequest{TenantUserID: "t1", Query: "hello"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&flaky.searches))
}

func TestQueryPipeline_ExplicitZeroMinScoreOverridesDefault(t *testing.T) {
	idx := newTestIndex(t)
	ip := newIngestPipeline(t, idx, persistence.NewMemoryLedger())
	ingestDocs(t, ip, "t1", document.Document{ID: "d1", Text: "hello world"})

	qp, err := NewQueryPipeline(newTestEmbedder(), idx, QueryDefaults{TopK: 5, MinScore: 0.9})
	require.NoError(t, err)

	// 未传阈值：走配置默认 0.9，低分命中被过滤
	res, err := qp.Query(context.Background(), &QueryRequest{TenantUserID: "t1", Query: "hello"})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)

	// 显式传 0：关闭过滤，低分命中返回
	zero := 0.0
	res, err = qp.Query(context.Background(), &QueryRequest{TenantUserID: "t1", Query: "hello", MinScore: &zero})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "d1", res.Matches[0].DocumentID)
}

func TestQueryPipeline_EmptyQueryRejected(t *testing.T) {
	qp := newQueryPipeline(t, newTestIndex(t))

	_, err := qp.Query(context.Background(), &QueryRequest{TenantUserID: "t1", Query: "   "})
	require.Error(t, err)
}

func newAnswerPipeline(t *testing.T, idx repository.VectorIndex, cm model.BaseChatModel, minScore float64) *AnswerPipeline {
	t.Helper()
	p, err := NewAnswerPipeline(newTestEmbedder(), idx, cm, AnswerDefaults{
		TopK:           3,
		MinScore:       minScore,
		Oversample:     4,
		MaxPromptChars: 6000,
		GenTimeout:     time.Second,
	})
	require.NoError(t, err)
	return p
}

// 三篇文档中只有词面相关的一篇应进入证据，完全无关的问题不触发生成
func TestAnswerPipeline_EvidenceSelection(t *testing.T) {
	idx := newTestIndex(t)
	ip := newIngestPipeline(t, idx, persistence.NewMemoryLedger())
	ingestDocs(t, ip, "t1",
		document.Document{ID: "d1", Text: "flu symptoms include fever and cough"},
		document.Document{ID: "d2", Text: "train ticket to Shimla"},
		document.Document{ID: "d3", Text: "headache remedies hydration and rest"},
	)

	cm := &fakeChatModel{}
	ap := newAnswerPipeline(t, idx, cm, 0.2)

	res, err := ap.Answer(context.Background(), &AnswerRequest{TenantUserID: "t1", Question: "remedy for fever"})
	require.NoError(t, err)

	assert.Equal(t, document.StatusAnswered, res.Status)
	assert.Equal(t, "答案", res.Answer)
	require.NotEmpty(t, res.Evidence)
	for _, m := range res.Evidence {
		assert.NotEqual(t, "d2", m.DocumentID)
		assert.GreaterOrEqual(t, m.Score, 0.2)
	}
	// Prompt 中携带出处标注的上下文
	require.Len(t, cm.lastPrompt, 3)
	assert.Contains(t, cm.lastPrompt[1].Content, "doc=")
}

func TestAnswerPipeline_NoContextSkipsGeneration(t *testing.T) {
	idx := newTestIndex(t)
	ip := newIngestPipeline(t, idx, persistence.NewMemoryLedger())
	ingestDocs(t, ip, "t1", document.Document{ID: "d1", Text: "flu symptoms include fever"})

	cm := &fakeChatModel{}
	ap := newAnswerPipeline(t, idx, cm, 0.2)

	res, err := ap.Answer(context.Background(), &AnswerRequest{TenantUserID: "t1", Question: "quantum chromodynamics lattice"})
	require.NoError(t, err)

	assert.Equal(t, document.StatusNoContext, res.Status)
	assert.Empty(t, res.Answer)
	assert.Empty(t, res.Evidence)
	// 无证据时绝不调用生成模型
	assert.Equal(t, int32(0), atomic.LoadInt32(&cm.calls))
}

func TestAnswerPipeline_GenerationFailurePreservesEvidence(t *testing.T) {
	idx := newTestIndex(t)
	ip := newIngestPipeline(t, idx, persistence.NewMemoryLedger())
	ingestDocs(t, ip, "t1", document.Document{ID: "d1", Text: "flu symptoms include fever"})

	cm := &fakeChatModel{generateFn: func(ctx context.Context) (*schema.Message, error) {
		return nil, errors.New("provider unavailable")
	}}
	ap := newAnswerPipeline(t, idx, cm, 0.1)

	res, err := ap.Answer(context.Background(), &AnswerRequest{TenantUserID: "t1", Question: "fever symptoms"})
	require.NoError(t, err)

	assert.Equal(t, document.StatusGenerationFailed, res.Status)
	assert.Empty(t, res.Answer)
	assert.NotEmpty(t, res.Evidence)
	assert.NotEmpty(t, res.Message)
}

func TestAnswerPipeline_GenerationTimeout(t *testing.T) {
	idx := newTestIndex(t)
	ip := newIngestPipeline(t, idx, persistence.NewMemoryLedger())
	ingestDocs(t, ip, "t1", document.Document{ID: "d1", Text: "flu symptoms include fever"})

	cm := &fakeChatModel{generateFn: func(ctx context.Context) (*schema.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p, err := NewAnswerPipeline(newTestEmbedder(), idx, cm, AnswerDefaults{
		TopK: 3, MinScore: 0.1, Oversample: 4, MaxPromptChars: 6000,
		GenTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	res, err := p.Answer(context.Background(), &AnswerRequest{TenantUserID: "t1", Question: "fever symptoms"})
	require.NoError(t, err)
	assert.Equal(t, document.StatusGenerationFailed, res.Status)
	assert.Contains(t, res.Message, xerr.ErrGenerationTimeout.Error())
	assert.NotEmpty(t, res.Evidence)
}

func TestAnswerPipeline_EmbedFailureIsGenerationFailed(t *testing.T) {
	cm := &fakeChatModel{}
	p, err := NewAnswerPipeline(&failingEmbedder{dim: testDim}, newTestIndex(t), cm, AnswerDefaults{
		TopK: 3, MinScore: 0.1, Oversample: 4, MaxPromptChars: 6000,
		GenTimeout: time.Second,
	})
	require.NoError(t, err)

	res, err := p.Answer(context.Background(), &AnswerRequest{TenantUserID: "t1", Question: "fever symptoms"})
	require.NoError(t, err)

	// 问题向量化失败是问答终态，不是检索错误
	assert.Equal(t, document.StatusGenerationFailed, res.Status)
	assert.Empty(t, res.Answer)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, int32(0), atomic.LoadInt32(&cm.calls))
}

func TestAnswerPipeline_StreamNoContext(t *testing.T) {
	cm := &fakeChatModel{}
	ap := newAnswerPipeline(t, newTestIndex(t), cm, 0.2)

	sr, st, err := ap.ExecuteStream(context.Background(), &AnswerRequest{TenantUserID: "t1", Question: "anything"})
	require.NoError(t, err)
	assert.Nil(t, sr)

	res := ap.FinalizeStream(st, "", 0, nil)
	assert.Equal(t, document.StatusNoContext, res.Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&cm.calls))
}

func TestAnswerPipeline_StreamDeltas(t *testing.T) {
	idx := newTestIndex(t)
	ip := newIngestPipeline(t, idx, persistence.NewMemoryLedger())
	ingestDocs(t, ip, "t1", document.Document{ID: "d1", Text: "flu symptoms include fever"})

	cm := &fakeChatModel{}
	ap := newAnswerPipeline(t, idx, cm, 0.1)

	sr, st, err := ap.ExecuteStream(context.Background(), &AnswerRequest{TenantUserID: "t1", Question: "fever symptoms"})
	require.NoError(t, err)
	require.NotNil(t, sr)
	defer sr.Close()

	var full string
	for {
		msg, err := sr.Recv()
		if err != nil {
			break
		}
		full += msg.Content
	}
	res := ap.FinalizeStream(st, full, 1, nil)
	assert.Equal(t, document.StatusAnswered, res.Status)
	assert.Equal(t, "流式答案", res.Answer)
	assert.NotEmpty(t, res.Evidence)
}

func TestAnswerPipeline_StreamInterruptionIsGenerationFailed(t *testing.T) {
	idx := newTestIndex(t)
	ip := newIngestPipeline(t, idx, persistence.NewMemoryLedger())
	ingestDocs(t, ip, "t1", document.Document{ID: "d1", Text: "flu symptoms include fever"})

	cm := &fakeChatModel{streamFn: func(ctx context.Context) (*schema.StreamReader[*schema.Message], error) {
		sr, sw := schema.Pipe[*schema.Message](2)
		sw.Send(&schema.Message{Role: schema.Assistant, Content: "部分"}, nil)
		sw.Send(nil, errors.New("upstream reset"))
		sw.Close()
		return sr, nil
	}}
	ap := newAnswerPipeline(t, idx, cm, 0.1)

	sr, st, err := ap.ExecuteStream(context.Background(), &AnswerRequest{TenantUserID: "t1", Question: "fever symptoms"})
	require.NoError(t, err)
	require.NotNil(t, sr)
	defer sr.Close()

	var full string
	var recvErr error
	for {
		msg, err := sr.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			recvErr = err
			break
		}
		full += msg.Content
	}
	require.Error(t, recvErr)

	// 中断的流按生成失败收尾：证据保留，截断文本不当作完整答案
	res := ap.FinalizeStream(st, full, 1, recvErr)
	assert.Equal(t, document.StatusGenerationFailed, res.Status)
	assert.Empty(t, res.Answer)
	assert.NotEmpty(t, res.Evidence)
	assert.NotEmpty(t, res.Message)
}
