package pipeline

import (
	"context"
	"fmt"
	"time"

	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/domain/repository"
	"VectorLink/internal/modules/rag/infrastructure/embedding"
	"VectorLink/pkg/xerr"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// AnswerRequest RAG 问答 Pipeline 的输入
type AnswerRequest struct {
	TenantUserID string         // 租户用户 ID（必填）
	Question     string         // 用户问题（必填）
	TopK         int            // 证据条数（默认取配置）
	MinScore     *float64       // 相似度阈值；nil 表示未指定（取配置默认），显式 0 生效
	Filter       map[string]any // 元数据过滤（租户条件自动注入）
}

// AnswerResult RAG 问答 Pipeline 的输出
//
// 生成失败时 Evidence 仍然保留：调用方可以退化为纯检索展示。
type AnswerResult struct {
	QueryID    string                 `json:"query_id"`
	Question   string                 `json:"question"`
	Answer     string                 `json:"answer"`
	Status     document.AnswerStatus  `json:"status"`
	Evidence   []document.ScoredMatch `json:"evidence"`
	Message    string                 `json:"message,omitempty"`
	RetrieveMs int64                  `json:"retrieve_ms"`
	LLMMs      int64                  `json:"llm_ms"`
	DurationMs int64                  `json:"duration_ms"`
}

// AnswerDefaults 问答 Pipeline 的配置默认值
type AnswerDefaults struct {
	TopK           int
	MinScore       float64
	Oversample     int           // 召回超采倍数（去重后仍能凑满 TopK）
	MaxPromptChars int           // 上下文字符预算
	GenTimeout     time.Duration // 生成阶段超时
}

// AnswerPipeline RAG 问答编排（检索 + 生成，基于 Eino compose.Graph）
//
// 关键语义：
//   - 无证据时不调用生成模型，直接返回 no_context（防止无依据编造）
//   - 生成失败或超时降级为 generation_failed，已检索证据原样返回
//   - 检索失败返回 retrieval_error
type AnswerPipeline struct {
	embedder  embedding.TextEmbedder
	index     repository.VectorIndex
	chatModel model.BaseChatModel
	defaults  AnswerDefaults
	r         compose.Runnable[*AnswerRequest, *AnswerResult]
}

func NewAnswerPipeline(
	embedder embedding.TextEmbedder,
	index repository.VectorIndex,
	chatModel model.BaseChatModel,
	defaults AnswerDefaults,
) (*AnswerPipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index is nil")
	}
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	if defaults.TopK <= 0 {
		defaults.TopK = 5
	}
	if defaults.Oversample <= 0 {
		defaults.Oversample = 4
	}
	if defaults.MaxPromptChars <= 0 {
		defaults.MaxPromptChars = 6000
	}
	if defaults.GenTimeout <= 0 {
		defaults.GenTimeout = 2 * time.Minute
	}
	p := &AnswerPipeline{embedder: embedder, index: index, chatModel: chatModel, defaults: defaults}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Answer 执行问答（封装 Eino Runnable.Invoke）
func (p *AnswerPipeline) Answer(ctx context.Context, req *AnswerRequest) (*AnswerResult, error) {
	if req == nil {
		return nil, fmt.Errorf("answer request is nil")
	}
	if p.r == nil {
		return nil, fmt.Errorf("pipeline runnable is nil")
	}
	return p.r.Invoke(ctx, req)
}

// ExecuteStream 流式问答：手动执行检索与 Prompt 构建，返回生成模型的 StreamReader
//
// 无证据时返回 (nil, st, nil)，调用方据 st 直接下发 no_context 终态。
func (p *AnswerPipeline) ExecuteStream(ctx context.Context, req *AnswerRequest) (*schema.StreamReader[*schema.Message], *answerState, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("answer request is nil")
	}

	st, err := p.validateNode(ctx, req)
	if err != nil || st.Err != nil {
		return nil, st, firstErr(err, st.Err)
	}
	st, err = p.retrieveNode(ctx, st)
	if err != nil || st.Err != nil {
		return nil, st, firstErr(err, st.Err)
	}
	st, err = p.buildPromptNode(ctx, st)
	if err != nil || st.Err != nil {
		return nil, st, firstErr(err, st.Err)
	}
	if st.Context.Empty() {
		return nil, st, nil
	}

	sr, err := p.chatModel.Stream(ctx, promptPtrs(st.PromptMsgs))
	if err != nil {
		return nil, st, err
	}
	return sr, st, nil
}

// FinalizeStream 流式生成结束后组装终态结果
//
// streamErr 为流中断错误：非 nil 时终态为 generation_failed，
// 部分答案丢弃，已检索证据保留。
func (p *AnswerPipeline) FinalizeStream(st *answerState, fullAnswer string, llmMs int64, streamErr error) *AnswerResult {
	if st == nil {
		return &AnswerResult{Status: document.StatusGenerationFailed, Message: "nil state"}
	}
	st.LLMMs = llmMs
	if streamErr != nil {
		st.Status = document.StatusGenerationFailed
		st.Err = fmt.Errorf("%w: %v", xerr.ErrGeneration, streamErr)
		st.Answer = ""
		return p.buildFinal(st)
	}
	st.Answer = fullAnswer
	return p.buildFinal(st)
}

func promptPtrs(msgs []schema.Message) []*schema.Message {
	out := make([]*schema.Message, len(msgs))
	for i := range msgs {
		out[i] = &msgs[i]
	}
	return out
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
