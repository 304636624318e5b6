package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/domain/repository"
	"VectorLink/internal/modules/rag/infrastructure/ranking"
	"VectorLink/pkg/util"
	"VectorLink/pkg/xerr"
	"VectorLink/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// answerState 问答 Pipeline 的中间状态
type answerState struct {
	Req        *AnswerRequest
	QueryID    string
	MinScore   float64 // 生效的相似度阈值（请求值或配置默认）
	Filter     repository.SearchFilter
	Context    document.GenerationContext // 排序后的证据（不可变）
	PromptMsgs []schema.Message
	Answer     string
	Status     document.AnswerStatus
	Start      time.Time
	RetrieveMs int64
	LLMMs      int64
	Err        error
}

// buildGraph 构建问答 Pipeline 的 Eino Graph
//
// 节点顺序：Validate → Retrieve → BuildPrompt → Generate → BuildResult
func (p *AnswerPipeline) buildGraph(ctx context.Context) (compose.Runnable[*AnswerRequest, *AnswerResult], error) {
	const (
		Validate    = "Validate"
		Retrieve    = "Retrieve"
		BuildPrompt = "BuildPrompt"
		Generate    = "Generate"
		BuildResult = "BuildResult"
	)
	g := compose.NewGraph[*AnswerRequest, *AnswerResult]()

	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(Retrieve, compose.InvokableLambdaWithOption(p.retrieveNode), compose.WithNodeName(Retrieve))
	_ = g.AddLambdaNode(BuildPrompt, compose.InvokableLambdaWithOption(p.buildPromptNode), compose.WithNodeName(BuildPrompt))
	_ = g.AddLambdaNode(Generate, compose.InvokableLambdaWithOption(p.generateNode), compose.WithNodeName(Generate))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))

	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, Retrieve)
	_ = g.AddEdge(Retrieve, BuildPrompt)
	_ = g.AddEdge(BuildPrompt, Generate)
	_ = g.AddEdge(Generate, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)

	return g.Compile(ctx, compose.WithGraphName("RAGAnswerPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// validateNode 节点 1：校验请求并构造过滤器
func (p *AnswerPipeline) validateNode(ctx context.Context, req *AnswerRequest, _ ...any) (*answerState, error) {
	_ = ctx
	st := &answerState{
		Req:     req,
		QueryID: fmt.Sprintf("a_%s", util.GenerateShortUUID()),
		Start:   time.Now(),
	}
	if req == nil {
		st.Err = fmt.Errorf("answer request is nil")
		return st, nil
	}
	tenant := strings.TrimSpace(req.TenantUserID)
	req.TenantUserID = tenant
	if tenant == "" {
		st.Err = fmt.Errorf("missing tenant_user_id")
		return st, nil
	}
	question := strings.TrimSpace(req.Question)
	req.Question = question
	if question == "" {
		st.Err = fmt.Errorf("missing question")
		return st, nil
	}
	req.TopK = normalizeTopK(req.TopK, p.defaults.TopK)
	st.MinScore = p.defaults.MinScore
	if req.MinScore != nil {
		st.MinScore = *req.MinScore
	}
	st.Filter = repository.SearchFilter{"tenant_user_id": tenant}
	for k, v := range req.Filter {
		if k == "tenant_user_id" {
			continue
		}
		st.Filter[k] = v
	}
	return st, nil
}

// retrieveNode 节点 2：向量化并超采检索，去重排序后裁到 TopK
//
// 超采是为了去重后仍能凑满 TopK 条不同文档的证据。
func (p *AnswerPipeline) retrieveNode(ctx context.Context, st *answerState, _ ...any) (*answerState, error) {
	if st == nil {
		return &answerState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	retStart := time.Now()

	// 问题向量化失败按生成失败处理：调用方拿到的是问答终态而非检索错误
	rs, err := p.embedder.EmbedTexts(ctx, []string{st.Req.Question})
	if err != nil {
		st.Err = err
		st.Status = document.StatusGenerationFailed
		return st, nil
	}

	fetchK := st.Req.TopK * p.defaults.Oversample
	if fetchK > 50 {
		fetchK = 50
	}
	if fetchK < st.Req.TopK {
		fetchK = st.Req.TopK
	}
	hits, err := searchWithRetry(ctx, p.index, rs[0].Vector, fetchK, st.Filter)
	if err != nil {
		st.Err = err
		st.Status = document.StatusRetrievalError
		return st, nil
	}

	ranked := ranking.Rank(hits, st.MinScore, st.Req.TopK)
	st.Context = document.NewGenerationContext(ranked)
	st.RetrieveMs = time.Since(retStart).Milliseconds()
	return st, nil
}

// buildPromptNode 节点 3：将证据拼入 Prompt（无证据时跳过）
func (p *AnswerPipeline) buildPromptNode(ctx context.Context, st *answerState, _ ...any) (*answerState, error) {
	_ = ctx
	if st == nil {
		return &answerState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	if st.Context.Empty() {
		st.Status = document.StatusNoContext
		return st, nil
	}

	contextStr := st.Context.PromptContext(p.defaults.MaxPromptChars)
	st.PromptMsgs = []schema.Message{
		{
			Role:    schema.System,
			Content: "你是一个严谨的问答助手。只依据给出的上下文回答问题，上下文中没有的信息要明确说不知道，不得编造。",
		},
		{
			Role:    schema.System,
			Content: fmt.Sprintf("以下是检索到的相关上下文（按相关度排序，含出处标注）：\n%s", contextStr),
		},
		{
			Role:    schema.User,
			Content: st.Req.Question,
		},
	}
	return st, nil
}

// generateNode 节点 4：带超时调用生成模型
//
// 无证据直接跳过；失败或超时不丢弃已检索证据。
func (p *AnswerPipeline) generateNode(ctx context.Context, st *answerState, _ ...any) (*answerState, error) {
	if st == nil {
		return &answerState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || st.Status == document.StatusNoContext {
		return st, nil
	}

	llmStart := time.Now()
	genCtx, cancel := context.WithTimeout(ctx, p.defaults.GenTimeout)
	defer cancel()

	resp, err := p.chatModel.Generate(genCtx, promptPtrs(st.PromptMsgs))
	st.LLMMs = time.Since(llmStart).Milliseconds()
	if err != nil {
		st.Status = document.StatusGenerationFailed
		if errors.Is(err, context.DeadlineExceeded) {
			st.Err = fmt.Errorf("%w: %v", xerr.ErrGenerationTimeout, err)
		} else {
			st.Err = fmt.Errorf("%w: %v", xerr.ErrGeneration, err)
		}
		return st, nil
	}
	st.Answer = resp.Content
	st.Status = document.StatusAnswered
	return st, nil
}

// buildResultNode 节点 5：组装终态
func (p *AnswerPipeline) buildResultNode(ctx context.Context, st *answerState, _ ...any) (*AnswerResult, error) {
	_ = ctx
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}
	// 参数校验失败是调用方错误，直接作为 error 返回
	if st.Err != nil && st.Status == "" {
		return nil, st.Err
	}
	return p.buildFinal(st), nil
}

// buildFinal 终态组装（Invoke 路径与流式路径共用）
func (p *AnswerPipeline) buildFinal(st *answerState) *AnswerResult {
	res := &AnswerResult{
		QueryID:    st.QueryID,
		Evidence:   st.Context.Matches(),
		Status:     st.Status,
		Answer:     st.Answer,
		RetrieveMs: st.RetrieveMs,
		LLMMs:      st.LLMMs,
		DurationMs: time.Since(st.Start).Milliseconds(),
	}
	if st.Req != nil {
		res.Question = st.Req.Question
	}
	switch {
	case st.Status == document.StatusNoContext:
		res.Message = "未检索到相关上下文，未调用生成模型"
	case st.Status == document.StatusRetrievalError, st.Status == document.StatusGenerationFailed:
		if st.Err != nil {
			res.Message = st.Err.Error()
		}
	case st.Status == "":
		res.Status = document.StatusAnswered
	}

	tenant := ""
	if st.Req != nil {
		tenant = st.Req.TenantUserID
	}
	zlog.Info(
		"rag answer done",
		zap.String("query_id", res.QueryID),
		zap.String("tenant_user_id", tenant),
		zap.String("status", string(res.Status)),
		zap.Int("evidence", len(res.Evidence)),
		zap.Int("answer_len", len(res.Answer)),
		zap.Int64("retrieve_ms", res.RetrieveMs),
		zap.Int64("llm_ms", res.LLMMs),
		zap.Int64("duration_ms", res.DurationMs),
	)
	return res
}
