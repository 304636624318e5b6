package service

import (
	"context"
	"fmt"
	"strings"

	"VectorLink/internal/modules/rag/application/dto/request"
	"VectorLink/internal/modules/rag/application/dto/respond"
	"VectorLink/internal/modules/rag/infrastructure/pipeline"

	"github.com/cloudwego/eino/schema"
)

// AnswerService RAG 问答服务接口
type AnswerService interface {
	// Ask 执行检索增强问答（非流式）
	Ask(ctx context.Context, req request.AskRequest, tenantUserID string) (*respond.AskRespond, error)
	// AskStream 流式问答：返回 StreamReader 与流结束后的终态组装函数
	//
	// StreamReader 为 nil 且 err 为 nil 表示无证据（直接下发 no_context 终态）。
	AskStream(ctx context.Context, req request.AskRequest, tenantUserID string) (*schema.StreamReader[*schema.Message], FinalizeFunc, error)
}

// FinalizeFunc 流式生成结束后由调用方提供完整答案与耗时，换取终态响应
//
// streamErr 非 nil 表示流中断，终态降级为 generation_failed（证据保留）。
type FinalizeFunc func(fullAnswer string, llmMs int64, streamErr error) *respond.AskRespond

type answerServiceImpl struct {
	pipeline *pipeline.AnswerPipeline
}

func NewAnswerService(p *pipeline.AnswerPipeline) AnswerService {
	return &answerServiceImpl{pipeline: p}
}

func (s *answerServiceImpl) Ask(ctx context.Context, req request.AskRequest, tenantUserID string) (*respond.AskRespond, error) {
	preq, err := s.buildRequest(req, tenantUserID)
	if err != nil {
		return nil, err
	}
	result, err := s.pipeline.Answer(ctx, preq)
	if err != nil {
		return nil, err
	}
	return toAskRespond(result), nil
}

func (s *answerServiceImpl) AskStream(ctx context.Context, req request.AskRequest, tenantUserID string) (*schema.StreamReader[*schema.Message], FinalizeFunc, error) {
	preq, err := s.buildRequest(req, tenantUserID)
	if err != nil {
		return nil, nil, err
	}
	sr, st, err := s.pipeline.ExecuteStream(ctx, preq)
	if err != nil {
		return nil, nil, err
	}
	finalize := func(fullAnswer string, llmMs int64, streamErr error) *respond.AskRespond {
		return toAskRespond(s.pipeline.FinalizeStream(st, fullAnswer, llmMs, streamErr))
	}
	return sr, finalize, nil
}

func (s *answerServiceImpl) buildRequest(req request.AskRequest, tenantUserID string) (*pipeline.AnswerRequest, error) {
	if s.pipeline == nil {
		return nil, fmt.Errorf("answer pipeline is nil")
	}
	tenant := strings.TrimSpace(tenantUserID)
	if tenant == "" {
		return nil, fmt.Errorf("tenant_user_id is required")
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}
	return &pipeline.AnswerRequest{
		TenantUserID: tenant,
		Question:     question,
		TopK:         req.TopK,
		MinScore:     req.MinScore,
		Filter:       req.Filter,
	}, nil
}

func toAskRespond(r *pipeline.AnswerResult) *respond.AskRespond {
	evidence := make([]respond.MatchHit, 0, len(r.Evidence))
	for _, m := range r.Evidence {
		evidence = append(evidence, respond.NewMatchHit(m))
	}
	return &respond.AskRespond{
		QueryID:    r.QueryID,
		Question:   r.Question,
		Answer:     r.Answer,
		Status:     string(r.Status),
		Evidence:   evidence,
		Message:    r.Message,
		RetrieveMs: r.RetrieveMs,
		LLMMs:      r.LLMMs,
		DurationMs: r.DurationMs,
	}
}
