package http

import (
	"strings"

	ragRequest "VectorLink/internal/modules/rag/application/dto/request"
	"VectorLink/internal/modules/rag/application/service"
	"VectorLink/pkg/back"
	"VectorLink/pkg/xerr"
	"VectorLink/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AnswerHandler RAG 问答 HTTP Handler（非流式；流式走 websocket）
type AnswerHandler struct {
	answerSvc service.AnswerService
}

func NewAnswerHandler(answerSvc service.AnswerService) *AnswerHandler {
	return &AnswerHandler{answerSvc: answerSvc}
}

// Ask 检索增强问答
//
// 路由: POST /rag/ask
// 请求体: AskRequest
// 响应体: AskRespond（status 区分 answered / no_context / generation_failed）
func (h *AnswerHandler) Ask(c *gin.Context) {
	var req ragRequest.AskRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	data, err := h.answerSvc.Ask(c.Request.Context(), req, uuid)
	if err != nil {
		zlog.Warn("rag ask failed", zap.String("tenant_user_id", uuid), zap.Error(err))
	}
	back.Result(c, data, err)
}
