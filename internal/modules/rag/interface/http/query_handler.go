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

// QueryHandler 向量检索 HTTP Handler
type QueryHandler struct {
	querySvc service.QueryService
}

func NewQueryHandler(querySvc service.QueryService) *QueryHandler {
	return &QueryHandler{querySvc: querySvc}
}

// Query 处理向量检索请求
//
// 路由: POST /rag/query
// 鉴权: 需要 JWT（从 authed 分组继承）
// 请求体: QueryRequest
// 响应体: QueryRespond
func (h *QueryHandler) Query(c *gin.Context) {
	var req ragRequest.QueryRequest
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
	data, err := h.querySvc.Query(c.Request.Context(), req, uuid)
	if err != nil {
		zlog.Warn("rag query failed", zap.String("tenant_user_id", uuid), zap.Error(err))
	}
	back.Result(c, data, err)
}
