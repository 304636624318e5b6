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

// IngestHandler 文档摄取 HTTP Handler
type IngestHandler struct {
	ingestSvc service.IngestService
	asyncSvc  service.AsyncIngestService
}

func NewIngestHandler(ingestSvc service.IngestService, asyncSvc service.AsyncIngestService) *IngestHandler {
	return &IngestHandler{ingestSvc: ingestSvc, asyncSvc: asyncSvc}
}

// Ingest 同步摄取（阻塞到整批处理完，返回结构化报告）
//
// 路由: POST /rag/ingest
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req ragRequest.IngestRequest
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
	data, err := h.ingestSvc.Ingest(c.Request.Context(), req, uuid)
	if err != nil {
		zlog.Warn("rag ingest failed", zap.String("tenant_user_id", uuid), zap.Error(err))
	}
	back.Result(c, data, err)
}

// IngestAsync 异步摄取（任务入 Kafka，立即返回 task_id）
//
// 路由: POST /rag/ingest/async
// Kafka 未启用时返回 503 语义的错误码
func (h *IngestHandler) IngestAsync(c *gin.Context) {
	if h.asyncSvc == nil {
		back.Error(c, xerr.InternalServerError, "异步摄取未启用")
		return
	}
	var req ragRequest.IngestRequest
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
	data, err := h.asyncSvc.Enqueue(c.Request.Context(), req, uuid)
	back.Result(c, data, err)
}

// DeleteDocuments 删除文档（级联删除向量与台账）
//
// 路由: POST /rag/documents/delete
func (h *IngestHandler) DeleteDocuments(c *gin.Context) {
	var req ragRequest.DeleteDocumentsRequest
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
	err := h.ingestSvc.DeleteDocuments(c.Request.Context(), req, uuid)
	back.Result(c, gin.H{"deleted": len(req.DocIDs)}, err)
}
