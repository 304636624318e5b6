package http

import (
	"strings"

	"VectorLink/internal/config"
	"VectorLink/internal/modules/rag/application/service"
	"VectorLink/pkg/back"
	"VectorLink/pkg/util"
	"VectorLink/pkg/util/myjwt"
	"VectorLink/pkg/xerr"
	"VectorLink/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler 运维与开发辅助接口
type AdminHandler struct {
	adminSvc service.AdminService
}

func NewAdminHandler(adminSvc service.AdminService) *AdminHandler {
	return &AdminHandler{adminSvc: adminSvc}
}

// Stats 租户统计（文档数 / 索引向量总量 / 后端信息）
//
// 路由: GET /rag/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	data, err := h.adminSvc.Stats(c.Request.Context(), uuid)
	if err != nil {
		zlog.Warn("rag stats failed", zap.String("tenant_user_id", uuid), zap.Error(err))
	}
	back.Result(c, data, err)
}

// DevToken 签发开发调试用 JWT，仅 dev 环境开放
//
// 路由: POST /dev/token?uuid=xxx
func (h *AdminHandler) DevToken(c *gin.Context) {
	conf := config.GetConfig()
	if conf.MainConfig.Env != "dev" {
		back.Error(c, xerr.Forbidden, "仅 dev 环境可用")
		return
	}
	uuid := strings.TrimSpace(c.Query("uuid"))
	if uuid == "" {
		uuid = util.GenerateShortUUID()
	}
	token, err := myjwt.GenerateToken(uuid, "dev_"+uuid)
	if err != nil {
		zlog.Error("generate dev token failed", zap.Error(err))
		back.Error(c, xerr.InternalServerError, xerr.ErrServerError.Message)
		return
	}
	back.Success(c, gin.H{"uuid": uuid, "token": token})
}
