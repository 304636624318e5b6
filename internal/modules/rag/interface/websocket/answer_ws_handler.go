package websocket

import (
	"io"
	"net/http"
	"strings"
	"time"

	ragRequest "VectorLink/internal/modules/rag/application/dto/request"
	"VectorLink/internal/modules/rag/application/service"
	"VectorLink/pkg/util/myjwt"
	"VectorLink/pkg/zlog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// AnswerWsHandler 流式问答 websocket Handler
//
// 客户端发送 {"action":"ask","question":"..."}，服务端按 token 粒度下发 delta，
// 流结束后下发 done 事件携带完整终态（含证据与耗时）。
type AnswerWsHandler struct {
	answerSvc service.AnswerService
}

func NewAnswerWsHandler(answerSvc service.AnswerService) *AnswerWsHandler {
	return &AnswerWsHandler{answerSvc: answerSvc}
}

type wsAskMessage struct {
	Action   string                 `json:"action"`
	Question string                 `json:"question"`
	TopK     int                    `json:"top_k"`
	MinScore *float64               `json:"min_score"`
	Filter   map[string]interface{} `json:"filter"`
}

type wsEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Serve 升级连接并进入消息循环
//
// 路由: GET /rag/ask/ws
// 鉴权: 优先取 JWT 中间件注入的 uuid，否则从 query 参数 token 解析
func (h *AnswerWsHandler) Serve(c *gin.Context) {
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		token := strings.TrimSpace(c.Query("token"))
		if token != "" {
			if claims, err := myjwt.ParseToken(token); err == nil {
				uuid = claims.Uuid
			}
		}
	}
	if uuid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "未登录"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	zlog.Info("answer ws connected", zap.String("tenant_user_id", uuid))

	for {
		var msg wsAskMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Warn("answer ws read error", zap.Error(err))
			}
			return
		}
		switch msg.Action {
		case "ask":
			h.handleAsk(c, conn, uuid, msg)
		case "ping":
			_ = conn.WriteJSON(wsEvent{Event: "pong"})
		default:
			_ = conn.WriteJSON(wsEvent{Event: "error", Data: gin.H{"message": "未知 action: " + msg.Action}})
		}
	}
}

func (h *AnswerWsHandler) handleAsk(c *gin.Context, conn *websocket.Conn, uuid string, msg wsAskMessage) {
	req := ragRequest.AskRequest{
		Question: msg.Question,
		TopK:     msg.TopK,
		MinScore: msg.MinScore,
		Filter:   msg.Filter,
	}
	sr, finalize, err := h.answerSvc.AskStream(c.Request.Context(), req, uuid)
	if err != nil {
		zlog.Warn("rag ask stream failed", zap.String("tenant_user_id", uuid), zap.Error(err))
		_ = conn.WriteJSON(wsEvent{Event: "error", Data: gin.H{"message": err.Error()}})
		return
	}

	// 无证据：不产生流，直接下发 no_context 终态
	if sr == nil {
		_ = conn.WriteJSON(wsEvent{Event: "done", Data: finalize("", 0, nil)})
		return
	}
	defer sr.Close()

	llmStart := time.Now()
	var full strings.Builder
	for {
		chunk, err := sr.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// 流中断按生成失败收尾：证据保留，不把截断文本当完整答案
			zlog.Warn("rag ask stream recv failed", zap.String("tenant_user_id", uuid), zap.Error(err))
			_ = conn.WriteJSON(wsEvent{Event: "error", Data: gin.H{"message": "生成中断"}})
			_ = conn.WriteJSON(wsEvent{Event: "done", Data: finalize(full.String(), time.Since(llmStart).Milliseconds(), err)})
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if err := conn.WriteJSON(wsEvent{Event: "delta", Data: gin.H{"token": chunk.Content}}); err != nil {
			zlog.Warn("answer ws write failed", zap.Error(err))
			return
		}
	}
	_ = conn.WriteJSON(wsEvent{Event: "done", Data: finalize(full.String(), time.Since(llmStart).Milliseconds(), nil)})
}
