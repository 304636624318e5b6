package respond

import "VectorLink/internal/modules/rag/domain/document"

// MatchHit 单条检索命中（对外展示，得分四舍五入到 4 位）
type MatchHit struct {
	DocumentID string         `json:"document_id"`
	Score      float64        `json:"score"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewMatchHit 从 domain 命中构建 DTO
func NewMatchHit(m document.ScoredMatch) MatchHit {
	return MatchHit{
		DocumentID: m.DocumentID,
		Score:      document.RoundScore(m.Score),
		Content:    m.Payload.Content,
		Metadata:   m.Payload.Metadata,
	}
}

// QueryRespond 向量检索响应
type QueryRespond struct {
	QueryID       string     `json:"query_id"`        // 本次查询唯一 ID（便于追踪回放）
	Query         string     `json:"query"`           // 原始查询文本
	Matches       []MatchHit `json:"matches"`         // 命中列表（按 score 降序）
	TotalHits     int        `json:"total_hits"`      // 向量库原始命中数（后处理前）
	ReturnedCount int        `json:"returned_count"`  // 最终返回条数
	DurationMs    int64      `json:"duration_ms"`     // 总耗时（毫秒）
	EmbeddingMs   int64      `json:"embedding_ms"`    // 向量化耗时（毫秒）
	SearchMs      int64      `json:"search_ms"`       // 检索耗时（毫秒）
	PostProcessMs int64      `json:"post_process_ms"` // 后处理耗时（毫秒）
	IsEmpty       bool       `json:"is_empty"`        // 未命中任何结果
	Message       string     `json:"message"`         // 提示信息
}

// IngestItemErrorRespond 单文档摄取失败记录
type IngestItemErrorRespond struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}

// IngestRespond 批量摄取响应
type IngestRespond struct {
	Inserted   int                      `json:"inserted"`
	Updated    int                      `json:"updated"`
	Skipped    int                      `json:"skipped"`
	Failed     int                      `json:"failed"`
	Errors     []IngestItemErrorRespond `json:"errors,omitempty"`
	DurationMs int64                    `json:"duration_ms"`
}

// AskRespond RAG 问答响应
type AskRespond struct {
	QueryID    string     `json:"query_id"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Status     string     `json:"status"` // answered / no_context / generation_failed / retrieval_error
	Evidence   []MatchHit `json:"evidence"`
	Message    string     `json:"message,omitempty"`
	RetrieveMs int64      `json:"retrieve_ms"`
	LLMMs      int64      `json:"llm_ms"`
	DurationMs int64      `json:"duration_ms"`
}

// EnqueueRespond 异步摄取入队响应
type EnqueueRespond struct {
	TaskID    string `json:"task_id"`
	Items     int    `json:"items"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// StatsRespond 租户维度的存量统计
type StatsRespond struct {
	TenantUserID string `json:"tenant_user_id"`
	Documents    int64  `json:"documents"` // 台账中的文档数
	Vectors      int64  `json:"vectors"`   // 向量库全局向量数
	Backend      string `json:"backend"`
	Metric       string `json:"metric"`
	Dim          int    `json:"dim"`
}
