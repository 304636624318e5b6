package request

// QueryRequest 向量检索请求
type QueryRequest struct {
	Query    string         `json:"query" binding:"required"` // 查询文本（必填）
	TopK     int            `json:"top_k"`                    // 返回条数（默认 5，范围 1-50）
	MinScore *float64       `json:"min_score"`                // 相似度阈值；缺省取配置默认，显式 0 关闭过滤
	Filter   map[string]any `json:"filter,omitempty"`         // 元数据等值过滤
}

// IngestItem 单个待摄取文档
type IngestItem struct {
	ID       string         `json:"id"`                      // 文档 ID（缺省自动生成）
	Text     string         `json:"text" binding:"required"` // 文档正文（必填）
	Metadata map[string]any `json:"metadata,omitempty"`      // 元数据（标量值）
}

// IngestRequest 批量摄取请求
type IngestRequest struct {
	Items []IngestItem `json:"items" binding:"required"`
}

// AskRequest RAG 问答请求
type AskRequest struct {
	Question string         `json:"question" binding:"required"` // 用户问题（必填）
	TopK     int            `json:"top_k"`                       // 证据条数（默认 5）
	MinScore *float64       `json:"min_score"`                   // 相似度阈值；缺省取配置默认，显式 0 生效
	Filter   map[string]any `json:"filter,omitempty"`            // 元数据等值过滤
}

// DeleteDocumentsRequest 文档删除请求（级联删除向量与台账）
type DeleteDocumentsRequest struct {
	DocIDs []string `json:"doc_ids" binding:"required"`
}
