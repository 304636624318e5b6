package document

import (
	"fmt"
	"math"
	"strings"
)

// Metric 集合使用的相似度度量。集合创建后不可更改。
type Metric string

const (
	MetricCosine Metric = "COSINE"
	MetricIP     Metric = "IP"
	MetricL2     Metric = "L2"
)

// ParseMetric 解析配置中的度量名称
func ParseMetric(s string) (Metric, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "COSINE":
		return MetricCosine, nil
	case "IP", "DOT":
		return MetricIP, nil
	case "L2", "EUCLIDEAN":
		return MetricL2, nil
	default:
		return "", fmt.Errorf("unknown metric: %s", s)
	}
}

// Metadata 文档元数据（值为标量）
type Metadata map[string]any

// IsScalarValue 判断元数据值是否为支持的标量类型
//
// JSON 解码出的数值统一是 float64；嵌套对象/数组不属于数据模型，摄取时拒绝。
func IsScalarValue(v any) bool {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

// Document 待入库的文档。Text 变更后重新摄取会替换旧向量，不保留历史版本。
type Document struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Payload 随向量一同存储、随命中结果返回的负载
type Payload struct {
	DocumentID string   `json:"document_id"`
	Content    string   `json:"content"`
	Metadata   Metadata `json:"metadata,omitempty"`
}

// ScoredMatch 一次相似度检索的单条命中
//
// Score 统一约定为“越大越相似”：cosine/IP 直接使用相似度，
// L2 距离 d 映射为 1/(1+d) 后再返回。
type ScoredMatch struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Payload    Payload `json:"payload"`
}

// RoundScore 将得分四舍五入到 4 位小数（仅用于对外展示，内部比较使用全精度）
func RoundScore(s float64) float64 {
	return math.Round(s*10000) / 10000
}

// AnswerStatus RAG 编排器的终态
type AnswerStatus string

const (
	StatusAnswered         AnswerStatus = "answered"
	StatusNoContext        AnswerStatus = "no_context"
	StatusGenerationFailed AnswerStatus = "generation_failed"
	StatusRetrievalError   AnswerStatus = "retrieval_error"
)

// IngestItemError 批量摄取中单个文档的失败记录（不中断整批）
type IngestItemError struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}

// IngestReport 一次摄取的结构化结果
type IngestReport struct {
	Inserted   int               `json:"inserted"`
	Updated    int               `json:"updated"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	Errors     []IngestItemError `json:"errors,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

// GenerationContext 用于构建 Prompt 的已排序证据集合（按得分降序）
//
// 构建后不可变：内部持有副本，Matches 也返回副本。
type GenerationContext struct {
	matches []ScoredMatch
}

// NewGenerationContext 从排序后的命中构建上下文
func NewGenerationContext(matches []ScoredMatch) GenerationContext {
	cp := make([]ScoredMatch, len(matches))
	copy(cp, matches)
	return GenerationContext{matches: cp}
}

func (g GenerationContext) Empty() bool { return len(g.matches) == 0 }

func (g GenerationContext) Len() int { return len(g.matches) }

// Matches 返回证据副本（得分降序）
func (g GenerationContext) Matches() []ScoredMatch {
	cp := make([]ScoredMatch, len(g.matches))
	copy(cp, g.matches)
	return cp
}

// PromptContext 将证据拼接为带出处标注的上下文串，长度受 maxChars（按 rune 计）约束
//
// 纯函数：不做任何 I/O，同样输入必得同样输出。超出预算的条目整条丢弃，
// 保证每条证据的出处标注完整。
func (g GenerationContext) PromptContext(maxChars int) string {
	if len(g.matches) == 0 {
		return ""
	}
	var b strings.Builder
	total := 0
	for i, m := range g.matches {
		item := fmt.Sprintf("[%d] (doc=%s score=%.4f) %s", i+1, m.DocumentID, RoundScore(m.Score), m.Payload.Content)
		n := len([]rune(item)) + 1
		if maxChars > 0 && total+n > maxChars {
			break
		}
		b.WriteString(item)
		b.WriteString("\n")
		total += n
	}
	return strings.TrimRight(b.String(), "\n")
}
