package ranking

import (
	"sort"

	"VectorLink/internal/modules/rag/domain/document"
)

// Rank 对原始命中做后处理：去重 → 阈值过滤 → 排序 → 截断。
//
// 纯函数：不做 I/O、不修改入参，输出只由 (得分, 文档 ID) 决定，
// 与入参顺序无关——便于独立单测。
//
// 步骤（顺序固定）：
//  1. 按 DocumentID 去重，保留得分最高的一条；
//  2. 丢弃 score < minScore 的条目；
//  3. 得分降序排序，同分按 DocumentID 升序；
//  4. 截断到 k 条。
//
// 过滤后为空时返回空切片而非错误：“无相关结果”是正常结果。
func Rank(matches []document.ScoredMatch, minScore float64, k int) []document.ScoredMatch {
	if len(matches) == 0 || k <= 0 {
		return []document.ScoredMatch{}
	}

	// 1. 去重：同一文档保留最高分；同分时取内容字典序较小者，保证输出与输入顺序无关
	best := make(map[string]document.ScoredMatch, len(matches))
	for _, m := range matches {
		ex, ok := best[m.DocumentID]
		if !ok || m.Score > ex.Score || (m.Score == ex.Score && m.Payload.Content < ex.Payload.Content) {
			best[m.DocumentID] = m
		}
	}

	// 2. 阈值过滤
	out := make([]document.ScoredMatch, 0, len(best))
	for _, m := range best {
		if m.Score < minScore {
			continue
		}
		out = append(out, m)
	}

	// 3. 排序：得分降序，同分按文档 ID 升序
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocumentID < out[j].DocumentID
	})

	// 4. 截断
	if len(out) > k {
		out = out[:k]
	}
	return out
}
