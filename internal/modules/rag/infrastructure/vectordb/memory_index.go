package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/domain/repository"
	"VectorLink/pkg/xerr"
)

// MemoryIndex 进程内暴力检索索引（O(n·D)/查询）
//
// 作为 VectorIndex 契约的参考实现：几万条向量以内可直接用于生产，
// 超过该量级应切换 Milvus 后端，调用方无需改动。
//
// 并发模型：RWMutex——读者互不阻塞，写者独占；Upsert 全量校验后才加写锁，
// 读者不会观察到写到一半的向量。
type MemoryIndex struct {
	mu      sync.RWMutex
	dim     int
	metric  document.Metric
	entries map[string]memEntry
}

type memEntry struct {
	docID    string
	vector   []float32
	content  string
	metadata document.Metadata
}

// NewMemoryIndex 创建索引并固定维度与度量
func NewMemoryIndex(dim int, metric document.Metric) (*MemoryIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dim: %d", dim)
	}
	switch metric {
	case document.MetricCosine, document.MetricIP, document.MetricL2:
	default:
		return nil, fmt.Errorf("unknown metric: %s", metric)
	}
	return &MemoryIndex{dim: dim, metric: metric, entries: make(map[string]memEntry)}, nil
}

func (m *MemoryIndex) Dim() int { return m.dim }

func (m *MemoryIndex) Metric() document.Metric { return m.metric }

// Upsert 幂等写入：同 ID 覆盖为最新向量。任一条目维度不符则整批拒绝（不产生部分写入）。
func (m *MemoryIndex) Upsert(ctx context.Context, entries []repository.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("upsert entry missing ID")
		}
		if len(e.Vector) != m.dim {
			return fmt.Errorf("%w: id=%s got=%d want=%d", xerr.ErrDimensionMismatch, e.ID, len(e.Vector), m.dim)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		m.entries[e.ID] = memEntry{docID: e.DocID, vector: vec, content: e.Content, metadata: e.Metadata}
	}
	return nil
}

// Delete 按 ID 删除，不存在的 ID 为 no-op
func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// DeleteByDocIDs 删除归属指定文档的全部向量
func (m *MemoryIndex) DeleteByDocIDs(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(docIDs))
	for _, d := range docIDs {
		want[d] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if _, ok := want[e.docID]; ok {
			delete(m.entries, id)
		}
	}
	return nil
}

// Search 全量扫描后取 topK：得分降序，同分按向量 ID 升序（保证重复查询结果稳定）
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, topK int, filter repository.SearchFilter) ([]document.ScoredMatch, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK=%d", xerr.ErrBadQuery, topK)
	}
	if len(vector) != m.dim {
		return nil, fmt.Errorf("%w: got=%d want=%d", xerr.ErrDimensionMismatch, len(vector), m.dim)
	}

	type scored struct {
		id    string
		entry memEntry
		score float64
	}

	// defer 保证过滤或打分出现 panic 时读锁也能释放，不会卡死后续写入
	candidates := func() []scored {
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := make([]scored, 0, len(m.entries))
		for id, e := range m.entries {
			if !matchFilter(e.metadata, filter) {
				continue
			}
			out = append(out, scored{id: id, entry: e, score: similarity(m.metric, vector, e.vector)})
		}
		return out
	}()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]document.ScoredMatch, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, document.ScoredMatch{
			DocumentID: c.entry.docID,
			Score:      c.score,
			Payload: document.Payload{
				DocumentID: c.entry.docID,
				Content:    c.entry.content,
				Metadata:   c.entry.metadata,
			},
		})
	}
	return out, nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

func (m *MemoryIndex) Close() error { return nil }

// similarity 统一为“越大越相似”；cosine 在任一向量模长为 0 时定义为 0（不报错）
func similarity(metric document.Metric, a, b []float32) float64 {
	switch metric {
	case document.MetricCosine:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb))
	case document.MetricIP:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	default: // L2：距离 d 映射为 1/(1+d)
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return 1 / (1 + math.Sqrt(sum))
	}
}

// matchFilter 元数据等值过滤；数值类型做跨类型比较（int/float）
func matchFilter(meta document.Metadata, filter repository.SearchFilter) bool {
	if len(filter) == 0 {
		return true
	}
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || !eqScalar(got, want) {
			return false
		}
	}
	return true
}

// eqScalar 只比较标量类型；嵌套对象等不可比较的动态类型一律视为不匹配
// （对 interface 值直接用 == 会在 map/slice 上 panic）
func eqScalar(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
