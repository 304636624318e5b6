package vectordb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/domain/repository"
	"VectorLink/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T, metric document.Metric) *MemoryIndex {
	t.Helper()
	idx, err := NewMemoryIndex(3, metric)
	require.NoError(t, err)
	return idx
}

func entry(id string, vec []float32) repository.VectorEntry {
	return repository.VectorEntry{ID: id, DocID: id, Vector: vec, Content: "text " + id}
}

func TestMemoryIndex_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, document.MetricCosine)

	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{entry("a", []float32{1, 0, 0})}))
	before, err := idx.Count(ctx)
	require.NoError(t, err)

	// 同 ID 再次写入：数量不变，检索命中最新向量
	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{entry("a", []float32{0, 1, 0})}))
	after, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	hits, err := idx.Search(ctx, []float32{0, 1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestMemoryIndex_DeleteMissingIDIsNoop(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, document.MetricCosine)

	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{entry("a", []float32{1, 0, 0})}))
	require.NoError(t, idx.Delete(ctx, []string{"missing"}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, idx.Delete(ctx, []string{"a"}))
	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, document.MetricCosine)

	err := idx.Upsert(ctx, []repository.VectorEntry{entry("a", []float32{1, 0})})
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.ErrDimensionMismatch))

	// 单次操作失败不影响集合本身
	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{entry("a", []float32{1, 0, 0})}))
	_, err = idx.Search(ctx, []float32{1, 0}, 1, nil)
	assert.True(t, errors.Is(err, xerr.ErrDimensionMismatch))
}

func TestMemoryIndex_SearchDeterministicOrdering(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, document.MetricCosine)

	// b 与 c 与查询向量同分，必须按 id 升序稳定排列
	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{
		entry("c", []float32{0, 1, 0}),
		entry("b", []float32{0, 1, 0}),
		entry("a", []float32{1, 0, 0}),
	}))

	first, err := idx.Search(ctx, []float32{0, 1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "b", first[0].DocumentID)
	assert.Equal(t, "c", first[1].DocumentID)

	// 集合不变时重复查询结果必须逐条一致
	for i := 0; i < 10; i++ {
		again, err := idx.Search(ctx, []float32{0, 1, 0}, 3, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMemoryIndex_SearchReturnsAllWhenFewerThanK(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, document.MetricCosine)

	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{
		entry("a", []float32{1, 0, 0}),
		entry("b", []float32{0, 1, 0}),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestMemoryIndex_ZeroVectorCosineIsZeroNotError(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, document.MetricCosine)

	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{entry("a", []float32{0, 0, 0})}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0.0, hits[0].Score)

	hits, err = idx.Search(ctx, []float32{0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0.0, hits[0].Score)
}

func TestMemoryIndex_L2ScoreMonotonicity(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, document.MetricL2)

	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{
		entry("near", []float32{1, 0, 0}),
		entry("far", []float32{5, 5, 5}),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].DocumentID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6) // 距离 0 → 得分 1
}

func TestMemoryIndex_MetadataFilter(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, document.MetricCosine)

	e1 := entry("a", []float32{1, 0, 0})
	e1.Metadata = document.Metadata{"tenant": "t1", "lang": "zh"}
	e2 := entry("b", []float32{1, 0, 0})
	e2.Metadata = document.Metadata{"tenant": "t2", "lang": "zh"}
	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{e1, e2}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 10, repository.SearchFilter{"tenant": "t1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].DocumentID)

	// 数值跨类型等值
	e3 := entry("c", []float32{1, 0, 0})
	e3.Metadata = document.Metadata{"version": 2}
	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{e3}))
	hits, err = idx.Search(ctx, []float32{1, 0, 0}, 10, repository.SearchFilter{"version": float64(2)})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].DocumentID)
}

func TestMemoryIndex_NonScalarFilterValueIsNoMatch(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, document.MetricCosine)

	e := entry("a", []float32{1, 0, 0})
	e.Metadata = document.Metadata{"tags": "x"}
	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{e}))

	// 过滤值是嵌套对象：视为不匹配而不是 panic
	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 5, repository.SearchFilter{
		"tags": map[string]any{"nested": true},
	})
	require.NoError(t, err)
	assert.Empty(t, hits)

	// 元数据侧是不可比较类型同样只是不匹配
	e2 := entry("b", []float32{1, 0, 0})
	e2.Metadata = document.Metadata{"tags": []any{"x"}}
	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{e2}))
	hits, err = idx.Search(ctx, []float32{1, 0, 0}, 5, repository.SearchFilter{"tags": "x"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].DocumentID)

	// 检索之后写入必须畅通：读锁已释放
	done := make(chan error, 1)
	go func() {
		done <- idx.Upsert(ctx, []repository.VectorEntry{entry("c", []float32{0, 1, 0})})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("upsert blocked after filtered search")
	}
}

func TestMemoryIndex_DeleteByDocIDs(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, document.MetricCosine)

	// 一个文档多个 chunk
	c1 := repository.VectorEntry{ID: "d1#0", DocID: "d1", Vector: []float32{1, 0, 0}}
	c2 := repository.VectorEntry{ID: "d1#1", DocID: "d1", Vector: []float32{0, 1, 0}}
	c3 := repository.VectorEntry{ID: "d2#0", DocID: "d2", Vector: []float32{0, 0, 1}}
	require.NoError(t, idx.Upsert(ctx, []repository.VectorEntry{c1, c2, c3}))

	require.NoError(t, idx.DeleteByDocIDs(ctx, []string{"d1"}))
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryIndex_ConcurrentReadWrite(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, document.MetricCosine)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = idx.Upsert(ctx, []repository.VectorEntry{entry(fmt.Sprintf("w%d-%d", w, i), []float32{1, 0, 0})})
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				hits, err := idx.Search(ctx, []float32{1, 0, 0}, 5, nil)
				assert.NoError(t, err)
				// 读者永远看不到写了一半的向量：命中向量必然完整、得分合法
				for _, h := range hits {
					assert.False(t, h.Score > 1.0001)
				}
			}
		}()
	}
	wg.Wait()
}
