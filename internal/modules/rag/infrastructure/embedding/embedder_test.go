package embedding

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"VectorLink/pkg/xerr"

	einoembed "github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder 记录底层调用次数的假 provider
type countingEmbedder struct {
	dim       int
	calls     int32
	lastTexts []string
}

func (f *countingEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...einoembed.Option) ([][]float64, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastTexts = texts
	out := make([][]float64, len(texts))
	for i := range texts {
		v := make([]float64, f.dim)
		v[0] = float64(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

func newGuarded(f *countingEmbedder, maxRunes int) *GuardedEmbedder {
	return NewGuardedEmbedder(func(ctx context.Context) (einoembed.Embedder, error) {
		return f, nil
	}, f.dim, maxRunes, false)
}

func TestGuardedEmbedder_RejectsEmptyInput(t *testing.T) {
	g := newGuarded(&countingEmbedder{dim: 4}, 0)

	_, err := g.EmbedText(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.ErrEmptyInput))

	_, err = g.EmbedTexts(context.Background(), []string{"ok", "   \t\n"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.ErrEmptyInput))
}

func TestGuardedEmbedder_TruncatesLongInput(t *testing.T) {
	f := &countingEmbedder{dim: 4}
	g := NewGuardedEmbedder(func(ctx context.Context) (einoembed.Embedder, error) {
		return f, nil
	}, 4, 100, false)

	// 10 万字符的输入不报错，按 rune 截断并打标
	long := strings.Repeat("知", 100000)
	r, err := g.EmbedText(context.Background(), long)
	require.NoError(t, err)
	assert.True(t, r.Truncated)
	assert.Len(t, r.Vector, 4)
	assert.Len(t, []rune(f.lastTexts[0]), 100)

	short, err := g.EmbedText(context.Background(), "短文本")
	require.NoError(t, err)
	assert.False(t, short.Truncated)
}

func TestGuardedEmbedder_LazyInitOnce(t *testing.T) {
	var inits int32
	f := &countingEmbedder{dim: 4}
	g := NewGuardedEmbedder(func(ctx context.Context) (einoembed.Embedder, error) {
		atomic.AddInt32(&inits, 1)
		return f, nil
	}, 4, 0, false)

	assert.Equal(t, int32(0), atomic.LoadInt32(&inits))
	for i := 0; i < 3; i++ {
		_, err := g.EmbedText(context.Background(), "hello")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&inits))
}

func TestGuardedEmbedder_InitFailureSurfaced(t *testing.T) {
	g := NewGuardedEmbedder(func(ctx context.Context) (einoembed.Embedder, error) {
		return nil, errors.New("model load failed")
	}, 4, 0, false)

	_, err := g.EmbedText(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.ErrEmbedderInit))
}

func TestGuardedEmbedder_DimensionMismatchFromProvider(t *testing.T) {
	f := &countingEmbedder{dim: 3}
	g := NewGuardedEmbedder(func(ctx context.Context) (einoembed.Embedder, error) {
		return f, nil
	}, 4, 0, false)

	_, err := g.EmbedText(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.ErrDimensionMismatch))
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedder(64)
	ctx := context.Background()

	a, err := m.EmbedStrings(ctx, []string{"流感症状包括发烧"})
	require.NoError(t, err)
	b, err := m.EmbedStrings(ctx, []string{"流感症状包括发烧"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMockEmbedder_OverlapScoresHigher(t *testing.T) {
	m := NewMockEmbedder(64)
	ctx := context.Background()

	vecs, err := m.EmbedStrings(ctx, []string{
		"remedy for fever",
		"flu symptoms include fever and cough",
		"train ticket to Shimla",
	})
	require.NoError(t, err)

	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated)
	assert.InDelta(t, 0, unrelated, 1e-9)
}

func cosine(a, b []float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot // mock 向量已归一化
}

func TestCachedEmbedder_HitSkipsProvider(t *testing.T) {
	f := &countingEmbedder{dim: 4}
	c := NewCachedEmbedder(newGuarded(f, 0), time.Minute)
	ctx := context.Background()

	first, err := c.EmbedTexts(ctx, []string{"hello"})
	require.NoError(t, err)
	second, err := c.EmbedTexts(ctx, []string{"hello"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
}

func TestCachedEmbedder_PartialHitOnlyEmbedsMisses(t *testing.T) {
	f := &countingEmbedder{dim: 4}
	c := NewCachedEmbedder(newGuarded(f, 0), time.Minute)
	ctx := context.Background()

	_, err := c.EmbedTexts(ctx, []string{"a1"})
	require.NoError(t, err)

	out, err := c.EmbedTexts(ctx, []string{"a1", "b22"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	// 第二次调用只把 b22 送到底层
	assert.Equal(t, []string{"b22"}, f.lastTexts)
	assert.Equal(t, float64(2), float64(out[0].Vector[0]))
	assert.Equal(t, float64(3), float64(out[1].Vector[0]))
}

func TestCachedEmbedder_ErrorNotCached(t *testing.T) {
	f := &countingEmbedder{dim: 4}
	c := NewCachedEmbedder(newGuarded(f, 0), time.Minute)
	ctx := context.Background()

	_, err := c.EmbedTexts(ctx, []string{""})
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.ErrEmptyInput))
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.calls))
}
