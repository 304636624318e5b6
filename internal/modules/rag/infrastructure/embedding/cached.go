package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedEmbedder 带 TTL 的向量结果缓存
//
// 缓存键为文本的 sha256，命中即跳过底层调用；只有底层成功返回的结果才会入缓存，
// 因此空文本、维度错误等失败不会被缓存污染。
type CachedEmbedder struct {
	inner TextEmbedder
	cache *gocache.Cache
}

func NewCachedEmbedder(inner TextEmbedder, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *CachedEmbedder) Dim() int { return c.inner.Dim() }

func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return []Result{}, nil
	}

	out := make([]Result, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))
	keys := make([]string, len(texts))

	// 1. 查缓存，收集未命中
	for i, t := range texts {
		keys[i] = cacheKey(t)
		if v, ok := c.cache.Get(keys[i]); ok {
			out[i] = v.(Result)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	// 2. 未命中的走底层，成功后回填缓存
	rs, err := c.inner.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = rs[j]
		c.cache.SetDefault(keys[i], rs[j])
	}
	return out, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
