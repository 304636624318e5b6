package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"VectorLink/pkg/xerr"

	"github.com/cloudwego/eino/components/embedding"
)

// Result 单条文本的向量化结果
//
// Truncated 为 true 表示输入超出模型长度预算，已被确定性截断（保留前缀），
// 调用方据此知情，而不是被静默丢内容。
type Result struct {
	Vector    []float32
	Truncated bool
}

// TextEmbedder 文本向量化的内部统一接口
//
// EmbedTexts 按输入顺序逐条返回结果；对固定的模型版本，同一文本必须得到
// 一致的向量（可复现检索的前提）。
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([]Result, error)
	Dim() int
}

// ProviderFactory 延迟创建底层 eino Embedder（首次调用时才加载模型/建连）
type ProviderFactory func(ctx context.Context) (embedding.Embedder, error)

// GuardedEmbedder 对底层 provider 的防护包装
//
// 职责：
// 1) 空文本/纯空白文本直接拒绝（ErrEmptyInput），不让无意义向量污染索引；
// 2) 超长输入按 rune 从尾部截断并打标，不静默丢弃；
// 3) 模型句柄惰性初始化、进程内只加载一次（sync.Once）；
// 4) 底层库不保证并发安全时，通过 serialize 在内部串行化，不把约束暴露给调用方。
type GuardedEmbedder struct {
	factory   ProviderFactory
	dim       int
	maxRunes  int
	serialize bool

	callMu   sync.Mutex
	initOnce sync.Once
	provider embedding.Embedder
	initErr  error
}

func NewGuardedEmbedder(factory ProviderFactory, dim, maxRunes int, serialize bool) *GuardedEmbedder {
	if maxRunes <= 0 {
		maxRunes = 8192
	}
	return &GuardedEmbedder{factory: factory, dim: dim, maxRunes: maxRunes, serialize: serialize}
}

func (g *GuardedEmbedder) Dim() int { return g.dim }

// EmbedTexts 批量向量化，结果与输入一一对应、顺序一致
func (g *GuardedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return []Result{}, nil
	}

	// 1. 入参防护：空文本拒绝，超长截断
	prepared := make([]string, len(texts))
	truncated := make([]bool, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: index=%d", xerr.ErrEmptyInput, i)
		}
		runes := []rune(t)
		if len(runes) > g.maxRunes {
			prepared[i] = string(runes[:g.maxRunes])
			truncated[i] = true
		} else {
			prepared[i] = t
		}
	}

	// 2. 惰性初始化模型句柄（进程内只加载一次，除非进程重启）
	g.initOnce.Do(func() {
		g.provider, g.initErr = g.factory(ctx)
	})
	if g.initErr != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrEmbedderInit, g.initErr)
	}

	// 3. 调用底层 provider（必要时串行化）
	if g.serialize {
		g.callMu.Lock()
		defer g.callMu.Unlock()
	}
	vecs, err := g.provider.EmbedStrings(ctx, prepared)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding result count mismatch: got=%d want=%d", len(vecs), len(texts))
	}

	// 4. float64 → float32，维度校验
	out := make([]Result, len(vecs))
	for i, v64 := range vecs {
		if g.dim > 0 && len(v64) != g.dim {
			return nil, fmt.Errorf("%w: got=%d want=%d", xerr.ErrDimensionMismatch, len(v64), g.dim)
		}
		v32 := make([]float32, len(v64))
		for j := range v64 {
			v32[j] = float32(v64[j])
		}
		out[i] = Result{Vector: v32, Truncated: truncated[i]}
	}
	return out, nil
}

// EmbedText 单条便捷入口
func (g *GuardedEmbedder) EmbedText(ctx context.Context, text string) (Result, error) {
	rs, err := g.EmbedTexts(ctx, []string{text})
	if err != nil {
		return Result{}, err
	}
	return rs[0], nil
}
