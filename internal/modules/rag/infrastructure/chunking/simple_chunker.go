package chunking

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

// SimpleChunker 将长文本切分为固定大小、带重叠的片段
//
// 两种模式：默认按 rune 定长滑窗；useRecursive 时走递归分隔符切分
// （优先在段落/句子边界断开）。同一配置下切分结果确定。
type SimpleChunker struct {
	ChunkSize    int
	ChunkOverlap int
	useRecursive bool

	initOnce      sync.Once
	initErr       error
	recursiveImpl document.Transformer
}

// NewSimpleChunker 创建定长切片器；overlap 不合法时回退为 size/2
func NewSimpleChunker(size, overlap int) *SimpleChunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &SimpleChunker{ChunkSize: size, ChunkOverlap: overlap}
}

func NewRecursiveChunker(size, overlap int) *SimpleChunker {
	c := NewSimpleChunker(size, overlap)
	c.useRecursive = true
	return c
}

// Chunk 基于 rune 数量切分，多字节字符（中文等）不会被截断
//
// 不超过 ChunkSize 的文本原样返回单个片段。
func (c *SimpleChunker) Chunk(text string) []string {
	if text == "" {
		return []string{}
	}

	runes := []rune(text)
	totalLen := len(runes)
	if totalLen <= c.ChunkSize {
		return []string{text}
	}

	step := c.ChunkSize - c.ChunkOverlap
	// 构造函数已保证 step > 0，这里兜底防止窗口无法推进
	if step <= 0 {
		step = 1
	}

	var chunks []string
	for i := 0; i < totalLen; i += step {
		end := i + c.ChunkSize
		if end > totalLen {
			end = totalLen
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == totalLen {
			break
		}
	}
	return chunks
}

// ChunkText 按配置模式切分单段文本：递归模式优先在段落/句子边界断开，
// 否则退回 rune 滑窗。摄取 Pipeline 统一走这个入口。
func (c *SimpleChunker) ChunkText(ctx context.Context, text string) ([]string, error) {
	if !c.useRecursive {
		return c.Chunk(text), nil
	}
	if text == "" {
		return []string{}, nil
	}
	return c.splitRecursive(ctx, text)
}

// splitRecursive 惰性初始化递归切分器并切分文本
func (c *SimpleChunker) splitRecursive(ctx context.Context, text string) ([]string, error) {
	c.initOnce.Do(func() {
		impl, err := recursive.NewSplitter(ctx, &recursive.Config{
			ChunkSize:   c.ChunkSize,
			OverlapSize: c.ChunkOverlap,
			Separators:  []string{"\n\n", "\n", "。", "！", "？", "；", "，", " "},
			LenFunc: func(s string) int {
				return len([]rune(s))
			},
			KeepType: recursive.KeepTypeEnd,
		})
		if err != nil {
			c.initErr = err
			return
		}
		c.recursiveImpl = impl
	})
	if c.initErr != nil {
		return nil, c.initErr
	}
	if c.recursiveImpl == nil {
		return nil, fmt.Errorf("recursive splitter not initialized")
	}

	frags, err := c.recursiveImpl.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(frags))
	for _, f := range frags {
		if f == nil || f.Content == "" {
			continue
		}
		out = append(out, f.Content)
	}
	return out, nil
}

// ChunkDocuments 切分 eino 文档并继承元数据，每个片段带 chunk_index
func (c *SimpleChunker) ChunkDocuments(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error) {
	if len(docs) == 0 {
		return []*schema.Document{}, nil
	}

	out := make([]*schema.Document, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		frags, err := c.ChunkText(ctx, d.Content)
		if err != nil {
			return nil, err
		}
		for i, p := range frags {
			out = append(out, inherit(d, p, i))
		}
	}
	return out, nil
}

func inherit(src *schema.Document, content string, idx int) *schema.Document {
	n := &schema.Document{Content: content, MetaData: map[string]any{}}
	for k, v := range src.MetaData {
		n.MetaData[k] = v
	}
	n.MetaData["chunk_index"] = idx
	return n
}
