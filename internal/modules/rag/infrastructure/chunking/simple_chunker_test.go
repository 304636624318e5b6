package chunking

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_ShortTextSinglePiece(t *testing.T) {
	c := NewSimpleChunker(100, 10)
	out := c.Chunk("短文本")
	require.Len(t, out, 1)
	assert.Equal(t, "短文本", out[0])
}

func TestChunk_EmptyTextNoChunks(t *testing.T) {
	c := NewSimpleChunker(100, 10)
	assert.Empty(t, c.Chunk(""))
}

func TestChunk_OverlapAndCoverage(t *testing.T) {
	c := NewSimpleChunker(10, 3)
	text := strings.Repeat("abcdefghij", 5)

	chunks := c.Chunk(text)
	require.Greater(t, len(chunks), 1)

	// 每个片段不超过 ChunkSize，相邻片段之间有 overlap 个字符重叠
	for i, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch)), 10)
		if i > 0 {
			prev := []rune(chunks[i-1])
			cur := []rune(ch)
			assert.Equal(t, string(prev[len(prev)-3:]), string(cur[:3]))
		}
	}

	// 拼接去重叠后必须还原原文（无丢失）
	var rebuilt strings.Builder
	for i, ch := range chunks {
		r := []rune(ch)
		if i == 0 {
			rebuilt.WriteString(ch)
		} else {
			rebuilt.WriteString(string(r[3:]))
		}
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestChunk_CJKRuneSafe(t *testing.T) {
	c := NewSimpleChunker(4, 1)
	text := "今天天气很好适合出门散步"

	for _, ch := range c.Chunk(text) {
		// 多字节字符不被截成半个
		assert.True(t, utf8.ValidString(ch))
		assert.LessOrEqual(t, len([]rune(ch)), 4)
	}
}

func TestChunk_Deterministic(t *testing.T) {
	c := NewSimpleChunker(7, 2)
	text := "the quick brown fox jumps over the lazy dog"

	first := c.Chunk(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Chunk(text))
	}
}

func TestChunkText_FixedModeMatchesChunk(t *testing.T) {
	c := NewSimpleChunker(10, 3)
	text := strings.Repeat("abcdefghij", 3)

	out, err := c.ChunkText(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, c.Chunk(text), out)
}

func TestChunkText_RecursiveBreaksAtSentenceBoundary(t *testing.T) {
	c := NewRecursiveChunker(20, 0)
	text := "第一句讲流感的常见症状。第二句讲发烧的处理办法。第三句讲什么时候需要就医。"

	chunks, err := c.ChunkText(context.Background(), text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// 在句号处断开而不是切在句子中间
	for i, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch)), 20)
		if i < len(chunks)-1 {
			assert.True(t, strings.HasSuffix(ch, "。"), "chunk %d should end at sentence boundary: %q", i, ch)
		}
	}
}

func TestChunkText_RecursiveEmptyTextNoChunks(t *testing.T) {
	c := NewRecursiveChunker(20, 0)
	out, err := c.ChunkText(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestChunkDocuments_InheritsMetadata(t *testing.T) {
	c := NewSimpleChunker(5, 0)
	docs := []*schema.Document{
		{Content: "aaaaabbbbbccccc", MetaData: map[string]any{"lang": "en"}},
	}

	out, err := c.ChunkDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, d := range out {
		assert.Equal(t, "en", d.MetaData["lang"])
		assert.Equal(t, i, d.MetaData["chunk_index"])
	}
}
