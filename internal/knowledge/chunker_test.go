package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerShortText(t *testing.T) {
	chunker := NewChunker(512, 64)

	chunks := chunker.Split("짧은 문서입니다")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, "짧은 문서입니다", chunks[0].Text)
}

func TestChunkerOverlap(t *testing.T) {
	chunker := NewChunker(10, 4)

	text := strings.Repeat("abcde ", 10)
	chunks := chunker.Split(text)
	require.Greater(t, len(chunks), 1)

	// 相邻块必须按 size-overlap 步长推进
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].Start+6, chunks[i].Start)
		assert.Equal(t, i, chunks[i].Index)
	}
}

func TestChunkerDeterministic(t *testing.T) {
	chunker := NewChunker(32, 8)
	text := "하이브리드 검색 엔진은 어휘 검색과 벡터 검색을 결합합니다. " + strings.Repeat("문서 내용 ", 20)

	first := chunker.Split(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, chunker.Split(text))
	}
}

func TestChunkerEmptyInput(t *testing.T) {
	chunker := NewChunker(512, 64)

	assert.Nil(t, chunker.Split(""))
	assert.Nil(t, chunker.Split("   \n\t  "))
}

func TestChunkerWhitespaceCollapse(t *testing.T) {
	chunker := NewChunker(512, 64)

	chunks := chunker.Split("hello   world\n\nsecond   line")
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world second line", chunks[0].Text)
}
