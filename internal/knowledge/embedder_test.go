package knowledge

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/knowhub/search-go/internal/errors"
)

func TestLocalEmbedderDeterministic(t *testing.T) {
	embedder := NewLocalEmbedder(768)
	ctx := context.Background()

	first, err := embedder.Embed(ctx, "하이브리드 검색 엔진")
	require.NoError(t, err)
	require.Len(t, first, 768)

	for i := 0; i < 5; i++ {
		again, err := embedder.Embed(ctx, "하이브리드 검색 엔진")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestLocalEmbedderNormalized(t *testing.T) {
	embedder := NewLocalEmbedder(256)

	vec, err := embedder.Embed(context.Background(), "database indexing performance tuning")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestLocalEmbedderSelfSimilarity(t *testing.T) {
	embedder := NewLocalEmbedder(768)
	ctx := context.Background()

	a, err := embedder.Embed(ctx, "검색 엔진 아키텍처")
	require.NoError(t, err)
	b, err := embedder.Embed(ctx, "검색 엔진 아키텍처")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, Dot(a, b), 1e-5)
}

func TestLocalEmbedderEmptyText(t *testing.T) {
	embedder := NewLocalEmbedder(768)

	_, err := embedder.Embed(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMalformedQuery))
}

func TestNoopEmbedderUnavailable(t *testing.T) {
	embedder := &NoopEmbedder{}

	assert.False(t, embedder.Ready())
	_, err := embedder.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEmbeddingUnavailable))
}

func TestNormalizeL2ZeroVector(t *testing.T) {
	vec := []float32{0, 0, 0}
	assert.Equal(t, vec, NormalizeL2(vec))
}
