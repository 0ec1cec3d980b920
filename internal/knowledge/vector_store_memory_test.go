package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowhub/search-go/internal/models"
)

func vectorChunk(docID string, vec []float32) VectorChunk {
	return VectorChunk{
		DocumentID: docID,
		Language:   models.LanguageEnglish,
		ChunkIndex: 0,
		Text:       "chunk text for " + docID,
		Vector:     NormalizeL2(vec),
		CategoryID: "guides",
		Tags:       []string{"search"},
		UpdatedAt:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMemoryVectorStoreSearchOrdering(t *testing.T) {
	store := NewMemoryVectorStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertDocument(ctx, "doc-1", models.LanguageEnglish, []VectorChunk{
		vectorChunk("doc-1", []float32{1, 0, 0}),
	}))
	require.NoError(t, store.UpsertDocument(ctx, "doc-2", models.LanguageEnglish, []VectorChunk{
		vectorChunk("doc-2", []float32{0.5, 0.5, 0}),
	}))

	query := NormalizeL2([]float32{1, 0, 0})
	matches, err := store.Search(ctx, VectorQuery{
		Language: models.LanguageEnglish,
		Vector:   query,
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc-1", matches[0].DocumentID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestMemoryVectorStoreBestChunkPerDocument(t *testing.T) {
	store := NewMemoryVectorStore()
	ctx := context.Background()

	far := vectorChunk("doc-1", []float32{0, 1, 0})
	near := vectorChunk("doc-1", []float32{1, 0, 0})
	near.ChunkIndex = 1
	require.NoError(t, store.UpsertDocument(ctx, "doc-1", models.LanguageEnglish, []VectorChunk{far, near}))

	matches, err := store.Search(ctx, VectorQuery{
		Language: models.LanguageEnglish,
		Vector:   NormalizeL2([]float32{1, 0, 0}),
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
}

func TestMemoryVectorStoreFilters(t *testing.T) {
	store := NewMemoryVectorStore()
	ctx := context.Background()

	guide := vectorChunk("doc-1", []float32{1, 0, 0})
	faq := vectorChunk("doc-2", []float32{1, 0, 0})
	faq.CategoryID = "faq"
	require.NoError(t, store.UpsertDocument(ctx, "doc-1", models.LanguageEnglish, []VectorChunk{guide}))
	require.NoError(t, store.UpsertDocument(ctx, "doc-2", models.LanguageEnglish, []VectorChunk{faq}))

	matches, err := store.Search(ctx, VectorQuery{
		Language: models.LanguageEnglish,
		Vector:   NormalizeL2([]float32{1, 0, 0}),
		Filters:  models.SearchFilters{CategoryIDs: []string{"faq"}},
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "doc-2", matches[0].DocumentID)
}

func TestMemoryVectorStoreDelete(t *testing.T) {
	store := NewMemoryVectorStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertDocument(ctx, "doc-1", models.LanguageEnglish, []VectorChunk{
		vectorChunk("doc-1", []float32{1, 0, 0}),
	}))
	require.NoError(t, store.DeleteDocument(ctx, "doc-1"))

	matches, err := store.Search(ctx, VectorQuery{
		Language: models.LanguageEnglish,
		Vector:   NormalizeL2([]float32{1, 0, 0}),
		Limit:    10,
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}
