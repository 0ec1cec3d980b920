package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowhub/search-go/internal/models"
)

func TestNewMilvusVectorStoreWithoutAddress(t *testing.T) {
	store, err := NewMilvusVectorStore(MilvusOptions{})
	require.NoError(t, err)
	assert.IsType(t, &NoopVectorStore{}, store)
}

func TestMilvusCollectionNamePerLanguage(t *testing.T) {
	store := &milvusVectorStore{collectionPrefix: "knowhub_vectors"}
	assert.Equal(t, "knowhub_vectors_ko", store.collectionName(models.LanguageKorean))
	assert.Equal(t, "knowhub_vectors_en", store.collectionName(models.LanguageEnglish))
}

func TestBuildMilvusFilter(t *testing.T) {
	assert.Equal(t, "", buildMilvusFilter(models.SearchFilters{}))

	expr := buildMilvusFilter(models.SearchFilters{
		CategoryIDs:  []string{"guides", "faq"},
		ContentTypes: []string{"article"},
	})
	assert.Equal(t, `category_id in ["guides", "faq"] && content_type in ["article"]`, expr)

	// 标签不下推，交集判断在取回后进行
	assert.Equal(t, "", buildMilvusFilter(models.SearchFilters{Tags: []string{"search"}}))
}

func TestMilvusTagRoundTrip(t *testing.T) {
	assert.Nil(t, splitTags(""))
	assert.Equal(t, []string{"search", "guide"}, splitTags("search,guide"))

	assert.True(t, tagsIntersect([]string{"search", "guide"}, []string{"guide"}))
	assert.False(t, tagsIntersect([]string{"search"}, []string{"faq"}))
	assert.False(t, tagsIntersect(nil, []string{"faq"}))
}
