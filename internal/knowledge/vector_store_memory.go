package knowledge

import (
	"context"
	"sort"
	"sync"

	"github.com/knowhub/search-go/internal/models"
)

// MemoryVectorStore 内存向量存储
// 暴力点积检索，用于降级模式和测试
type MemoryVectorStore struct {
	mu sync.RWMutex

	// documentID -> language -> chunks
	chunks map[string]map[models.Language][]VectorChunk
}

// NewMemoryVectorStore 创建内存向量存储
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		chunks: make(map[string]map[models.Language][]VectorChunk),
	}
}

func (m *MemoryVectorStore) UpsertDocument(ctx context.Context, documentID string, lang models.Language, chunks []VectorChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byLang, ok := m.chunks[documentID]
	if !ok {
		byLang = make(map[models.Language][]VectorChunk)
		m.chunks[documentID] = byLang
	}
	copied := make([]VectorChunk, len(chunks))
	copy(copied, chunks)
	byLang[lang] = copied
	return nil
}

func (m *MemoryVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, documentID)
	return nil
}

func (m *MemoryVectorStore) Search(ctx context.Context, q VectorQuery) ([]VectorMatch, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]VectorMatch, 0)
	for docID, byLang := range m.chunks {
		chunks := byLang[q.Language]
		if len(chunks) == 0 {
			continue
		}
		if !chunkVisible(chunks[0], q.Filters) {
			continue
		}
		best := VectorMatch{DocumentID: docID, Score: -2}
		for _, chunk := range chunks {
			score := Dot(q.Vector, chunk.Vector)
			if score > best.Score {
				best.Score = score
				best.Snippet = snippetOf(chunk.Text)
				best.CategoryID = chunk.CategoryID
				best.Tags = chunk.Tags
				best.ContentType = chunk.ContentType
				best.UpdatedAt = chunk.UpdatedAt
			}
		}
		matches = append(matches, best)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if !matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
		}
		return matches[i].DocumentID < matches[j].DocumentID
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

func (m *MemoryVectorStore) Ready() bool {
	return true
}

func chunkVisible(chunk VectorChunk, filters models.SearchFilters) bool {
	if len(filters.CategoryIDs) > 0 && !containsString(filters.CategoryIDs, chunk.CategoryID) {
		return false
	}
	if len(filters.ContentTypes) > 0 && !containsString(filters.ContentTypes, chunk.ContentType) {
		return false
	}
	if len(filters.Tags) > 0 && !tagsIntersect(chunk.Tags, filters.Tags) {
		return false
	}
	return true
}

var _ VectorStore = (*MemoryVectorStore)(nil)
