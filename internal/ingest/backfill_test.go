package ingest

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/knowhub/search-go/internal/knowledge"
	"github.com/knowhub/search-go/internal/language"
	"github.com/knowhub/search-go/internal/models"
)

type memoryBackfillStore struct {
	mu     sync.Mutex
	nextID uint
	items  map[uint]PendingEmbedding
}

func newMemoryBackfillStore() *memoryBackfillStore {
	return &memoryBackfillStore{items: make(map[uint]PendingEmbedding)}
}

func (m *memoryBackfillStore) Enqueue(ctx context.Context, pending PendingEmbedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	pending.ID = m.nextID
	m.items[pending.ID] = pending
	return nil
}

func (m *memoryBackfillStore) List(ctx context.Context, limit int) ([]PendingEmbedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingEmbedding, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memoryBackfillStore) Complete(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *memoryBackfillStore) Bump(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if ok {
		item.Attempts++
		m.items[id] = item
	}
	return nil
}

func (m *memoryBackfillStore) Remove(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.items {
		if item.DocumentID == documentID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *memoryBackfillStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func TestBackfillWorkerFillsMissingVectors(t *testing.T) {
	ctx := context.Background()
	index := knowledge.NewMemoryFulltextIndex()
	vectors := knowledge.NewMemoryVectorStore()
	store := newMemoryBackfillStore()
	processor := language.NewProcessor()

	// 降级条目：有词法部分，没有向量
	text := processor.Normalize("하이브리드 검색 엔진 문서", models.LanguageKorean)
	require.NoError(t, index.Upsert(ctx, models.IndexEntry{
		DocumentID:       "doc-1",
		Language:         models.LanguageKorean,
		Text:             text,
		Tokens:           processor.Tokenize(text, models.LanguageKorean),
		CategoryID:       "guides",
		Revision:         1,
		UpdatedAt:        time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Published:        true,
		PendingEmbedding: true,
	}))
	require.NoError(t, store.Enqueue(ctx, PendingEmbedding{DocumentID: "doc-1", Language: "ko", Revision: 1}))

	worker := NewBackfillWorker(store, index, vectors, knowledge.NewLocalEmbedder(64), knowledge.NewChunker(512, 64), time.Minute)
	worker.RunOnce(ctx)

	entry, err := index.Get(ctx, "doc-1", models.LanguageKorean)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.False(t, entry.PendingEmbedding)
	assert.NotEmpty(t, entry.Vectors)

	matches, err := vectors.Search(ctx, knowledge.VectorQuery{
		Language: models.LanguageKorean,
		Vector:   knowledge.NormalizeL2(make([]float32, 64)),
		Limit:    10,
	})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.Equal(t, 0, store.size())
}

func TestBackfillWorkerSkipsSupersededEntries(t *testing.T) {
	ctx := context.Background()
	index := knowledge.NewMemoryFulltextIndex()
	vectors := knowledge.NewMemoryVectorStore()
	store := newMemoryBackfillStore()

	// 索引里已是更高revision且不再处于降级态
	require.NoError(t, index.Upsert(ctx, models.IndexEntry{
		DocumentID: "doc-1",
		Language:   models.LanguageKorean,
		Text:       "개정된 문서",
		Tokens:     []string{"개정된", "문서"},
		Revision:   3,
		Published:  true,
	}))
	require.NoError(t, store.Enqueue(ctx, PendingEmbedding{DocumentID: "doc-1", Language: "ko", Revision: 1}))

	worker := NewBackfillWorker(store, index, vectors, knowledge.NewLocalEmbedder(64), knowledge.NewChunker(512, 64), time.Minute)
	worker.RunOnce(ctx)

	// 任务直接作废，不碰向量库
	assert.Equal(t, 0, store.size())
	matches, err := vectors.Search(ctx, knowledge.VectorQuery{
		Language: models.LanguageKorean,
		Vector:   knowledge.NormalizeL2(make([]float32, 64)),
		Limit:    10,
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestBackfillWorkerBumpsAttemptsOnFailure(t *testing.T) {
	ctx := context.Background()
	index := knowledge.NewMemoryFulltextIndex()
	store := newMemoryBackfillStore()

	require.NoError(t, index.Upsert(ctx, models.IndexEntry{
		DocumentID:       "doc-1",
		Language:         models.LanguageKorean,
		Text:             "검색 문서",
		Tokens:           []string{"검색", "문서"},
		Revision:         1,
		Published:        true,
		PendingEmbedding: true,
	}))
	require.NoError(t, store.Enqueue(ctx, PendingEmbedding{DocumentID: "doc-1", Language: "ko", Revision: 1}))

	worker := NewBackfillWorker(store, index, knowledge.NewMemoryVectorStore(), &flakyReadyEmbedder{}, knowledge.NewChunker(512, 64), time.Minute)
	worker.RunOnce(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.items, 1)
	for _, item := range store.items {
		assert.Equal(t, 1, item.Attempts)
	}
}

// flakyReadyEmbedder 自称就绪但每次调用都失败
type flakyReadyEmbedder struct{}

func (f *flakyReadyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, assert.AnError
}

func (f *flakyReadyEmbedder) Dimensions() int { return 64 }

func (f *flakyReadyEmbedder) Ready() bool { return true }

func newMockGormStore(t *testing.T) (*GormBackfillStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return &GormBackfillStore{db: db}, mock
}

func TestGormBackfillStoreList(t *testing.T) {
	store, mock := newMockGormStore(t)

	rows := sqlmock.NewRows([]string{"id", "document_id", "language", "revision", "attempts"}).
		AddRow(1, "doc-1", "ko", 2, 0).
		AddRow(2, "doc-1", "en", 2, 1)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "pending_embeddings"`)).
		WillReturnRows(rows)

	pending, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "doc-1", pending[0].DocumentID)
	assert.Equal(t, "ko", pending[0].Language)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormBackfillStoreRemove(t *testing.T) {
	store, mock := newMockGormStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "pending_embeddings"`)).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, store.Remove(context.Background(), "doc-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
