package knowledge

import (
	"context"
	"time"

	"github.com/knowhub/search-go/internal/models"
)

// VectorChunk 向量库中的一个分块向量
// 过滤与排序所需的元数据随向量一起落库
type VectorChunk struct {
	DocumentID  string
	Language    models.Language
	ChunkIndex  int
	Start       int
	End         int
	Text        string
	Vector      []float32
	CategoryID  string
	Tags        []string
	ContentType string
	UpdatedAt   time.Time
}

// VectorQuery 向量检索请求
type VectorQuery struct {
	Language models.Language
	Vector   []float32
	Filters  models.SearchFilters
	Limit    int
}

// VectorMatch 向量检索结果，按文档聚合后取最优分块
type VectorMatch struct {
	DocumentID  string
	Score       float64
	Snippet     string
	CategoryID  string
	Tags        []string
	ContentType string
	UpdatedAt   time.Time
}

// VectorStore 向量存储抽象
type VectorStore interface {
	UpsertDocument(ctx context.Context, documentID string, lang models.Language, chunks []VectorChunk) error
	DeleteDocument(ctx context.Context, documentID string) error
	Search(ctx context.Context, q VectorQuery) ([]VectorMatch, error)
	Ready() bool
}

// NoopVectorStore 默认占位实现
type NoopVectorStore struct{}

func (n *NoopVectorStore) UpsertDocument(ctx context.Context, documentID string, lang models.Language, chunks []VectorChunk) error {
	return nil
}

func (n *NoopVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	return nil
}

func (n *NoopVectorStore) Search(ctx context.Context, q VectorQuery) ([]VectorMatch, error) {
	return nil, nil
}

func (n *NoopVectorStore) Ready() bool {
	return false
}
