package knowledge

import (
	"context"
	"time"

	"github.com/knowhub/search-go/internal/models"
)

// LexicalQuery 词法检索请求
// Tokens 必须来自语言处理器，与索引侧分词完全一致
type LexicalQuery struct {
	Language models.Language
	Tokens   []string
	Filters  models.SearchFilters
	Limit    int
}

// LexicalMatch 词法检索结果
type LexicalMatch struct {
	DocumentID  string
	Score       float64
	Snippet     string
	CategoryID  string
	Tags        []string
	ContentType string
	UpdatedAt   time.Time
}

// FulltextIndex 词法（全文）索引抽象
// 过滤条件在检索内部生效，候选集天然是过滤后的集合
type FulltextIndex interface {
	Upsert(ctx context.Context, entry models.IndexEntry) error
	Get(ctx context.Context, documentID string, lang models.Language) (*models.IndexEntry, error)
	CurrentRevision(ctx context.Context, documentID string) (int64, bool, error)
	// Tombstone 隐藏文档并把revision推进到删除事件的版本，
	// 迟到的旧版本upsert会被revision门槛拦下
	Tombstone(ctx context.Context, documentID string, revision int64) error
	Purge(ctx context.Context, documentID string) error
	Search(ctx context.Context, q LexicalQuery) ([]LexicalMatch, error)
	Recent(ctx context.Context, lang models.Language, filters models.SearchFilters, limit int) ([]LexicalMatch, error)
	Suggest(ctx context.Context, lang models.Language, prefix string, limit int) ([]string, error)
	Ready() bool
}

// NoopFulltextIndex 默认占位实现
type NoopFulltextIndex struct{}

func (n *NoopFulltextIndex) Upsert(ctx context.Context, entry models.IndexEntry) error {
	return nil
}

func (n *NoopFulltextIndex) Get(ctx context.Context, documentID string, lang models.Language) (*models.IndexEntry, error) {
	return nil, nil
}

func (n *NoopFulltextIndex) CurrentRevision(ctx context.Context, documentID string) (int64, bool, error) {
	return 0, false, nil
}

func (n *NoopFulltextIndex) Tombstone(ctx context.Context, documentID string, revision int64) error {
	return nil
}

func (n *NoopFulltextIndex) Purge(ctx context.Context, documentID string) error {
	return nil
}

func (n *NoopFulltextIndex) Search(ctx context.Context, q LexicalQuery) ([]LexicalMatch, error) {
	return nil, nil
}

func (n *NoopFulltextIndex) Recent(ctx context.Context, lang models.Language, filters models.SearchFilters, limit int) ([]LexicalMatch, error) {
	return nil, nil
}

func (n *NoopFulltextIndex) Suggest(ctx context.Context, lang models.Language, prefix string, limit int) ([]string, error) {
	return nil, nil
}

func (n *NoopFulltextIndex) Ready() bool {
	return false
}
