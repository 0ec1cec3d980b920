package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/knowhub/search-go/internal/models"
)

// memoryIndexDoc 内存索引中的单个文档条目
type memoryIndexDoc struct {
	entry     models.IndexEntry
	termFreqs map[string]int
	length    int
}

// MemoryFulltextIndex 基于倒排表的内存全文索引
// 用于降级模式和测试，打分采用 tf-idf
type MemoryFulltextIndex struct {
	mu sync.RWMutex

	// documentID -> language -> doc
	docs map[string]map[models.Language]*memoryIndexDoc
	// language -> term -> documentID 集合
	postings map[models.Language]map[string]map[string]struct{}
	// documentID -> 最新修订号（跨语言共享）
	revisions map[string]int64
	// 墓碑集合，命中即从检索结果中排除
	tombstones map[string]struct{}
}

// NewMemoryFulltextIndex 创建内存全文索引
func NewMemoryFulltextIndex() *MemoryFulltextIndex {
	return &MemoryFulltextIndex{
		docs:       make(map[string]map[models.Language]*memoryIndexDoc),
		postings:   make(map[models.Language]map[string]map[string]struct{}),
		revisions:  make(map[string]int64),
		tombstones: make(map[string]struct{}),
	}
}

func (m *MemoryFulltextIndex) Upsert(ctx context.Context, entry models.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removePostingsLocked(entry.DocumentID, entry.Language)

	tf := make(map[string]int, len(entry.Tokens))
	for _, tok := range entry.Tokens {
		tf[tok]++
	}
	byLang, ok := m.docs[entry.DocumentID]
	if !ok {
		byLang = make(map[models.Language]*memoryIndexDoc)
		m.docs[entry.DocumentID] = byLang
	}
	byLang[entry.Language] = &memoryIndexDoc{entry: entry, termFreqs: tf, length: len(entry.Tokens)}

	langPostings, ok := m.postings[entry.Language]
	if !ok {
		langPostings = make(map[string]map[string]struct{})
		m.postings[entry.Language] = langPostings
	}
	for term := range tf {
		ids, ok := langPostings[term]
		if !ok {
			ids = make(map[string]struct{})
			langPostings[term] = ids
		}
		ids[entry.DocumentID] = struct{}{}
	}

	m.revisions[entry.DocumentID] = entry.Revision
	delete(m.tombstones, entry.DocumentID)
	return nil
}

func (m *MemoryFulltextIndex) Get(ctx context.Context, documentID string, lang models.Language) (*models.IndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byLang, ok := m.docs[documentID]
	if !ok {
		return nil, nil
	}
	doc, ok := byLang[lang]
	if !ok {
		return nil, nil
	}
	entry := doc.entry
	return &entry, nil
}

func (m *MemoryFulltextIndex) CurrentRevision(ctx context.Context, documentID string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rev, ok := m.revisions[documentID]
	return rev, ok, nil
}

func (m *MemoryFulltextIndex) Tombstone(ctx context.Context, documentID string, revision int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[documentID]; !ok {
		if _, ok := m.revisions[documentID]; !ok {
			return nil
		}
	}
	m.tombstones[documentID] = struct{}{}
	if revision > m.revisions[documentID] {
		m.revisions[documentID] = revision
	}
	return nil
}

func (m *MemoryFulltextIndex) Purge(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byLang := m.docs[documentID]
	for lang := range byLang {
		m.removePostingsLocked(documentID, lang)
	}
	delete(m.docs, documentID)
	delete(m.revisions, documentID)
	delete(m.tombstones, documentID)
	return nil
}

func (m *MemoryFulltextIndex) Search(ctx context.Context, q LexicalQuery) ([]LexicalMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	langPostings := m.postings[q.Language]
	if langPostings == nil || len(q.Tokens) == 0 {
		return nil, nil
	}
	totalDocs := m.countVisibleLocked(q.Language)
	if totalDocs == 0 {
		return nil, nil
	}

	scores := make(map[string]float64)
	for _, term := range q.Tokens {
		ids := langPostings[term]
		if len(ids) == 0 {
			continue
		}
		idf := math.Log(1 + float64(totalDocs)/float64(len(ids)))
		for id := range ids {
			if !m.visibleLocked(id, q.Language, q.Filters) {
				continue
			}
			doc := m.docs[id][q.Language]
			tf := float64(doc.termFreqs[term]) / float64(doc.length)
			scores[id] += tf * idf
		}
	}

	matches := make([]LexicalMatch, 0, len(scores))
	for id, score := range scores {
		doc := m.docs[id][q.Language]
		matches = append(matches, LexicalMatch{
			DocumentID:  id,
			Score:       score,
			Snippet:     snippetOf(doc.entry.Text),
			CategoryID:  doc.entry.CategoryID,
			Tags:        doc.entry.Tags,
			ContentType: doc.entry.ContentType,
			UpdatedAt:   doc.entry.UpdatedAt,
		})
	}
	sortLexicalMatches(matches)
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

func (m *MemoryFulltextIndex) Recent(ctx context.Context, lang models.Language, filters models.SearchFilters, limit int) ([]LexicalMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]LexicalMatch, 0)
	for id, byLang := range m.docs {
		if !m.visibleLocked(id, lang, filters) {
			continue
		}
		doc := byLang[lang]
		matches = append(matches, LexicalMatch{
			DocumentID:  id,
			Snippet:     snippetOf(doc.entry.Text),
			CategoryID:  doc.entry.CategoryID,
			Tags:        doc.entry.Tags,
			ContentType: doc.entry.ContentType,
			UpdatedAt:   doc.entry.UpdatedAt,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
		}
		return matches[i].DocumentID < matches[j].DocumentID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *MemoryFulltextIndex) Suggest(ctx context.Context, lang models.Language, prefix string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	langPostings := m.postings[lang]
	if langPostings == nil || prefix == "" {
		return nil, nil
	}
	type candidate struct {
		term string
		df   int
	}
	candidates := make([]candidate, 0)
	for term, ids := range langPostings {
		if !strings.HasPrefix(term, prefix) {
			continue
		}
		visible := 0
		for id := range ids {
			if m.visibleLocked(id, lang, models.SearchFilters{}) {
				visible++
			}
		}
		if visible > 0 {
			candidates = append(candidates, candidate{term: term, df: visible})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].df != candidates[j].df {
			return candidates[i].df > candidates[j].df
		}
		return candidates[i].term < candidates[j].term
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	terms := make([]string, len(candidates))
	for i, c := range candidates {
		terms[i] = c.term
	}
	return terms, nil
}

func (m *MemoryFulltextIndex) Ready() bool {
	return true
}

func (m *MemoryFulltextIndex) removePostingsLocked(documentID string, lang models.Language) {
	byLang, ok := m.docs[documentID]
	if !ok {
		return
	}
	doc, ok := byLang[lang]
	if !ok {
		return
	}
	langPostings := m.postings[lang]
	for term := range doc.termFreqs {
		ids := langPostings[term]
		delete(ids, documentID)
		if len(ids) == 0 {
			delete(langPostings, term)
		}
	}
}

func (m *MemoryFulltextIndex) countVisibleLocked(lang models.Language) int {
	count := 0
	for id, byLang := range m.docs {
		if _, dead := m.tombstones[id]; dead {
			continue
		}
		if doc, ok := byLang[lang]; ok && doc.entry.Published {
			count++
		}
	}
	return count
}

// visibleLocked 判断文档在给定语言与过滤条件下是否可检索
func (m *MemoryFulltextIndex) visibleLocked(id string, lang models.Language, filters models.SearchFilters) bool {
	if _, dead := m.tombstones[id]; dead {
		return false
	}
	byLang, ok := m.docs[id]
	if !ok {
		return false
	}
	doc, ok := byLang[lang]
	if !ok || !doc.entry.Published {
		return false
	}
	if len(filters.CategoryIDs) > 0 && !containsString(filters.CategoryIDs, doc.entry.CategoryID) {
		return false
	}
	if len(filters.ContentTypes) > 0 && !containsString(filters.ContentTypes, doc.entry.ContentType) {
		return false
	}
	if len(filters.Tags) > 0 {
		matched := false
		for _, want := range filters.Tags {
			if containsString(doc.entry.Tags, want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func sortLexicalMatches(matches []LexicalMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if !matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
		}
		return matches[i].DocumentID < matches[j].DocumentID
	})
}

const snippetMaxRunes = 160

func snippetOf(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetMaxRunes {
		return text
	}
	return string(runes[:snippetMaxRunes]) + "..."
}

func containsString(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

var _ FulltextIndex = (*MemoryFulltextIndex)(nil)
