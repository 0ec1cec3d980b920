package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/knowhub/search-go/internal/models"
)

// ElasticFulltextIndex 基于ES的全文索引，按语言分索引
// 韩文索引使用 nori 分析器，英文索引使用 english 分析器
type ElasticFulltextIndex struct {
	client      *elasticsearch.Client
	indexPrefix string
	indexCache  map[string]bool
	mu          sync.Mutex
}

// NewElasticFulltextIndex 创建ES全文索引
func NewElasticFulltextIndex(addresses []string, username, password, apiKey, indexPrefix string) (FulltextIndex, error) {
	if len(addresses) == 0 {
		return &NoopFulltextIndex{}, nil
	}

	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
		APIKey:    apiKey,
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	if indexPrefix == "" {
		indexPrefix = "knowhub_docs"
	}

	return &ElasticFulltextIndex{
		client:      client,
		indexPrefix: indexPrefix,
		indexCache:  make(map[string]bool),
	}, nil
}

func (e *ElasticFulltextIndex) indexName(lang models.Language) string {
	return fmt.Sprintf("%s_%s", e.indexPrefix, lang)
}

func (e *ElasticFulltextIndex) allIndices() []string {
	return []string{e.indexName(models.LanguageKorean), e.indexName(models.LanguageEnglish)}
}

func textAnalyzer(lang models.Language) string {
	if lang == models.LanguageKorean {
		return "nori"
	}
	return "english"
}

func (e *ElasticFulltextIndex) ensureIndex(ctx context.Context, lang models.Language) error {
	name := e.indexName(lang)

	e.mu.Lock()
	if e.indexCache[name] {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	req := esapi.IndicesExistsRequest{
		Index: []string{name},
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		e.mu.Lock()
		e.indexCache[name] = true
		e.mu.Unlock()
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"document_id": map[string]interface{}{"type": "keyword"},
				"language":    map[string]interface{}{"type": "keyword"},
				"text": map[string]interface{}{
					"type":          "text",
					"analyzer":      textAnalyzer(lang),
					"index_options": "offsets",
				},
				// 预分词结果，检索与建索引使用同一套分词
				"tokens": map[string]interface{}{
					"type":     "text",
					"analyzer": "whitespace",
					"fields": map[string]interface{}{
						"raw": map[string]interface{}{"type": "keyword"},
					},
				},
				"category_id":       map[string]interface{}{"type": "keyword"},
				"tags":              map[string]interface{}{"type": "keyword"},
				"content_type":      map[string]interface{}{"type": "keyword"},
				"revision":          map[string]interface{}{"type": "long"},
				"updated_at":        map[string]interface{}{"type": "date"},
				"published":         map[string]interface{}{"type": "boolean"},
				"tombstoned":        map[string]interface{}{"type": "boolean"},
				"pending_embedding": map[string]interface{}{"type": "boolean"},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	createReq := esapi.IndicesCreateRequest{
		Index: name,
		Body:  bytes.NewReader(body),
	}
	createResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer createResp.Body.Close()

	if createResp.IsError() {
		return fmt.Errorf("create index error: %s", createResp.String())
	}

	e.mu.Lock()
	e.indexCache[name] = true
	e.mu.Unlock()
	return nil
}

func (e *ElasticFulltextIndex) Upsert(ctx context.Context, entry models.IndexEntry) error {
	if e.client == nil {
		return nil
	}
	if err := e.ensureIndex(ctx, entry.Language); err != nil {
		return err
	}

	doc := map[string]interface{}{
		"document_id":       entry.DocumentID,
		"language":          entry.Language,
		"text":              entry.Text,
		"tokens":            strings.Join(entry.Tokens, " "),
		"category_id":       entry.CategoryID,
		"tags":              entry.Tags,
		"content_type":      entry.ContentType,
		"revision":          entry.Revision,
		"updated_at":        entry.UpdatedAt.Format(time.RFC3339Nano),
		"published":         entry.Published,
		"tombstoned":        entry.Tombstoned,
		"pending_embedding": entry.PendingEmbedding,
	}

	payload, _ := json.Marshal(doc)
	req := esapi.IndexRequest{
		Index:      e.indexName(entry.Language),
		DocumentID: entry.DocumentID,
		Body:       bytes.NewReader(payload),
		Refresh:    "true",
	}

	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("index document error: %s", resp.String())
	}

	return nil
}

func (e *ElasticFulltextIndex) Get(ctx context.Context, documentID string, lang models.Language) (*models.IndexEntry, error) {
	if e.client == nil {
		return nil, nil
	}

	req := esapi.GetRequest{
		Index:      e.indexName(lang),
		DocumentID: documentID,
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get document error: %s", resp.String())
	}

	var result struct {
		Found  bool                   `json:"found"`
		Source map[string]interface{} `json:"_source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if !result.Found {
		return nil, nil
	}
	entry := entryFromSource(result.Source)
	return &entry, nil
}

func (e *ElasticFulltextIndex) CurrentRevision(ctx context.Context, documentID string) (int64, bool, error) {
	if e.client == nil {
		return 0, false, nil
	}

	query := map[string]interface{}{
		"size": 1,
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
		"sort": []interface{}{
			map[string]interface{}{"revision": map[string]interface{}{"order": "desc"}},
		},
	}
	body, _ := json.Marshal(query)
	req := esapi.SearchRequest{
		Index:             e.allIndices(),
		Body:              bytes.NewReader(body),
		IgnoreUnavailable: esBool(true),
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, false, fmt.Errorf("revision lookup error: %s", resp.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, false, err
	}
	if len(result.Hits.Hits) == 0 {
		return 0, false, nil
	}
	rev, _ := result.Hits.Hits[0].Source["revision"].(float64)
	return int64(rev), true, nil
}

func (e *ElasticFulltextIndex) Tombstone(ctx context.Context, documentID string, revision int64) error {
	if e.client == nil {
		return nil
	}

	script := map[string]interface{}{
		"script": map[string]interface{}{
			"source": "ctx._source.tombstoned = true; if (params.revision > ctx._source.revision) { ctx._source.revision = params.revision }",
			"lang":   "painless",
			"params": map[string]interface{}{"revision": revision},
		},
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
	}
	body, _ := json.Marshal(script)
	req := esapi.UpdateByQueryRequest{
		Index:             e.allIndices(),
		Body:              bytes.NewReader(body),
		Refresh:           esBool(true),
		IgnoreUnavailable: esBool(true),
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("tombstone error: %s", resp.String())
	}
	return nil
}

func (e *ElasticFulltextIndex) Purge(ctx context.Context, documentID string) error {
	if e.client == nil {
		return nil
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
	}
	body, _ := json.Marshal(query)
	req := esapi.DeleteByQueryRequest{
		Index:             e.allIndices(),
		Body:              bytes.NewReader(body),
		Refresh:           esBool(true),
		IgnoreUnavailable: esBool(true),
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("purge error: %s", resp.String())
	}
	return nil
}

func (e *ElasticFulltextIndex) Search(ctx context.Context, q LexicalQuery) ([]LexicalMatch, error) {
	if e.client == nil {
		return nil, nil
	}
	if q.Limit == 0 {
		q.Limit = 10
	}
	if len(q.Tokens) == 0 {
		return nil, nil
	}
	if err := e.ensureIndex(ctx, q.Language); err != nil {
		return nil, err
	}

	boolQuery := map[string]interface{}{
		"must": []interface{}{
			map[string]interface{}{
				"match": map[string]interface{}{
					"tokens": map[string]interface{}{
						"query":    strings.Join(q.Tokens, " "),
						"operator": "or",
					},
				},
			},
		},
		"filter": e.visibilityFilters(q.Filters),
	}

	body := map[string]interface{}{
		"size": q.Limit,
		"query": map[string]interface{}{
			"bool": boolQuery,
		},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"text": map[string]interface{}{
					"fragment_size":       150,
					"number_of_fragments": 1,
					"pre_tags":            []string{"<mark>"},
					"post_tags":           []string{"</mark>"},
				},
			},
		},
	}

	return e.runSearch(ctx, q.Language, body)
}

func (e *ElasticFulltextIndex) Recent(ctx context.Context, lang models.Language, filters models.SearchFilters, limit int) ([]LexicalMatch, error) {
	if e.client == nil {
		return nil, nil
	}
	if limit == 0 {
		limit = 10
	}
	if err := e.ensureIndex(ctx, lang); err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": e.visibilityFilters(filters),
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"updated_at": map[string]interface{}{"order": "desc"}},
			map[string]interface{}{"document_id": map[string]interface{}{"order": "asc"}},
		},
	}

	return e.runSearch(ctx, lang, body)
}

func (e *ElasticFulltextIndex) Suggest(ctx context.Context, lang models.Language, prefix string, limit int) ([]string, error) {
	if e.client == nil || prefix == "" {
		return nil, nil
	}
	if limit == 0 {
		limit = 10
	}
	if err := e.ensureIndex(ctx, lang); err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"size": 0,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": e.visibilityFilters(models.SearchFilters{}),
			},
		},
		"aggs": map[string]interface{}{
			"terms_by_prefix": map[string]interface{}{
				"terms": map[string]interface{}{
					"field":   "tokens.raw",
					"include": regexp.QuoteMeta(prefix) + ".*",
					"size":    limit,
				},
			},
		},
	}

	payload, _ := json.Marshal(body)
	req := esapi.SearchRequest{
		Index: []string{e.indexName(lang)},
		Body:  bytes.NewReader(payload),
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("suggest error: %s", resp.String())
	}

	var result struct {
		Aggregations struct {
			TermsByPrefix struct {
				Buckets []struct {
					Key string `json:"key"`
				} `json:"buckets"`
			} `json:"terms_by_prefix"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	terms := make([]string, 0, len(result.Aggregations.TermsByPrefix.Buckets))
	for _, bucket := range result.Aggregations.TermsByPrefix.Buckets {
		terms = append(terms, bucket.Key)
	}
	return terms, nil
}

func (e *ElasticFulltextIndex) Ready() bool {
	return e.client != nil
}

// visibilityFilters 统一的可见性与业务过滤条件
func (e *ElasticFulltextIndex) visibilityFilters(filters models.SearchFilters) []interface{} {
	clauses := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"published": true}},
		map[string]interface{}{"term": map[string]interface{}{"tombstoned": false}},
	}
	if len(filters.CategoryIDs) > 0 {
		clauses = append(clauses, map[string]interface{}{
			"terms": map[string]interface{}{"category_id": filters.CategoryIDs},
		})
	}
	if len(filters.Tags) > 0 {
		clauses = append(clauses, map[string]interface{}{
			"terms": map[string]interface{}{"tags": filters.Tags},
		})
	}
	if len(filters.ContentTypes) > 0 {
		clauses = append(clauses, map[string]interface{}{
			"terms": map[string]interface{}{"content_type": filters.ContentTypes},
		})
	}
	return clauses
}

func (e *ElasticFulltextIndex) runSearch(ctx context.Context, lang models.Language, body map[string]interface{}) ([]LexicalMatch, error) {
	payload, _ := json.Marshal(body)
	req := esapi.SearchRequest{
		Index: []string{e.indexName(lang)},
		Body:  bytes.NewReader(payload),
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("search error: %s", resp.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Score     float64                `json:"_score"`
				Source    map[string]interface{} `json:"_source"`
				Highlight map[string][]string    `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	matches := make([]LexicalMatch, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		entry := entryFromSource(hit.Source)
		snippet := snippetOf(entry.Text)
		if frags := hit.Highlight["text"]; len(frags) > 0 {
			snippet = frags[0]
		}
		matches = append(matches, LexicalMatch{
			DocumentID:  entry.DocumentID,
			Score:       hit.Score,
			Snippet:     snippet,
			CategoryID:  entry.CategoryID,
			Tags:        entry.Tags,
			ContentType: entry.ContentType,
			UpdatedAt:   entry.UpdatedAt,
		})
	}
	return matches, nil
}

func entryFromSource(source map[string]interface{}) models.IndexEntry {
	entry := models.IndexEntry{}
	entry.DocumentID, _ = source["document_id"].(string)
	if lang, ok := source["language"].(string); ok {
		entry.Language = models.Language(lang)
	}
	entry.Text, _ = source["text"].(string)
	if tokens, ok := source["tokens"].(string); ok && tokens != "" {
		entry.Tokens = strings.Fields(tokens)
	}
	entry.CategoryID, _ = source["category_id"].(string)
	entry.Tags = stringSlice(source["tags"])
	entry.ContentType, _ = source["content_type"].(string)
	if rev, ok := source["revision"].(float64); ok {
		entry.Revision = int64(rev)
	}
	if ts, ok := source["updated_at"].(string); ok {
		entry.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	entry.Published, _ = source["published"].(bool)
	entry.Tombstoned, _ = source["tombstoned"].(bool)
	entry.PendingEmbedding, _ = source["pending_embedding"].(bool)
	return entry
}

func stringSlice(value interface{}) []string {
	raw, ok := value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func esBool(v bool) *bool {
	return &v
}

var _ FulltextIndex = (*ElasticFulltextIndex)(nil)
