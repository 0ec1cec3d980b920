package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/knowhub/search-go/internal/models"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address          string
	Username         string
	Password         string
	CollectionPrefix string
	VectorSize       int
	Database         string
	UseTLS           bool
	Timeout          time.Duration
}

type milvusVectorStore struct {
	milvusClient     client.Client
	collectionPrefix string
	vectorSize       int
}

// NewMilvusVectorStore 创建Milvus向量存储，按语言分集合
func NewMilvusVectorStore(opts MilvusOptions) (VectorStore, error) {
	if opts.Address == "" {
		return &NoopVectorStore{}, nil
	}
	if opts.CollectionPrefix == "" {
		opts.CollectionPrefix = "knowhub_vectors"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 768
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	milvusClient, err := client.NewClient(
		context.Background(),
		client.Config{
			Address:       opts.Address,
			DBName:        opts.Database,
			Username:      opts.Username,
			Password:      opts.Password,
			EnableTLSAuth: opts.UseTLS,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusVectorStore{
		milvusClient:     milvusClient,
		collectionPrefix: opts.CollectionPrefix,
		vectorSize:       opts.VectorSize,
	}, nil
}

func (s *milvusVectorStore) collectionName(lang models.Language) string {
	return fmt.Sprintf("%s_%s", s.collectionPrefix, lang)
}

func (s *milvusVectorStore) ensureCollection(ctx context.Context, lang models.Language) error {
	name := s.collectionName(lang)

	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if hasCollection {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: name,
		Description:    fmt.Sprintf("Document chunk vectors (%s)", lang),
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:       "category_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "tags",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "1024"},
			},
			{
				Name:       "content_type",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "updated_at",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "vector",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", s.vectorSize),
				},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// 向量已做L2归一化，内积即余弦相似度
	var index entity.Index
	index, indexErr := entity.NewIndexHNSW(entity.IP, 8, 64)
	if indexErr != nil {
		ivf, ivfErr := entity.NewIndexIvfFlat(entity.IP, 128)
		if ivfErr != nil {
			return fmt.Errorf("failed to create index: %w", ivfErr)
		}
		index = ivf
	}
	if err := s.milvusClient.CreateIndex(ctx, name, "vector", index, false); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	return nil
}

func (s *milvusVectorStore) UpsertDocument(ctx context.Context, documentID string, lang models.Language, chunks []VectorChunk) error {
	if err := s.ensureCollection(ctx, lang); err != nil {
		return err
	}
	name := s.collectionName(lang)

	// 先清掉旧版本的所有分块，再整体写入
	expr := fmt.Sprintf("document_id == %q", documentID)
	if err := s.milvusClient.Delete(ctx, name, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	docIDs := make([]string, len(chunks))
	chunkIndexes := make([]int64, len(chunks))
	texts := make([]string, len(chunks))
	categories := make([]string, len(chunks))
	tags := make([]string, len(chunks))
	contentTypes := make([]string, len(chunks))
	updatedAts := make([]int64, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		if len(chunk.Vector) != s.vectorSize {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(chunk.Vector), s.vectorSize)
		}
		ids[i] = fmt.Sprintf("%s_%d", documentID, chunk.ChunkIndex)
		docIDs[i] = documentID
		chunkIndexes[i] = int64(chunk.ChunkIndex)
		texts[i] = chunk.Text
		categories[i] = chunk.CategoryID
		tags[i] = strings.Join(chunk.Tags, ",")
		contentTypes[i] = chunk.ContentType
		updatedAts[i] = chunk.UpdatedAt.UnixNano()
		vectors[i] = chunk.Vector
	}

	_, err := s.milvusClient.Insert(ctx, name, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("category_id", categories),
		entity.NewColumnVarChar("tags", tags),
		entity.NewColumnVarChar("content_type", contentTypes),
		entity.NewColumnInt64("updated_at", updatedAts),
		entity.NewColumnFloatVector("vector", s.vectorSize, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus insert failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, name, false); err != nil {
		return fmt.Errorf("milvus flush failed: %w", err)
	}
	return nil
}

func (s *milvusVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf("document_id == %q", documentID)
	for _, lang := range []models.Language{models.LanguageKorean, models.LanguageEnglish} {
		name := s.collectionName(lang)
		hasCollection, err := s.milvusClient.HasCollection(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to check collection: %w", err)
		}
		if !hasCollection {
			continue
		}
		if err := s.milvusClient.Delete(ctx, name, "", expr); err != nil {
			return fmt.Errorf("milvus delete failed: %w", err)
		}
	}
	return nil
}

func (s *milvusVectorStore) Search(ctx context.Context, q VectorQuery) ([]VectorMatch, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}
	if q.Limit == 0 {
		q.Limit = 10
	}
	if err := s.ensureCollection(ctx, q.Language); err != nil {
		return nil, err
	}

	name := s.collectionName(q.Language)
	expr := buildMilvusFilter(q.Filters)

	// 同一文档可能命中多个分块，扩大候选量再按文档聚合
	topK := q.Limit * 4
	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		name,
		[]string{},
		expr,
		[]string{"document_id", "text", "category_id", "tags", "content_type", "updated_at"},
		[]entity.Vector{entity.FloatVector(q.Vector)},
		"vector",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(searchResults) == 0 {
		return nil, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}
	if result.ResultCount == 0 {
		return nil, nil
	}

	var docIDs, texts, categories, tagStrs, contentTypes []string
	var updatedAts []int64
	for _, field := range result.Fields {
		switch field.Name() {
		case "document_id":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				docIDs = col.Data()
			}
		case "text":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				texts = col.Data()
			}
		case "category_id":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				categories = col.Data()
			}
		case "tags":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				tagStrs = col.Data()
			}
		case "content_type":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				contentTypes = col.Data()
			}
		case "updated_at":
			if col, ok := field.(*entity.ColumnInt64); ok {
				updatedAts = col.Data()
			}
		}
	}

	// 按文档聚合，保留最优分块的分数与文本
	best := make(map[string]VectorMatch)
	order := make([]string, 0, result.ResultCount)
	for i := 0; i < result.ResultCount && i < len(docIDs); i++ {
		tags := splitTags(valueAt(tagStrs, i))
		if len(q.Filters.Tags) > 0 && !tagsIntersect(tags, q.Filters.Tags) {
			continue
		}
		score := float64(0)
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		match := VectorMatch{
			DocumentID:  docIDs[i],
			Score:       score,
			Snippet:     snippetOf(valueAt(texts, i)),
			CategoryID:  valueAt(categories, i),
			Tags:        tags,
			ContentType: valueAt(contentTypes, i),
		}
		if i < len(updatedAts) {
			match.UpdatedAt = time.Unix(0, updatedAts[i])
		}
		existing, seen := best[match.DocumentID]
		if !seen {
			order = append(order, match.DocumentID)
			best[match.DocumentID] = match
		} else if match.Score > existing.Score {
			best[match.DocumentID] = match
		}
	}

	matches := make([]VectorMatch, 0, len(order))
	for _, id := range order {
		matches = append(matches, best[id])
		if len(matches) >= q.Limit {
			break
		}
	}
	return matches, nil
}

func (s *milvusVectorStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}

// buildMilvusFilter 类别与内容类型下推到Milvus表达式
// 标签以逗号串存储，交集判断在取回后进行
func buildMilvusFilter(filters models.SearchFilters) string {
	clauses := make([]string, 0, 2)
	if len(filters.CategoryIDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("category_id in %s", quoteList(filters.CategoryIDs)))
	}
	if len(filters.ContentTypes) > 0 {
		clauses = append(clauses, fmt.Sprintf("content_type in %s", quoteList(filters.ContentTypes)))
	}
	return strings.Join(clauses, " && ")
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func tagsIntersect(have, want []string) bool {
	for _, w := range want {
		if containsString(have, w) {
			return true
		}
	}
	return false
}

func valueAt(list []string, i int) string {
	if i < len(list) {
		return list[i]
	}
	return ""
}
