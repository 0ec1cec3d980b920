package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/knowhub/search-go/internal/errors"
	"github.com/knowhub/search-go/internal/knowledge"
	"github.com/knowhub/search-go/internal/language"
	"github.com/knowhub/search-go/internal/logger"
	"github.com/knowhub/search-go/internal/metrics"
	"github.com/knowhub/search-go/internal/models"
)

// InvalidationPublisher 缓存失效信号的发布端
type InvalidationPublisher interface {
	Publish(ctx context.Context, signal models.InvalidationSignal) error
}

// NoopPublisher 占位发布实现
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, signal models.InvalidationSignal) error {
	return nil
}

// purgeTask 延迟物理删除任务
type purgeTask struct {
	documentID string
	dueAt      time.Time
}

// Indexer 文档索引器
// 同一文档按revision幂等更新，过期事件原地丢弃
type Indexer struct {
	index     knowledge.FulltextIndex
	vectors   knowledge.VectorStore
	embedder  knowledge.Embedder
	processor *language.Processor
	chunker   *knowledge.Chunker
	publisher InvalidationPublisher
	backfill  BackfillStore

	purgeDelay time.Duration
	purgeQueue chan purgeTask
	generation atomic.Uint64
	metrics    *metrics.Metrics

	log *zap.Logger
}

// IndexerOptions 索引器配置
type IndexerOptions struct {
	PurgeDelay     time.Duration
	PurgeQueueSize int
	Metrics        *metrics.Metrics
}

// NewIndexer 创建文档索引器
func NewIndexer(
	index knowledge.FulltextIndex,
	vectors knowledge.VectorStore,
	embedder knowledge.Embedder,
	processor *language.Processor,
	chunker *knowledge.Chunker,
	publisher InvalidationPublisher,
	backfill BackfillStore,
	opts IndexerOptions,
) *Indexer {
	if publisher == nil {
		publisher = &NoopPublisher{}
	}
	if backfill == nil {
		backfill = &NoopBackfillStore{}
	}
	if opts.PurgeDelay <= 0 {
		opts.PurgeDelay = 30 * time.Second
	}
	if opts.PurgeQueueSize <= 0 {
		opts.PurgeQueueSize = 1024
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	return &Indexer{
		index:      index,
		vectors:    vectors,
		embedder:   embedder,
		processor:  processor,
		chunker:    chunker,
		publisher:  publisher,
		backfill:   backfill,
		purgeDelay: opts.PurgeDelay,
		purgeQueue: make(chan purgeTask, opts.PurgeQueueSize),
		metrics:    opts.Metrics,
		log:        logger.Named("indexer"),
	}
}

// Upsert 建立或更新文档的索引条目
// revision小于等于已索引版本的事件是无操作，重复投递天然幂等
func (x *Indexer) Upsert(ctx context.Context, doc models.Document) error {
	current, exists, err := x.index.CurrentRevision(ctx, doc.ID)
	if err != nil {
		return errors.NewTransientError("revision lookup failed").WithCause(err)
	}
	if exists && doc.Revision < current {
		x.log.Debug("stale revision skipped",
			zap.String("document_id", doc.ID),
			zap.Int64("event_revision", doc.Revision),
			zap.Int64("indexed_revision", current))
		return nil
	}
	// 同revision重复投递可能是真正的重复，也可能是上次应用中途失败后的重试，
	// 只有全部语言变体都已落到该revision时才跳过
	if exists && doc.Revision == current {
		done, err := x.fullyApplied(ctx, doc)
		if err != nil {
			return errors.NewTransientError("applied-state lookup failed").WithCause(err)
		}
		if done {
			x.log.Debug("duplicate revision skipped",
				zap.String("document_id", doc.ID),
				zap.Int64("revision", doc.Revision))
			return nil
		}
	}

	oldCategories, oldTags := x.currentScope(ctx, doc.ID)

	indexable := doc.Indexable()
	for _, lang := range models.Languages {
		variant := doc.Variant(lang)
		if variant.Empty() {
			// 新revision不再携带该语言，旧条目必须退出检索
			if err := x.dropVariant(ctx, doc, lang); err != nil {
				return err
			}
			continue
		}
		if err := x.upsertVariant(ctx, doc, lang, variant, indexable); err != nil {
			return err
		}
	}

	x.emitInvalidation(ctx, doc.ID, unionScope(oldCategories, []string{doc.CategoryID}), unionScope(oldTags, doc.Tags))
	return nil
}

// fullyApplied 判断当前revision是否已完整落盘
// 所有条目都已消失视为删除后的重复事件，不能重放以免复活墓碑
func (x *Indexer) fullyApplied(ctx context.Context, doc models.Document) (bool, error) {
	present := 0
	complete := true
	for _, lang := range models.Languages {
		if doc.Variant(lang).Empty() {
			continue
		}
		entry, err := x.index.Get(ctx, doc.ID, lang)
		if err != nil {
			return false, err
		}
		if entry == nil {
			complete = false
			continue
		}
		present++
		if entry.Revision != doc.Revision {
			complete = false
		}
	}
	if present == 0 {
		return true, nil
	}
	return complete, nil
}

// dropVariant 下线某语言的旧条目：覆盖为不可检索的占位条目并清掉该语言的向量
func (x *Indexer) dropVariant(ctx context.Context, doc models.Document, lang models.Language) error {
	existing, err := x.index.Get(ctx, doc.ID, lang)
	if err != nil {
		return errors.NewTransientError("entry lookup failed").WithCause(err)
	}
	if existing == nil {
		return nil
	}

	entry := models.IndexEntry{
		DocumentID:  doc.ID,
		Language:    lang,
		CategoryID:  doc.CategoryID,
		Tags:        doc.Tags,
		ContentType: doc.ContentType,
		Revision:    doc.Revision,
		UpdatedAt:   doc.UpdatedAt,
		Published:   false,
	}
	if err := x.index.Upsert(ctx, entry); err != nil {
		return errors.NewTransientError("fulltext upsert failed").WithCause(err)
	}
	if err := x.vectors.UpsertDocument(ctx, doc.ID, lang, nil); err != nil {
		return errors.NewTransientError("vector delete failed").WithCause(err)
	}
	return nil
}

// upsertVariant 索引单个语言变体
// embedding不可用时降级为纯词法条目并登记回填任务
func (x *Indexer) upsertVariant(ctx context.Context, doc models.Document, lang models.Language, variant *models.LanguageVariant, indexable bool) error {
	text := variant.Title
	if variant.Summary != "" {
		text += " " + variant.Summary
	}
	if variant.Body != "" {
		text += " " + variant.Body
	}
	normalized := x.processor.Normalize(text, lang)
	tokens := x.processor.Tokenize(normalized, lang)

	entry := models.IndexEntry{
		DocumentID:  doc.ID,
		Language:    lang,
		Text:        normalized,
		Tokens:      tokens,
		CategoryID:  doc.CategoryID,
		Tags:        doc.Tags,
		ContentType: doc.ContentType,
		Revision:    doc.Revision,
		UpdatedAt:   doc.UpdatedAt,
		Published:   indexable,
	}

	// 非发布状态的文档只保留修订号门槛，不参与任何检索
	if !indexable {
		if err := x.index.Upsert(ctx, entry); err != nil {
			return errors.NewTransientError("fulltext upsert failed").WithCause(err)
		}
		if err := x.vectors.DeleteDocument(ctx, doc.ID); err != nil {
			return errors.NewTransientError("vector delete failed").WithCause(err)
		}
		return nil
	}

	chunks := x.chunker.Split(normalized)
	vectorChunks, embedErr := x.embedChunks(ctx, doc, lang, chunks)
	if embedErr != nil {
		entry.PendingEmbedding = true
		x.metrics.VectorDegraded.Inc()
		x.log.Warn("embedding unavailable, indexing without vectors",
			zap.String("document_id", doc.ID),
			zap.String("language", string(lang)),
			zap.Error(embedErr))
	} else {
		for _, vc := range vectorChunks {
			entry.Vectors = append(entry.Vectors, models.EmbeddingVector{
				ChunkIndex:  vc.ChunkIndex,
				StartOffset: vc.Start,
				EndOffset:   vc.End,
				Language:    lang,
				Values:      vc.Vector,
			})
		}
	}

	if err := x.index.Upsert(ctx, entry); err != nil {
		return errors.NewTransientError("fulltext upsert failed").WithCause(err)
	}

	if embedErr != nil {
		x.enqueueBackfill(ctx, doc, lang)
		return nil
	}

	if err := x.vectors.UpsertDocument(ctx, doc.ID, lang, vectorChunks); err != nil {
		// 全文条目已落库，revision门槛会拦下重试，
		// 向量库故障按embedding故障同等降级，由回填任务补齐
		x.metrics.VectorDegraded.Inc()
		x.log.Warn("vector store unavailable, degrading to lexical-only entry",
			zap.String("document_id", doc.ID),
			zap.String("language", string(lang)),
			zap.Error(err))
		entry.PendingEmbedding = true
		entry.Vectors = nil
		if uerr := x.index.Upsert(ctx, entry); uerr != nil {
			return errors.NewTransientError("fulltext upsert failed").WithCause(uerr)
		}
		x.enqueueBackfill(ctx, doc, lang)
	}
	return nil
}

func (x *Indexer) enqueueBackfill(ctx context.Context, doc models.Document, lang models.Language) {
	if err := x.backfill.Enqueue(ctx, PendingEmbedding{
		DocumentID: doc.ID,
		Language:   string(lang),
		Revision:   doc.Revision,
	}); err != nil {
		x.log.Error("backfill enqueue failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
}

func (x *Indexer) embedChunks(ctx context.Context, doc models.Document, lang models.Language, chunks []knowledge.Chunk) ([]knowledge.VectorChunk, error) {
	if x.embedder == nil || !x.embedder.Ready() {
		return nil, errors.NewEmbeddingUnavailableError(nil)
	}
	vectorChunks := make([]knowledge.VectorChunk, 0, len(chunks))
	for _, chunk := range chunks {
		vec, err := x.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return nil, err
		}
		vectorChunks = append(vectorChunks, knowledge.VectorChunk{
			DocumentID:  doc.ID,
			Language:    lang,
			ChunkIndex:  chunk.Index,
			Start:       chunk.Start,
			End:         chunk.End,
			Text:        chunk.Text,
			Vector:      vec,
			CategoryID:  doc.CategoryID,
			Tags:        doc.Tags,
			ContentType: doc.ContentType,
			UpdatedAt:   doc.UpdatedAt,
		})
	}
	return vectorChunks, nil
}

// Remove 逻辑删除文档：立即打墓碑，延迟物理清除
// 删除事件与更新事件共用revision门槛，迟到的旧删除不会遮住新版本
func (x *Indexer) Remove(ctx context.Context, documentID string, revision int64) error {
	current, exists, err := x.index.CurrentRevision(ctx, documentID)
	if err != nil {
		return errors.NewTransientError("revision lookup failed").WithCause(err)
	}
	if exists && revision > 0 && revision < current {
		x.log.Debug("stale remove skipped",
			zap.String("document_id", documentID),
			zap.Int64("event_revision", revision),
			zap.Int64("indexed_revision", current))
		return nil
	}

	oldCategories, oldTags := x.currentScope(ctx, documentID)

	if err := x.index.Tombstone(ctx, documentID, revision); err != nil {
		return errors.NewTransientError("tombstone failed").WithCause(err)
	}

	select {
	case x.purgeQueue <- purgeTask{documentID: documentID, dueAt: time.Now().Add(x.purgeDelay)}:
	default:
		// 队列满时直接同步清除，宁可慢不可漏
		if err := x.purge(ctx, documentID); err != nil {
			return err
		}
	}

	x.emitInvalidation(ctx, documentID, oldCategories, oldTags)
	return nil
}

// RunPurgeLoop 消费延迟删除队列直到context取消
func (x *Indexer) RunPurgeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-x.purgeQueue:
			if wait := time.Until(task.dueAt); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
			if err := x.purge(ctx, task.documentID); err != nil {
				x.log.Error("purge failed", zap.String("document_id", task.documentID), zap.Error(err))
			}
		}
	}
}

func (x *Indexer) purge(ctx context.Context, documentID string) error {
	if err := x.vectors.DeleteDocument(ctx, documentID); err != nil {
		return errors.NewTransientError("vector purge failed").WithCause(err)
	}
	if err := x.index.Purge(ctx, documentID); err != nil {
		return errors.NewTransientError("fulltext purge failed").WithCause(err)
	}
	if err := x.backfill.Remove(ctx, documentID); err != nil {
		x.log.Warn("backfill cleanup failed", zap.String("document_id", documentID), zap.Error(err))
	}
	x.log.Info("document purged", zap.String("document_id", documentID))
	return nil
}

// currentScope 取当前已索引版本的类目与标签，用于失效信号的并集
func (x *Indexer) currentScope(ctx context.Context, documentID string) ([]string, []string) {
	categories := make([]string, 0, 1)
	tags := make([]string, 0, 4)
	for _, lang := range models.Languages {
		entry, err := x.index.Get(ctx, documentID, lang)
		if err != nil || entry == nil {
			continue
		}
		categories = unionScope(categories, []string{entry.CategoryID})
		tags = unionScope(tags, entry.Tags)
	}
	return categories, tags
}

func (x *Indexer) emitInvalidation(ctx context.Context, documentID string, categories, tags []string) {
	signal := models.InvalidationSignal{
		DocumentID:  documentID,
		Generation:  x.generation.Add(1),
		CategoryIDs: categories,
		Tags:        tags,
	}
	if err := x.publisher.Publish(ctx, signal); err != nil {
		x.log.Error("invalidation publish failed", zap.String("document_id", documentID), zap.Error(err))
	}
}

func unionScope(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
