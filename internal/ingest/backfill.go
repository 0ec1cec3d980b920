package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/knowhub/search-go/internal/knowledge"
	"github.com/knowhub/search-go/internal/logger"
	"github.com/knowhub/search-go/internal/metrics"
	"github.com/knowhub/search-go/internal/models"
)

// PendingEmbedding 等待补算向量的索引条目
// embedding服务恢复后由回填任务补齐向量并摘除降级标记
type PendingEmbedding struct {
	ID         uint   `gorm:"primarykey"`
	DocumentID string `gorm:"size:64;uniqueIndex:idx_pending_doc_lang"`
	Language   string `gorm:"size:8;uniqueIndex:idx_pending_doc_lang"`
	Revision   int64
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName 指定表名
func (PendingEmbedding) TableName() string {
	return "pending_embeddings"
}

// BackfillStore 回填队列存储抽象
type BackfillStore interface {
	Enqueue(ctx context.Context, pending PendingEmbedding) error
	List(ctx context.Context, limit int) ([]PendingEmbedding, error)
	Complete(ctx context.Context, id uint) error
	Bump(ctx context.Context, id uint) error
	Remove(ctx context.Context, documentID string) error
}

// NoopBackfillStore 占位实现，降级条目只能等下一次文档更新
type NoopBackfillStore struct{}

func (n *NoopBackfillStore) Enqueue(ctx context.Context, pending PendingEmbedding) error {
	return nil
}

func (n *NoopBackfillStore) List(ctx context.Context, limit int) ([]PendingEmbedding, error) {
	return nil, nil
}

func (n *NoopBackfillStore) Complete(ctx context.Context, id uint) error {
	return nil
}

func (n *NoopBackfillStore) Bump(ctx context.Context, id uint) error {
	return nil
}

func (n *NoopBackfillStore) Remove(ctx context.Context, documentID string) error {
	return nil
}

// GormBackfillStore 基于数据库的回填队列
type GormBackfillStore struct {
	db *gorm.DB
}

// NewGormBackfillStore 创建数据库回填队列
func NewGormBackfillStore(db *gorm.DB) (*GormBackfillStore, error) {
	if err := db.AutoMigrate(&PendingEmbedding{}); err != nil {
		return nil, err
	}
	return &GormBackfillStore{db: db}, nil
}

func (s *GormBackfillStore) Enqueue(ctx context.Context, pending PendingEmbedding) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "language"}},
		DoUpdates: clause.AssignmentColumns([]string{"revision", "attempts", "updated_at"}),
	}).Create(&pending).Error
}

func (s *GormBackfillStore) List(ctx context.Context, limit int) ([]PendingEmbedding, error) {
	var pending []PendingEmbedding
	err := s.db.WithContext(ctx).
		Order("updated_at asc").
		Limit(limit).
		Find(&pending).Error
	return pending, err
}

func (s *GormBackfillStore) Complete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&PendingEmbedding{}, id).Error
}

func (s *GormBackfillStore) Bump(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&PendingEmbedding{ID: id}).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}

func (s *GormBackfillStore) Remove(ctx context.Context, documentID string) error {
	return s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&PendingEmbedding{}).Error
}

var _ BackfillStore = (*GormBackfillStore)(nil)

// BackfillWorker 周期性补算降级条目的向量
type BackfillWorker struct {
	store    BackfillStore
	index    knowledge.FulltextIndex
	vectors  knowledge.VectorStore
	embedder knowledge.Embedder
	chunker  *knowledge.Chunker

	interval  time.Duration
	batchSize int
	metrics   *metrics.Metrics

	log *zap.Logger
}

// NewBackfillWorker 创建向量回填任务
func NewBackfillWorker(store BackfillStore, index knowledge.FulltextIndex, vectors knowledge.VectorStore, embedder knowledge.Embedder, chunker *knowledge.Chunker, interval time.Duration) *BackfillWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BackfillWorker{
		store:     store,
		index:     index,
		vectors:   vectors,
		embedder:  embedder,
		chunker:   chunker,
		interval:  interval,
		batchSize: 50,
		metrics:   metrics.NewNop(),
		log:       logger.Named("backfill"),
	}
}

// WithMetrics 挂接指标，返回自身便于链式构造
func (w *BackfillWorker) WithMetrics(m *metrics.Metrics) *BackfillWorker {
	if m != nil {
		w.metrics = m
	}
	return w
}

// Run 回填循环，直到context取消
func (w *BackfillWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce 处理一批待回填条目
func (w *BackfillWorker) RunOnce(ctx context.Context) {
	if w.embedder == nil || !w.embedder.Ready() {
		return
	}
	pending, err := w.store.List(ctx, w.batchSize)
	if err != nil {
		w.log.Error("backfill list failed", zap.Error(err))
		return
	}
	w.metrics.PendingBackfill.Set(float64(len(pending)))
	for _, item := range pending {
		if err := w.backfillOne(ctx, item); err != nil {
			w.log.Warn("backfill attempt failed",
				zap.String("document_id", item.DocumentID),
				zap.String("language", item.Language),
				zap.Error(err))
			if bumpErr := w.store.Bump(ctx, item.ID); bumpErr != nil {
				w.log.Error("backfill bump failed", zap.Error(bumpErr))
			}
		}
	}
}

func (w *BackfillWorker) backfillOne(ctx context.Context, item PendingEmbedding) error {
	lang := models.Language(item.Language)
	entry, err := w.index.Get(ctx, item.DocumentID, lang)
	if err != nil {
		return err
	}
	// 条目已消失或已被更高revision带着向量覆盖，任务作废
	if entry == nil || !entry.PendingEmbedding || entry.Revision > item.Revision {
		return w.store.Complete(ctx, item.ID)
	}

	chunks := w.chunker.Split(entry.Text)
	vectorChunks := make([]knowledge.VectorChunk, 0, len(chunks))
	for _, chunk := range chunks {
		vec, err := w.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return err
		}
		vectorChunks = append(vectorChunks, knowledge.VectorChunk{
			DocumentID:  entry.DocumentID,
			Language:    lang,
			ChunkIndex:  chunk.Index,
			Start:       chunk.Start,
			End:         chunk.End,
			Text:        chunk.Text,
			Vector:      vec,
			CategoryID:  entry.CategoryID,
			Tags:        entry.Tags,
			ContentType: entry.ContentType,
			UpdatedAt:   entry.UpdatedAt,
		})
	}

	if err := w.vectors.UpsertDocument(ctx, entry.DocumentID, lang, vectorChunks); err != nil {
		return err
	}

	entry.PendingEmbedding = false
	entry.Vectors = entry.Vectors[:0]
	for _, vc := range vectorChunks {
		entry.Vectors = append(entry.Vectors, models.EmbeddingVector{
			ChunkIndex:  vc.ChunkIndex,
			StartOffset: vc.Start,
			EndOffset:   vc.End,
			Language:    lang,
			Values:      vc.Vector,
		})
	}
	if err := w.index.Upsert(ctx, *entry); err != nil {
		return err
	}

	w.log.Info("vectors backfilled",
		zap.String("document_id", entry.DocumentID),
		zap.String("language", item.Language),
		zap.Int("chunks", len(vectorChunks)))
	return w.store.Complete(ctx, item.ID)
}
