package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knowhub/search-go/internal/errors"
	"github.com/knowhub/search-go/internal/logger"
	"github.com/knowhub/search-go/internal/metrics"
	"github.com/knowhub/search-go/internal/models"
)

// PoolOptions 工作池配置
type PoolOptions struct {
	Workers      int
	QueueSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	Metrics      *metrics.Metrics
}

// Pool 变更事件处理工作池
// 并发度有上界，瞬时错误指数退避重试
type Pool struct {
	indexer *Indexer
	events  chan models.ChangeEvent
	opts    PoolOptions
	metrics *metrics.Metrics
	wg      sync.WaitGroup
	log     *zap.Logger
}

// NewPool 创建事件处理工作池
func NewPool(indexer *Indexer, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	return &Pool{
		indexer: indexer,
		events:  make(chan models.ChangeEvent, opts.QueueSize),
		opts:    opts,
		metrics: m,
		log:     logger.Named("ingest_pool"),
	}
}

// Start 启动全部worker
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-p.events:
					if !ok {
						return
					}
					p.handle(ctx, event)
				}
			}
		}()
	}
}

// Submit 投递事件，队列满时阻塞以形成背压
func (p *Pool) Submit(ctx context.Context, event models.ChangeEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.events <- event:
		return nil
	}
}

// Wait 等待全部worker退出
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) handle(ctx context.Context, event models.ChangeEvent) {
	var err error
	backoff := p.opts.RetryBackoff
	for attempt := 0; attempt <= p.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = p.dispatch(ctx, event)
		if err == nil {
			p.metrics.EventsProcessed.WithLabelValues(string(event.Type), "ok").Inc()
			return
		}
		if !errors.IsTransient(err) {
			break
		}
		p.log.Warn("transient index error, retrying",
			zap.String("document_id", event.Document.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	p.metrics.EventsProcessed.WithLabelValues(string(event.Type), "error").Inc()
	p.log.Error("event processing failed",
		zap.String("type", string(event.Type)),
		zap.String("document_id", event.Document.ID),
		zap.Error(err))
}

func (p *Pool) dispatch(ctx context.Context, event models.ChangeEvent) error {
	switch event.Type {
	case models.EventDocumentPublished, models.EventDocumentUpdated:
		return p.indexer.Upsert(ctx, event.Document)
	case models.EventDocumentRemoved:
		return p.indexer.Remove(ctx, event.Document.ID, event.Document.Revision)
	default:
		p.log.Warn("unknown event type dropped", zap.String("type", string(event.Type)))
		return nil
	}
}
