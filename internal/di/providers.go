package di

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"gorm.io/gorm"

	"github.com/knowhub/search-go/internal/cache"
	"github.com/knowhub/search-go/internal/config"
	"github.com/knowhub/search-go/internal/database"
	"github.com/knowhub/search-go/internal/ingest"
	"github.com/knowhub/search-go/internal/kafka"
	"github.com/knowhub/search-go/internal/knowledge"
	"github.com/knowhub/search-go/internal/language"
	"github.com/knowhub/search-go/internal/logger"
	"github.com/knowhub/search-go/internal/metrics"
	"github.com/knowhub/search-go/internal/services"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container, loader *config.Loader) error {
	log := logger.Named("di")

	// 配置加载器
	if err := container.Provide(func() *config.Loader {
		return loader
	}); err != nil {
		return err
	}

	// PostgreSQL，未启用时返回nil，由下游提供者降级
	if err := container.Provide(func(l *config.Loader) (*gorm.DB, error) {
		cfg := l.Get()
		if !cfg.Database.Enabled || cfg.Database.URL == "" {
			log.Info("postgres disabled, embedding backfill will not persist")
			return nil, nil
		}
		return database.NewPostgres(cfg.Database.URL)
	}); err != nil {
		return err
	}

	// Redis，未启用时返回nil
	if err := container.Provide(func(l *config.Loader) (*redis.Client, error) {
		cfg := l.Get()
		if !cfg.Redis.Enabled {
			log.Info("redis disabled, falling back to in-process cache")
			return nil, nil
		}
		return database.NewRedis(database.RedisOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
	}); err != nil {
		return err
	}

	// 语言处理器与分块器
	if err := container.Provide(language.NewProcessor); err != nil {
		return err
	}
	if err := container.Provide(func(l *config.Loader) *knowledge.Chunker {
		cfg := l.Get()
		return knowledge.NewChunker(cfg.Embedding.ChunkSize, cfg.Embedding.ChunkOverlap)
	}); err != nil {
		return err
	}

	// 全文索引，无ES地址时退化为内存实现
	if err := container.Provide(func(l *config.Loader) (knowledge.FulltextIndex, error) {
		cfg := l.Get()
		if len(cfg.Elasticsearch.Addresses) == 0 {
			log.Warn("no elasticsearch addresses configured, using in-memory fulltext index")
			return knowledge.NewMemoryFulltextIndex(), nil
		}
		return knowledge.NewElasticFulltextIndex(
			cfg.Elasticsearch.Addresses,
			cfg.Elasticsearch.Username,
			cfg.Elasticsearch.Password,
			cfg.Elasticsearch.APIKey,
			cfg.Elasticsearch.IndexPrefix,
		)
	}); err != nil {
		return err
	}

	// 向量存储，地址为空时构造器内部返回Noop实现
	if err := container.Provide(func(l *config.Loader) (knowledge.VectorStore, error) {
		cfg := l.Get()
		return knowledge.NewMilvusVectorStore(knowledge.MilvusOptions{
			Address:          cfg.Milvus.Address,
			Username:         cfg.Milvus.Username,
			Password:         cfg.Milvus.Password,
			Database:         cfg.Milvus.Database,
			CollectionPrefix: cfg.Milvus.CollectionPrefix,
			VectorSize:       cfg.Embedding.Dimensions,
			UseTLS:           cfg.Milvus.TLS,
		})
	}); err != nil {
		return err
	}

	// 向量化器，按配置选择提供商
	if err := container.Provide(func(l *config.Loader) (knowledge.Embedder, error) {
		cfg := l.Get()
		switch cfg.Embedding.Provider {
		case "openai":
			return knowledge.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions), nil
		case "local":
			return knowledge.NewLocalEmbedder(cfg.Embedding.Dimensions), nil
		case "none", "":
			log.Warn("embedding disabled, search runs lexical-only")
			return &knowledge.NoopEmbedder{}, nil
		default:
			return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
		}
	}); err != nil {
		return err
	}

	// 混合搜索引擎，alpha通过闭包读取最新配置实现热更新
	if err := container.Provide(func(
		l *config.Loader,
		index knowledge.FulltextIndex,
		vectors knowledge.VectorStore,
		embedder knowledge.Embedder,
		processor *language.Processor,
	) *knowledge.HybridSearchEngine {
		cfg := l.Get()
		return knowledge.NewHybridSearchEngine(index, vectors, embedder, processor, knowledge.SearchOptions{
			Alpha:          func() float64 { return l.Get().Search.Alpha },
			CandidateLimit: cfg.Search.CandidateLimit,
			LexicalTimeout: time.Duration(cfg.Search.LexicalTimeoutMS) * time.Millisecond,
			VectorTimeout:  time.Duration(cfg.Search.VectorTimeoutMS) * time.Millisecond,
			SuggestLimit:   cfg.Search.SuggestLimit,
		})
	}); err != nil {
		return err
	}

	// 结果缓存
	if err := container.Provide(func(l *config.Loader, client *redis.Client) *cache.ResultCache {
		cfg := l.Get()
		var backend cache.Backend
		switch {
		case !cfg.Cache.Enabled:
			backend = &cache.NoopBackend{}
		case client != nil:
			backend = cache.NewRedisBackend(client)
		default:
			backend = cache.NewMemoryBackend(cfg.Cache.MaxKeys)
		}
		return cache.NewResultCache(backend, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}); err != nil {
		return err
	}

	// 失效信号发布者，Kafka未启用时使用Noop
	if err := container.Provide(func(l *config.Loader) (ingest.InvalidationPublisher, error) {
		cfg := l.Get()
		if !cfg.Kafka.Enabled {
			return &ingest.NoopPublisher{}, nil
		}
		return kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.InvalidationTopic)
	}); err != nil {
		return err
	}

	// 向量补偿任务存储
	if err := container.Provide(func(db *gorm.DB) (ingest.BackfillStore, error) {
		if db == nil {
			return &ingest.NoopBackfillStore{}, nil
		}
		return ingest.NewGormBackfillStore(db)
	}); err != nil {
		return err
	}

	// 文档索引器
	if err := container.Provide(func(
		l *config.Loader,
		index knowledge.FulltextIndex,
		vectors knowledge.VectorStore,
		embedder knowledge.Embedder,
		processor *language.Processor,
		chunker *knowledge.Chunker,
		publisher ingest.InvalidationPublisher,
		backfill ingest.BackfillStore,
		m *metrics.Metrics,
	) *ingest.Indexer {
		cfg := l.Get()
		return ingest.NewIndexer(index, vectors, embedder, processor, chunker, publisher, backfill, ingest.IndexerOptions{
			PurgeDelay: time.Duration(cfg.Ingest.PurgeDelaySeconds) * time.Second,
			Metrics:    m,
		})
	}); err != nil {
		return err
	}

	// 变更事件处理工作池
	if err := container.Provide(func(l *config.Loader, indexer *ingest.Indexer, m *metrics.Metrics) *ingest.Pool {
		cfg := l.Get()
		return ingest.NewPool(indexer, ingest.PoolOptions{
			Workers:      cfg.Ingest.Workers,
			QueueSize:    cfg.Ingest.QueueSize,
			MaxRetries:   cfg.Ingest.MaxRetries,
			RetryBackoff: time.Duration(cfg.Ingest.RetryBackoffMS) * time.Millisecond,
			Metrics:      m,
		})
	}); err != nil {
		return err
	}

	// 向量补偿后台任务
	if err := container.Provide(func(
		l *config.Loader,
		store ingest.BackfillStore,
		index knowledge.FulltextIndex,
		vectors knowledge.VectorStore,
		embedder knowledge.Embedder,
		chunker *knowledge.Chunker,
		m *metrics.Metrics,
	) *ingest.BackfillWorker {
		cfg := l.Get()
		interval := time.Duration(cfg.Ingest.BackfillIntervalSeconds) * time.Second
		return ingest.NewBackfillWorker(store, index, vectors, embedder, chunker, interval).WithMetrics(m)
	}); err != nil {
		return err
	}

	// 指标
	if err := container.Provide(func() *metrics.Metrics {
		return metrics.New(prometheus.DefaultRegisterer)
	}); err != nil {
		return err
	}

	// 搜索服务
	if err := container.Provide(services.NewSearchService); err != nil {
		return err
	}

	// Kafka消费者，未启用时返回nil
	if err := container.Provide(func(l *config.Loader) (*kafka.Consumer, error) {
		cfg := l.Get()
		if !cfg.Kafka.Enabled {
			log.Info("kafka disabled, change events will not be consumed")
			return nil, nil
		}
		topics := []string{cfg.Kafka.EventTopic, cfg.Kafka.InvalidationTopic}
		return kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, topics)
	}); err != nil {
		return err
	}

	log.Debug("all providers registered")
	return nil
}
