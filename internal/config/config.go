package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 搜索核心的全部配置
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Milvus        MilvusConfig
	Embedding     EmbeddingConfig
	Search        SearchConfig
	Cache         CacheConfig
	Ingest        IngestConfig
}

type ServerConfig struct {
	Env         string
	MetricsPort string
}

type DatabaseConfig struct {
	URL     string
	Enabled bool
}

type RedisConfig struct {
	Host     string
	Port     string
	DB       int
	Password string
	Enabled  bool
}

type KafkaConfig struct {
	Brokers           []string
	EventTopic        string
	InvalidationTopic string
	GroupID           string
	Enabled           bool
}

type ElasticsearchConfig struct {
	Addresses   []string
	Username    string
	Password    string
	APIKey      string
	IndexPrefix string
}

type MilvusConfig struct {
	Address          string
	Username         string
	Password         string
	Database         string
	CollectionPrefix string
	TLS              bool
}

type EmbeddingConfig struct {
	Provider     string // openai | local | none
	APIKey       string
	Model        string
	Dimensions   int
	ChunkSize    int
	ChunkOverlap int
}

type SearchConfig struct {
	Alpha            float64 // 词法权重α，fused = α·lexical + (1−α)·vector
	CandidateLimit   int
	LexicalTimeoutMS int
	VectorTimeoutMS  int
	SuggestLimit     int
}

type CacheConfig struct {
	Enabled    bool
	TTLSeconds int
	MaxKeys    int
}

type IngestConfig struct {
	Workers                 int
	QueueSize               int
	MaxRetries              int
	RetryBackoffMS          int
	PurgeDelaySeconds       int
	BackfillIntervalSeconds int
}

// Loader 持有viper实例，支持配置热更新
type Loader struct {
	v         *viper.Viper
	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config)
}

// Load 加载配置文件和环境变量覆盖
func Load() (*Loader, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件缺失时仅依赖默认值和环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnvOverrides(v)

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	return &Loader{v: v, current: cfg}, nil
}

// Get 返回当前配置快照
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange 注册配置变更回调（用于α权重、缓存TTL热更新）
func (l *Loader) OnChange(cb func(*Config)) {
	l.mu.Lock()
	l.callbacks = append(l.callbacks, cb)
	l.mu.Unlock()
}

// Watch 监听配置文件变更
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(l.v)
		if err != nil {
			return
		}
		l.mu.Lock()
		l.current = cfg
		cbs := append([]func(*Config){}, l.callbacks...)
		l.mu.Unlock()
		for _, cb := range cbs {
			cb(cfg)
		}
	})
	l.v.WatchConfig()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Search.Alpha < 0 || cfg.Search.Alpha > 1 {
		return nil, fmt.Errorf("search.alpha must be in [0,1], got %v", cfg.Search.Alpha)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.env", "production")
	v.SetDefault("server.metricsport", "9102")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.eventtopic", "content.document.events")
	v.SetDefault("kafka.invalidationtopic", "search.cache.invalidation")
	v.SetDefault("kafka.groupid", "search-indexer")

	v.SetDefault("elasticsearch.indexprefix", "kb_search")

	v.SetDefault("milvus.address", "localhost:19530")
	v.SetDefault("milvus.database", "default")
	v.SetDefault("milvus.collectionprefix", "kb_vectors")

	v.SetDefault("embedding.provider", "none")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.chunksize", 512)
	v.SetDefault("embedding.chunkoverlap", 64)

	v.SetDefault("search.alpha", 0.5)
	v.SetDefault("search.candidatelimit", 500)
	v.SetDefault("search.lexicaltimeoutms", 2000)
	v.SetDefault("search.vectortimeoutms", 1500)
	v.SetDefault("search.suggestlimit", 10)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttlseconds", 300)
	v.SetDefault("cache.maxkeys", 10000)

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.queuesize", 256)
	v.SetDefault("ingest.maxretries", 3)
	v.SetDefault("ingest.retrybackoffms", 500)
	v.SetDefault("ingest.purgedelayseconds", 300)
	v.SetDefault("ingest.backfillintervalseconds", 60)
}

func applyEnvOverrides(v *viper.Viper) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
		v.Set("database.enabled", true)
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		v.Set("redis.host", redisHost)
		v.Set("redis.enabled", true)
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		v.Set("redis.port", redisPort)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		v.Set("redis.password", redisPassword)
	}
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		// 支持逗号分隔的broker列表
		brokers := strings.Split(kafkaBrokers, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		v.Set("kafka.brokers", brokers)
		v.Set("kafka.enabled", true)
	}
	if topic := os.Getenv("KAFKA_EVENT_TOPIC"); topic != "" {
		v.Set("kafka.eventtopic", topic)
	}
	if topic := os.Getenv("KAFKA_INVALIDATION_TOPIC"); topic != "" {
		v.Set("kafka.invalidationtopic", topic)
	}
	if groupID := os.Getenv("KAFKA_GROUP_ID"); groupID != "" {
		v.Set("kafka.groupid", groupID)
	}
	if esAddresses := os.Getenv("ELASTICSEARCH_ADDRESSES"); esAddresses != "" {
		addrs := strings.Split(esAddresses, ",")
		for i := range addrs {
			addrs[i] = strings.TrimSpace(addrs[i])
		}
		v.Set("elasticsearch.addresses", addrs)
	}
	if esUser := os.Getenv("ELASTICSEARCH_USERNAME"); esUser != "" {
		v.Set("elasticsearch.username", esUser)
	}
	if esPassword := os.Getenv("ELASTICSEARCH_PASSWORD"); esPassword != "" {
		v.Set("elasticsearch.password", esPassword)
	}
	if milvusAddr := os.Getenv("MILVUS_ADDRESS"); milvusAddr != "" {
		v.Set("milvus.address", milvusAddr)
	}
	if openaiKey := os.Getenv("OPENAI_API_KEY"); openaiKey != "" {
		v.Set("embedding.apikey", openaiKey)
		v.Set("embedding.provider", "openai")
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		v.Set("embedding.model", model)
	}
}
