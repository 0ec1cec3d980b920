package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/knowhub/search-go/internal/logger"
)

// RedisOptions Redis连接配置
type RedisOptions struct {
	Host     string
	Port     string
	DB       int
	Password string
}

// NewRedis 创建Redis连接
func NewRedis(opts RedisOptions) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%s", opts.Host, opts.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       opts.DB,
		Password: opts.Password,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Named("database").Info("redis connected",
		zap.String("addr", addr),
		zap.Int("db", opts.DB))
	return rdb, nil
}

// CloseRedis 关闭Redis连接
func CloseRedis(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
