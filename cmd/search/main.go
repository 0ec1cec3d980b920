package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/knowhub/search-go/internal/config"
	"github.com/knowhub/search-go/internal/di"
	"github.com/knowhub/search-go/internal/ingest"
	"github.com/knowhub/search-go/internal/kafka"
	"github.com/knowhub/search-go/internal/logger"
	"github.com/knowhub/search-go/internal/services"
)

func main() {
	// .env为可选，容器环境直接注入环境变量
	_ = godotenv.Load()

	if err := logger.InitLogger(); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	loader, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	loader.Watch()

	container, err := di.BuildContainer(loader)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = container.Invoke(func(
		pool *ingest.Pool,
		indexer *ingest.Indexer,
		backfill *ingest.BackfillWorker,
		service *services.SearchService,
		consumer *kafka.Consumer,
	) {
		pool.Start(ctx)
		go indexer.RunPurgeLoop(ctx)
		go backfill.Run(ctx)

		if consumer != nil {
			cfg := loader.Get()
			consumer.RegisterHandler(cfg.Kafka.EventTopic, func(ctx context.Context, msg *sarama.ConsumerMessage) error {
				event, err := kafka.ParseChangeEvent(msg.Value)
				if err != nil {
					logger.Warn("dropping malformed change event", zap.Error(err))
					return nil
				}
				return pool.Submit(ctx, *event)
			})
			consumer.RegisterHandler(cfg.Kafka.InvalidationTopic, func(ctx context.Context, msg *sarama.ConsumerMessage) error {
				signal, err := kafka.ParseInvalidationSignal(msg.Value)
				if err != nil {
					logger.Warn("dropping malformed invalidation signal", zap.Error(err))
					return nil
				}
				service.HandleInvalidation(ctx, *signal)
				return nil
			})
			consumer.Start()
		}
	})
	if err != nil {
		logger.Fatal("failed to start components", zap.Error(err))
	}

	metricsSrv := startMetricsServer(loader.Get().Server.MetricsPort)

	logger.Info("🚀 search service started",
		zap.String("env", loader.Get().Server.Env),
		zap.String("metrics_port", loader.Get().Server.MetricsPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down search service")

	err = container.Invoke(func(consumer *kafka.Consumer) {
		if consumer != nil {
			if cerr := consumer.Close(); cerr != nil {
				logger.Warn("consumer close failed", zap.Error(cerr))
			}
		}
	})
	if err != nil {
		logger.Warn("consumer shutdown failed", zap.Error(err))
	}

	cancel()

	err = container.Invoke(func(pool *ingest.Pool) {
		pool.Wait()
	})
	if err != nil {
		logger.Warn("pool shutdown failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}

	logger.Info("search service stopped")
}

func startMetricsServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return srv
}
