package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/knowhub/search-go/internal/logger"
	"github.com/knowhub/search-go/internal/models"
)

// Producer Kafka生产者，负责广播缓存失效信号
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

// NewProducer 创建Kafka生产者
func NewProducer(brokers []string, topic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log := logger.Named("kafka_producer")
	log.Info("kafka producer created", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &Producer{
		producer: producer,
		topic:    topic,
		log:      log,
	}, nil
}

// Publish 广播缓存失效信号，按文档ID分区保证同文档信号有序
func (p *Producer) Publish(ctx context.Context, signal models.InvalidationSignal) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to encode invalidation signal: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(signal.DocumentID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.Error("invalidation publish failed", zap.Error(err))
		return fmt.Errorf("failed to send invalidation signal: %w", err)
	}

	p.log.Debug("invalidation signal published",
		zap.String("document_id", signal.DocumentID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
