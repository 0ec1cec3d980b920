package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/knowhub/search-go/internal/logger"
	"github.com/knowhub/search-go/internal/models"
)

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer Kafka消费者
type Consumer struct {
	consumer sarama.ConsumerGroup
	groupID  string
	topics   []string
	handlers map[string]MessageHandler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      *zap.Logger
}

// NewConsumer 创建Kafka消费者
func NewConsumer(brokers []string, groupID string, topics []string) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	consumer := &Consumer{
		consumer: consumerGroup,
		groupID:  groupID,
		topics:   topics,
		handlers: make(map[string]MessageHandler),
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.Named("kafka_consumer"),
	}

	consumer.log.Info("kafka consumer created",
		zap.Strings("brokers", brokers),
		zap.String("group_id", groupID),
		zap.Strings("topics", topics))
	return consumer, nil
}

// RegisterHandler 注册topic对应的消息处理器
func (c *Consumer) RegisterHandler(topic string, handler MessageHandler) {
	if c == nil {
		return
	}
	c.handlers[topic] = handler
	c.log.Info("kafka handler registered", zap.String("topic", topic))
}

// Start 启动消费循环
func (c *Consumer) Start() {
	if c == nil || c.consumer == nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				c.log.Info("kafka consumer stopped")
				return
			default:
				handler := &consumerGroupHandler{handlers: c.handlers, log: c.log}
				if err := c.consumer.Consume(c.ctx, c.topics, handler); err != nil {
					c.log.Error("kafka consume failed", zap.Error(err))
					time.Sleep(5 * time.Second)
				}
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.log.Error("kafka consumer error", zap.Error(err))
		}
	}()
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	if c.consumer != nil {
		return c.consumer.Close()
	}
	return nil
}

// consumerGroupHandler 消费者组处理器
type consumerGroupHandler struct {
	handlers map[string]MessageHandler
	log      *zap.Logger
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			handler, ok := h.handlers[message.Topic]
			if !ok {
				h.log.Warn("no handler for topic", zap.String("topic", message.Topic))
				session.MarkMessage(message, "")
				continue
			}

			if err := handler(session.Context(), message); err != nil {
				h.log.Error("message handling failed",
					zap.String("topic", message.Topic),
					zap.Int("partition", int(message.Partition)),
					zap.Int64("offset", message.Offset),
					zap.Error(err))
				// 不标记位点，等待重投
				continue
			}

			session.MarkMessage(message, "")
			h.log.Debug("message handled",
				zap.String("topic", message.Topic),
				zap.Int("partition", int(message.Partition)),
				zap.Int64("offset", message.Offset))

		case <-session.Context().Done():
			return nil
		}
	}
}

// ParseChangeEvent 解析内容库变更事件
func ParseChangeEvent(data []byte) (*models.ChangeEvent, error) {
	var event models.ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to parse change event: %w", err)
	}
	return &event, nil
}

// ParseInvalidationSignal 解析缓存失效信号
func ParseInvalidationSignal(data []byte) (*models.InvalidationSignal, error) {
	var signal models.InvalidationSignal
	if err := json.Unmarshal(data, &signal); err != nil {
		return nil, fmt.Errorf("failed to parse invalidation signal: %w", err)
	}
	return &signal, nil
}
