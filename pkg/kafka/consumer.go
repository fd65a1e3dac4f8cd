package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"

	"example.com/payments-platform/pkg/logger"
)

// MessageHandler обрабатывает одно сообщение. Контекст уже обогащён
// заголовками (trace_id, correlation_id, tenant_id).
type MessageHandler func(ctx context.Context, msg *Message) error

// Число попыток обработки сообщения до отправки в DLQ.
const consumerMaxAttempts = 4

// Consumer читает топик в составе consumer group. Обработка каждого
// сообщения повторяется с backoff; исчерпавшее попытки сообщение уходит
// в DLQ, offset коммитится в любом случае — топик не встаёт колом из-за
// одного ядовитого сообщения.
type Consumer struct {
	reader *kafka.Reader
	dlq    *Producer
	topic  string
}

// NewConsumer создаёт Consumer топика. Инстансы с одним groupID делят
// партиции между собой.
func NewConsumer(cfg Config, topic string, groupID string) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}
	if topic == "" {
		return nil, fmt.Errorf("не указан топик")
	}
	if groupID == "" {
		return nil, fmt.Errorf("не указан group ID")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        100 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", topic).
		Str("group_id", groupID).
		Msg("Создан Kafka Consumer")

	return &Consumer{
		reader: reader,
		topic:  topic,
	}, nil
}

// SetDLQProducer включает отправку необработанных сообщений в DLQ.
// Без producer сообщение после исчерпания попыток просто пропускается.
func (c *Consumer) SetDLQProducer(p *Producer) {
	c.dlq = p
}

// Consume читает сообщения до отмены контекста.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	logger.Info().
		Str("topic", c.topic).
		Msg("Запуск чтения сообщений из Kafka")

	for {
		kafkaMsg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Info().
					Str("topic", c.topic).
					Msg("Остановка Kafka Consumer")
				return err
			}
			logger.Error().
				Err(err).
				Str("topic", c.topic).
				Msg("Ошибка чтения сообщения из Kafka")
			continue
		}

		msg := fromKafkaMessage(kafkaMsg)
		if err := c.handleWithRetry(ctx, msg, handler); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Error().
				Err(err).
				Str("topic", c.topic).
				Str("key", string(msg.Key)).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Сообщение не обработано")

			if c.dlq != nil {
				if dlqErr := c.dlq.SendToDLQ(ctx, msg, err); dlqErr != nil {
					logger.Error().Err(dlqErr).Msg("Ошибка отправки в DLQ")
				}
			}
		}

		// Offset коммитится и для ядовитых сообщений: они уже в DLQ.
		if err := c.commitMessage(ctx, msg); err != nil {
			logger.Error().Err(err).Msg("Ошибка коммита offset")
		}
	}
}

// handleWithRetry выполняет обработчик с повторами по backoff.
func (c *Consumer) handleWithRetry(ctx context.Context, msg *Message, handler MessageHandler) error {
	msgCtx := c.contextFromMessage(ctx, msg)

	logger.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Str("trace_id", TraceIDFromContext(msgCtx)).
		Msg("Получено сообщение из Kafka")

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(msgCtx, func() (struct{}, error) {
		if err := handler(msgCtx, msg); err != nil {
			logger.Warn().
				Err(err).
				Str("key", string(msg.Key)).
				Msg("Повторная попытка обработки сообщения")
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(consumerMaxAttempts))
	return err
}

// contextFromMessage переносит заголовки сообщения в context.
func (c *Consumer) contextFromMessage(ctx context.Context, msg *Message) context.Context {
	if traceID, ok := msg.Headers[HeaderTraceID]; ok {
		ctx = ContextWithTraceID(ctx, traceID)
	}
	if correlationID, ok := msg.Headers[HeaderCorrelationID]; ok {
		ctx = ContextWithCorrelationID(ctx, correlationID)
	}
	if tenantID, ok := msg.Headers[HeaderTenantID]; ok {
		ctx = logger.WithTenant(ctx, tenantID, "")
	}
	return ctx
}

// commitMessage коммитит offset сообщения.
func (c *Consumer) commitMessage(ctx context.Context, msg *Message) error {
	return c.reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

// Close закрывает reader. Вызывается после остановки Consume.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия consumer: %w", err)
	}
	logger.Info().
		Str("topic", c.topic).
		Msg("Kafka Consumer закрыт")
	return nil
}
