package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/payments-platform/pkg/logger"
)

// Producer пишет сообщения в топики платформы. Каждое сообщение
// обогащается заголовками trace_id / correlation_id / tenant_id из
// контекста — консьюмеры восстанавливают их на своей стороне.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer создаёт Producer.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Balancer: &kafka.LeastBytes{},
		// Низкий BatchTimeout: подтверждения расчёта и команды клиринга
		// не должны залёживаться в батче.
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Msg("Создан Kafka Producer")

	return &Producer{writer: writer}, nil
}

// Send отправляет сообщение в топик с заголовками из контекста.
func (p *Producer) Send(ctx context.Context, topic string, key []byte, value []byte) error {
	return p.SendMessage(ctx, &Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

// SendMessage отправляет подготовленный Message. Отсутствующие
// стандартные заголовки добираются из контекста; заданные явно не
// перетираются.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	p.enrichHeaders(ctx, msg)

	kafkaMsg := msg.toKafkaMessage()
	if kafkaMsg.Time.IsZero() {
		kafkaMsg.Time = time.Now()
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		logger.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Str("trace_id", TraceIDFromContext(ctx)).
			Msg("Ошибка отправки сообщения в Kafka")
		return fmt.Errorf("ошибка отправки в Kafka: %w", err)
	}

	logger.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Str("trace_id", TraceIDFromContext(ctx)).
		Msg("Сообщение отправлено в Kafka")
	return nil
}

// SendToDLQ публикует ядовитое сообщение в DLQ, сохраняя исходные
// заголовки и добавляя причину и топик-источник.
func (p *Producer) SendToDLQ(ctx context.Context, originalMsg *Message, processingError error) error {
	headers := make(map[string]string, len(originalMsg.Headers)+3)
	for k, v := range originalMsg.Headers {
		headers[k] = v
	}
	headers["dlq_error"] = processingError.Error()
	headers["dlq_original_topic"] = originalMsg.Topic
	headers["dlq_timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	logger.Warn().
		Str("topic", originalMsg.Topic).
		Str("key", string(originalMsg.Key)).
		Err(processingError).
		Msg("Отправка сообщения в DLQ")

	return p.SendMessage(ctx, &Message{
		Topic:   TopicDLQ,
		Key:     originalMsg.Key,
		Value:   originalMsg.Value,
		Headers: headers,
	})
}

// enrichHeaders добирает стандартные заголовки из контекста.
func (p *Producer) enrichHeaders(ctx context.Context, msg *Message) {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string, 4)
	}

	set := func(key, value string) {
		if value == "" {
			return
		}
		if _, ok := msg.Headers[key]; !ok {
			msg.Headers[key] = value
		}
	}

	set(HeaderTraceID, TraceIDFromContext(ctx))
	set(HeaderCorrelationID, CorrelationIDFromContext(ctx))
	set(HeaderTenantID, TenantIDFromContext(ctx))
	set(HeaderTimestamp, time.Now().UTC().Format(time.RFC3339Nano))
}

// Close закрывает writer. Вызывается при остановке сервиса.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}
	logger.Info().Msg("Kafka Producer закрыт")
	return nil
}
