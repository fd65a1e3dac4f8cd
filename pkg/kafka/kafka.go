// Package kafka предоставляет обёртки над kafka-go для платёжной платформы.
// Включает Producer и Consumer с поддержкой headers, трассировки и graceful shutdown.
// Producer используется воркером outbox (публикация доменных событий) и
// loopback-адаптером клиринга; Consumer — трекером расчётов (clearing.replies).
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/payments-platform/pkg/logger"
)

// Топики платформы.
const (
	// TopicPaymentEvents - топик доменных событий (публикуются воркером outbox).
	TopicPaymentEvents = "payments.events"

	// TopicClearingCommands - топик заявок на клиринг (ядро -> клиринговый адаптер).
	TopicClearingCommands = "clearing.commands"

	// TopicClearingReplies - топик подтверждений расчёта (клиринговый адаптер -> ядро).
	TopicClearingReplies = "clearing.replies"

	// TopicDLQ - Dead Letter Queue для необработанных сообщений.
	TopicDLQ = "dlq.payments"
)

// Стандартные headers сообщений. Producer заполняет их из контекста,
// Consumer восстанавливает контекст на своей стороне — так trace_id,
// correlation_id и tenant_id переживают границу Kafka.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTenantID      = "tenant_id"
	HeaderTimestamp     = "timestamp"
)

// Config содержит настройки подключения к Kafka.
type Config struct {
	Brokers       []string
	ConsumerGroup string
}

// Message — транспортное сообщение, развязанное от типов kafka-go.
// Partition и Offset заполняются только у прочитанных сообщений.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// Хелперы контекста делегируют в pkg/logger, чтобы у producer'а и
// консьюмеров был один источник trace_id / correlation_id / tenant_id.

// TraceIDFromContext извлекает trace_id из context.
func TraceIDFromContext(ctx context.Context) string {
	return logger.TraceIDFromContext(ctx)
}

// CorrelationIDFromContext извлекает correlation_id из context.
func CorrelationIDFromContext(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}

// TenantIDFromContext извлекает tenant_id из context.
func TenantIDFromContext(ctx context.Context) string {
	return logger.TenantFromContext(ctx)
}

// ContextWithTraceID добавляет trace_id в context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return logger.WithTraceID(ctx, traceID)
}

// ContextWithCorrelationID добавляет correlation_id в context.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return logger.WithCorrelationID(ctx, correlationID)
}
