// Package outbox реализует Outbox Pattern для гарантированной доставки
// доменных событий в Kafka. Репозитории агрегатов (payment / transaction /
// saga) в одной транзакции БД пишут бизнес-данные + записи outbox.
// Отдельный OutboxWorker читает outbox и отправляет события в Kafka
// (доставка at-least-once, дедупликация на консьюмере по event_id).
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/payments-platform/pkg/events"
	"example.com/payments-platform/pkg/kafka"
)

// Outbox — запись в таблице outbox для гарантированной доставки в Kafka.
// ID записи совпадает с event_id конверта: одна запись — одно событие,
// событие не публикуется дважды для одной версии агрегата.
type Outbox struct {
	ID            string            // UUID события (event_id конверта)
	AggregateType string            // Тип агрегата (payment / transaction / saga)
	AggregateID   string            // ID агрегата
	TenantID      string            // Арендатор (изоляция сквозная)
	EventType     string            // Тип события из канонического набора
	Topic         string            // Kafka топик
	MessageKey    string            // Ключ сообщения (для партиционирования)
	Payload       []byte            // JSON конверта события
	Headers       map[string]string // Headers для Kafka (trace_id, correlation_id, tenant_id)
	CreatedAt     time.Time         // Время создания
	ProcessedAt   *time.Time        // Время обработки (nil = не обработана)
	RetryCount    int               // Количество попыток отправки
	LastError     *string           // Последняя ошибка
}

// FromEnvelope создаёт запись outbox из конверта доменного события.
// Ключ сообщения — ID агрегата: события одного агрегата попадают в одну
// партицию и читаются консьюмерами в порядке эмиссии.
func FromEnvelope(e *events.Envelope) (*Outbox, error) {
	if !events.IsKnown(e.Type) {
		return nil, fmt.Errorf("неизвестный тип события: %s", e.Type)
	}

	payload, err := e.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", e.EventID, err)
	}

	headers := map[string]string{}
	if e.CorrelationID != "" {
		headers[kafka.HeaderCorrelationID] = e.CorrelationID
	}
	if e.TenantID != "" {
		headers[kafka.HeaderTenantID] = e.TenantID
	}

	return &Outbox{
		ID:            e.EventID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		TenantID:      e.TenantID,
		EventType:     string(e.Type),
		Topic:         kafka.TopicPaymentEvents,
		MessageKey:    e.AggregateID,
		Payload:       payload,
		Headers:       headers,
	}, nil
}

// HeadersJSON возвращает headers в формате JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
