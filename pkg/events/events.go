// Package events содержит канонический набор доменных событий платформы
// и конверт (envelope) для их публикации через outbox в Kafka.
// Единый источник правды для типов событий — исключает рассинхронизацию
// между ядром, воркером публикации и консьюмерами.
//
// Набор событий закрытый: агрегаты ссылаются только на типы из этого пакета.
// Консьюмеры обязаны быть идемпотентными по event_id (доставка at-least-once).
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type — стабильный строковый тип доменного события.
type Type string

// =============================================================================
// События платежа
// =============================================================================

const (
	// TypePaymentInitiated — платёж принят и сага запущена.
	TypePaymentInitiated Type = "PaymentInitiated"

	// TypePaymentValidated — платёж прошёл валидацию.
	TypePaymentValidated Type = "PaymentValidated"

	// TypePaymentHeld — платёж удержан решением маршрутизации.
	TypePaymentHeld Type = "PaymentHeld"

	// TypePaymentCompleted — платёж успешно завершён.
	TypePaymentCompleted Type = "PaymentCompleted"

	// TypePaymentFailed — платёж завершился неудачей (отказ или компенсация).
	TypePaymentFailed Type = "PaymentFailed"
)

// =============================================================================
// События транзакции (двойная запись)
// =============================================================================

const (
	// TypeTransactionCreated — транзакция создана с парой проводок.
	TypeTransactionCreated Type = "TransactionCreated"

	// TypeTransactionProcessing — транзакция переведена в обработку.
	TypeTransactionProcessing Type = "TransactionProcessing"

	// TypeTransactionCleared — транзакция передана в клиринг.
	TypeTransactionCleared Type = "TransactionCleared"

	// TypeTransactionCompleted — транзакция завершена.
	TypeTransactionCompleted Type = "TransactionCompleted"

	// TypeTransactionFailed — транзакция отменена/не удалась.
	TypeTransactionFailed Type = "TransactionFailed"
)

// =============================================================================
// События саги
// =============================================================================

const (
	// TypeSagaStarted — сага создана и поставлена в очередь.
	TypeSagaStarted Type = "SagaStarted"

	// TypeSagaStepExecuted — шаг начал выполняться.
	TypeSagaStepExecuted Type = "SagaStepExecuted"

	// TypeSagaStepCompleted — шаг успешно выполнен.
	TypeSagaStepCompleted Type = "SagaStepCompleted"

	// TypeSagaStepFailed — шаг не удался после всех повторов.
	TypeSagaStepFailed Type = "SagaStepFailed"

	// TypeSagaCompensationStarted — сага перешла в компенсацию.
	TypeSagaCompensationStarted Type = "SagaCompensationStarted"

	// TypeSagaStepCompensated — компенсирующее действие шага выполнено
	// (для шагов без компенсации событие тоже публикуется — аудит).
	TypeSagaStepCompensated Type = "SagaStepCompensated"

	// TypeSagaCompensated — все завершённые шаги компенсированы.
	TypeSagaCompensated Type = "SagaCompensated"

	// TypeSagaCompleted — все шаги выполнены, сага успешна.
	TypeSagaCompleted Type = "SagaCompleted"
)

// Типы агрегатов, фигурирующие в конверте события и в outbox.
const (
	AggregatePayment     = "payment"
	AggregateTransaction = "transaction"
	AggregateSaga        = "saga"
)

// known — закрытый реестр типов событий.
var known = map[Type]struct{}{
	TypePaymentInitiated:        {},
	TypePaymentValidated:        {},
	TypePaymentHeld:             {},
	TypePaymentCompleted:        {},
	TypePaymentFailed:           {},
	TypeTransactionCreated:      {},
	TypeTransactionProcessing:   {},
	TypeTransactionCleared:      {},
	TypeTransactionCompleted:    {},
	TypeTransactionFailed:       {},
	TypeSagaStarted:             {},
	TypeSagaStepExecuted:        {},
	TypeSagaStepCompleted:       {},
	TypeSagaStepFailed:          {},
	TypeSagaCompensationStarted: {},
	TypeSagaStepCompensated:     {},
	TypeSagaCompensated:         {},
	TypeSagaCompleted:           {},
}

// IsKnown возвращает true, если тип события входит в канонический набор.
func IsKnown(t Type) bool {
	_, ok := known[t]
	return ok
}

// Envelope — конверт доменного события.
// Несёт общий заголовок {event_id, occurred_at, aggregate_id} и полезную
// нагрузку конкретного события. Публикуется в Kafka воркером outbox.
type Envelope struct {
	EventID          string          `json:"event_id"`           // UUID события (ключ дедупликации консьюмера)
	Type             Type            `json:"event_type"`         // Тип из канонического набора
	AggregateType    string          `json:"aggregate_type"`     // payment / transaction / saga
	AggregateID      string          `json:"aggregate_id"`       // ID агрегата-источника
	AggregateVersion int64           `json:"aggregate_version"`  // Версия агрегата на момент эмиссии
	TenantID         string          `json:"tenant_id"`          // Арендатор
	BusinessUnitID   string          `json:"business_unit_id,omitempty"`
	BusinessKey      string          `json:"business_key,omitempty"`   // Бизнес-ключ (например, paymentId для саги)
	CorrelationID    string          `json:"correlation_id,omitempty"` // Сквозной идентификатор бизнес-операции
	OccurredAt       time.Time       `json:"occurred_at"`
	Payload          json.RawMessage `json:"payload,omitempty"` // Полезная нагрузка конкретного события
}

// New создаёт конверт события с новым event_id и текущим временем.
func New(t Type, aggregateType, aggregateID string, version int64) *Envelope {
	return &Envelope{
		EventID:          uuid.NewString(),
		Type:             t,
		AggregateType:    aggregateType,
		AggregateID:      aggregateID,
		AggregateVersion: version,
		OccurredAt:       time.Now().UTC(),
	}
}

// WithTenant заполняет поля арендатора.
func (e *Envelope) WithTenant(tenantID, businessUnitID string) *Envelope {
	e.TenantID = tenantID
	e.BusinessUnitID = businessUnitID
	return e
}

// WithCorrelation заполняет бизнес-ключ и correlation_id.
func (e *Envelope) WithCorrelation(businessKey, correlationID string) *Envelope {
	e.BusinessKey = businessKey
	e.CorrelationID = correlationID
	return e
}

// WithPayload сериализует полезную нагрузку события.
func (e *Envelope) WithPayload(v any) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	e.Payload = data
	return e, nil
}

// ToJSON сериализует конверт в JSON для записи в outbox.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON десериализует конверт из JSON.
func FromJSON(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
