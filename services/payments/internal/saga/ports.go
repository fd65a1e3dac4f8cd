package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/payments-platform/services/payments/internal/domain"
)

// =============================================================================
// Внешние порты шагов саги
// Интерфейсы живут в ядре, реализации подключаются снаружи (loopback в dev,
// боевые адаптеры — отдельными сервисами).
// =============================================================================

// AccountAdapter — порт резервирования средств.
// Обе операции идемпотентны по (sagaID, stepID): повторная доставка
// команды шага не резервирует и не возвращает средства дважды.
type AccountAdapter interface {
	Reserve(ctx context.Context, account domain.AccountNumber, amount domain.Money, sagaID, stepID string) error
	Release(ctx context.Context, account domain.AccountNumber, amount domain.Money, sagaID, stepID string) error
}

// ClearingAdapter — порт клиринговой системы.
// Submit возвращает clearingReference — ссылку для ожидания расчёта
// и для разворота. Reverse вызывается компенсацией только если заявка
// была подтверждена (clearingReference известен).
type ClearingAdapter interface {
	Submit(ctx context.Context, sub ClearingSubmission) (clearingReference string, err error)
	Reverse(ctx context.Context, clearingReference, sagaID, stepID string) error
}

// ClearingSubmission — заявка на клиринг.
type ClearingSubmission struct {
	TransactionID  string
	PaymentID      string
	TenantID       string
	ClearingSystem string
	Amount         domain.Money
	SagaID         string
	StepID         string
}

// SettlementResult — итог расчёта по заявке.
type SettlementResult struct {
	ClearingReference string
	Settled           bool
	Reason            string // Причина отказа при Settled=false
	SettledAt         time.Time
}

// SettlementPort — порт ожидания подтверждения расчёта.
type SettlementPort interface {
	// WaitFor блокируется до прихода подтверждения по clearingReference
	// либо до истечения таймаута.
	WaitFor(ctx context.Context, clearingReference string, timeout time.Duration) (*SettlementResult, error)

	// Cancel снимает ожидание (компенсация шага AwaitSettlement).
	Cancel(ctx context.Context, clearingReference string) error
}

// NotificationPort — порт уведомлений. Шаг Notify выполняется best-effort.
type NotificationPort interface {
	Send(ctx context.Context, businessKey, eventType string) error
}

// =============================================================================
// Реестр обработчиков шагов
// =============================================================================

// StepRequest — вход обработчика шага.
// StepResults содержит результаты завершённых шагов по имени — компенсация
// и зависимые шаги читают оттуда clearingReference, transactionId и прочее.
type StepRequest struct {
	SagaID      string
	StepID      string
	BusinessKey string
	Tenant      domain.TenantContext
	Payload     json.RawMessage
	StepResults map[string]string
	Timeout     time.Duration // Эффективный таймаут шага
}

// ActionFunc — действие шага. Возвращает JSON результата (может быть пустым).
type ActionFunc func(ctx context.Context, req StepRequest) (string, error)

// CompensationFunc — компенсирующее действие. originalResult — результат
// прямого действия этого шага.
type CompensationFunc func(ctx context.Context, req StepRequest, originalResult string) error

// HandlerRegistry — привязка действий шаблонов к портам.
// Ключ — "service.action": шаблоны ссылаются на действия по именам,
// привязка к реализациям происходит при сборке сервиса.
type HandlerRegistry struct {
	actions       map[string]ActionFunc
	compensations map[string]CompensationFunc
}

// NewHandlerRegistry создаёт пустой реестр обработчиков.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		actions:       make(map[string]ActionFunc),
		compensations: make(map[string]CompensationFunc),
	}
}

// RegisterAction привязывает действие шага.
func (r *HandlerRegistry) RegisterAction(service, action string, fn ActionFunc) {
	r.actions[service+"."+action] = fn
}

// RegisterCompensation привязывает компенсирующее действие.
func (r *HandlerRegistry) RegisterCompensation(service, action string, fn CompensationFunc) {
	r.compensations[service+"."+action] = fn
}

// Action возвращает действие шага.
func (r *HandlerRegistry) Action(service, action string) (ActionFunc, error) {
	fn, ok := r.actions[service+"."+action]
	if !ok {
		return nil, fmt.Errorf("действие %s.%s не привязано", service, action)
	}
	return fn, nil
}

// Compensation возвращает компенсирующее действие.
func (r *HandlerRegistry) Compensation(service, action string) (CompensationFunc, error) {
	fn, ok := r.compensations[service+"."+action]
	if !ok {
		return nil, fmt.Errorf("компенсация %s.%s не привязана", service, action)
	}
	return fn, nil
}
