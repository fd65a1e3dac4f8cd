package domain

import (
	"time"

	"example.com/payments-platform/pkg/events"
)

// PaymentStatus — статус платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusInitiated — платёж принят, сага запущена.
	PaymentStatusInitiated PaymentStatus = "INITIATED"

	// PaymentStatusValidated — платёж прошёл валидацию.
	PaymentStatusValidated PaymentStatus = "VALIDATED"

	// PaymentStatusClearing — платёж передан в клиринговую систему.
	PaymentStatusClearing PaymentStatus = "CLEARING"

	// PaymentStatusCompleted — платёж успешно завершён.
	PaymentStatusCompleted PaymentStatus = "COMPLETED"

	// PaymentStatusFailed — платёж не прошёл (отказ валидации, компенсация, отмена).
	PaymentStatusFailed PaymentStatus = "FAILED"

	// PaymentStatusHeld — платёж удержан решением маршрутизации до ручного разбора.
	PaymentStatusHeld PaymentStatus = "HELD"
)

// IsTerminal возвращает true, если платёж в финальном состоянии.
// HELD не терминальный — оператор может вернуть платёж в обработку или отменить.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// =============================================================================
// Допустимые переходы состояний (State Machine)
// =============================================================================

// allowedTransitions определяет валидные переходы состояний платежа.
// Статусы монотонны: INITIATED → VALIDATED → CLEARING → COMPLETED, либо → FAILED.
var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusInitiated: {PaymentStatusValidated, PaymentStatusFailed},
	PaymentStatusValidated: {PaymentStatusClearing, PaymentStatusHeld, PaymentStatusFailed},
	PaymentStatusClearing:  {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusHeld:      {PaymentStatusClearing, PaymentStatusFailed},
	// PaymentStatusCompleted и PaymentStatusFailed — терминальные, переходов нет
}

// PaymentType — тип платежа, влияет на выбор клиринговой системы.
type PaymentType string

const (
	// PaymentTypeEFT — обычный пакетный перевод (EFT).
	PaymentTypeEFT PaymentType = "EFT"

	// PaymentTypeRTGS — срочный перевод крупной суммы (RTGS).
	PaymentTypeRTGS PaymentType = "RTGS"

	// PaymentTypeInstant — мгновенный платёж.
	PaymentTypeInstant PaymentType = "INSTANT"
)

// Priority — приоритет обработки платежа.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// =============================================================================
// Payment — корневой агрегат платежа
// =============================================================================

// Payment — платёж в системе.
// Доменная сущность без зависимостей от инфраструктуры (GORM, Kafka).
// Мутации добавляют доменные события в Changeset; репозиторий при сохранении
// забирает их через DrainEvents и пишет в outbox атомарно с данными платежа.
type Payment struct {
	ID                 PaymentID     // Идентификатор платежа (UUID)
	Tenant             TenantContext // Арендатор и бизнес-подразделение
	SourceAccount      AccountNumber // Счёт списания
	DestinationAccount AccountNumber // Счёт зачисления
	Amount             Money         // Сумма с валютой
	Reference          string        // Назначение платежа
	Type               PaymentType   // Тип платежа
	Priority           Priority      // Приоритет обработки
	Status             PaymentStatus // Текущий статус
	ClearingSystem     string        // Выбранная клиринговая система (после маршрутизации)
	FailureReason      *string       // Причина ошибки (при FAILED) или удержания (при HELD)
	InitiatedBy        string        // Инициатор платежа
	InitiatedAt        time.Time     // Время инициации
	IdempotencyKey     string        // Ключ идемпотентности инициации
	Version            int64         // Optimistic Locking: инкрементируется при каждом сохранении
	CreatedAt          time.Time     // Время создания записи
	UpdatedAt          time.Time     // Время последнего обновления

	changes Changeset // Буфер доменных событий
}

// paymentEventPayload — полезная нагрузка событий платежа.
type paymentEventPayload struct {
	PaymentID          string `json:"payment_id"`
	SourceAccount      string `json:"source_account"`
	DestinationAccount string `json:"destination_account"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	Status             string `json:"status"`
	ClearingSystem     string `json:"clearing_system,omitempty"`
	Reason             string `json:"reason,omitempty"`
}

// NewPayment создаёт платёж в статусе INITIATED и записывает событие
// PaymentInitiated. Инварианты: сумма строго положительна, счёт списания
// не совпадает со счётом зачисления, контекст арендатора заполнен.
func NewPayment(
	id PaymentID,
	tenant TenantContext,
	source, destination AccountNumber,
	amount Money,
	reference string,
	paymentType PaymentType,
	priority Priority,
	initiatedBy string,
	idempotencyKey string,
) (*Payment, error) {
	if tenant.IsZero() {
		return nil, ErrEmptyTenant
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if source == destination {
		return nil, ErrSameAccount
	}

	now := time.Now()
	p := &Payment{
		ID:                 id,
		Tenant:             tenant,
		SourceAccount:      source,
		DestinationAccount: destination,
		Amount:             amount,
		Reference:          reference,
		Type:               paymentType,
		Priority:           priority,
		Status:             PaymentStatusInitiated,
		InitiatedBy:        initiatedBy,
		InitiatedAt:        now,
		IdempotencyKey:     idempotencyKey,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	p.recordEvent(events.TypePaymentInitiated, "")
	return p, nil
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (p *Payment) CanTransitionTo(newStatus PaymentStatus) bool {
	allowed, ok := allowedTransitions[p.Status]
	if !ok {
		return false // Терминальное состояние
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// transitionTo выполняет переход в новое состояние.
func (p *Payment) transitionTo(newStatus PaymentStatus) error {
	if p.Status.IsTerminal() {
		return ErrPaymentTerminal
	}
	if !p.CanTransitionTo(newStatus) {
		return ErrInvalidTransition
	}
	p.Status = newStatus
	p.UpdatedAt = time.Now()
	return nil
}

// MarkValidated переводит платёж в VALIDATED после успешной валидации.
func (p *Payment) MarkValidated() error {
	if err := p.transitionTo(PaymentStatusValidated); err != nil {
		return err
	}
	p.recordEvent(events.TypePaymentValidated, "")
	return nil
}

// MarkClearing переводит платёж в CLEARING и фиксирует выбранную
// клиринговую систему.
func (p *Payment) MarkClearing(clearingSystem string) error {
	if err := p.transitionTo(PaymentStatusClearing); err != nil {
		return err
	}
	p.ClearingSystem = clearingSystem
	return nil
}

// Complete завершает платёж и записывает событие PaymentCompleted.
func (p *Payment) Complete() error {
	if err := p.transitionTo(PaymentStatusCompleted); err != nil {
		return err
	}
	p.recordEvent(events.TypePaymentCompleted, "")
	return nil
}

// Fail завершает платёж с ошибкой и записывает событие PaymentFailed.
// Причина попадает в failureReason и видна через GetPayment.
func (p *Payment) Fail(reason string) error {
	if err := p.transitionTo(PaymentStatusFailed); err != nil {
		return err
	}
	p.FailureReason = &reason
	p.recordEvent(events.TypePaymentFailed, reason)
	return nil
}

// Hold удерживает платёж решением маршрутизации (HOLD_PAYMENT).
// Причина удержания попадает в failureReason и видна через GetPayment.
func (p *Payment) Hold(reason string) error {
	if err := p.transitionTo(PaymentStatusHeld); err != nil {
		return err
	}
	p.FailureReason = &reason
	p.recordEvent(events.TypePaymentHeld, reason)
	return nil
}

// CanCancel возвращает true, если платёж можно отменить.
// Отмена допустима только до завершения саги (не из терминальных статусов).
func (p *Payment) CanCancel() bool {
	return !p.Status.IsTerminal()
}

// DrainEvents возвращает накопленные доменные события и очищает буфер.
// Вызывается репозиторием ровно один раз на сохранение.
func (p *Payment) DrainEvents() []*events.Envelope {
	return p.changes.Drain()
}

// recordEvent добавляет событие платежа в буфер.
func (p *Payment) recordEvent(t events.Type, reason string) {
	envelope := events.New(t, events.AggregatePayment, p.ID.String(), p.Version+1).
		WithTenant(p.Tenant.TenantID, p.Tenant.BusinessUnitID).
		WithCorrelation(p.ID.String(), p.ID.String())

	envelope, err := envelope.WithPayload(paymentEventPayload{
		PaymentID:          p.ID.String(),
		SourceAccount:      p.SourceAccount.String(),
		DestinationAccount: p.DestinationAccount.String(),
		Amount:             p.Amount.Amount.String(),
		Currency:           p.Amount.Currency,
		Status:             string(p.Status),
		ClearingSystem:     p.ClearingSystem,
		Reason:             reason,
	})
	if err != nil {
		// Сериализация плоской структуры не падает; событие без payload
		// всё равно фиксируем — тип и заголовок важнее тела.
		envelope = events.New(t, events.AggregatePayment, p.ID.String(), p.Version+1).
			WithTenant(p.Tenant.TenantID, p.Tenant.BusinessUnitID).
			WithCorrelation(p.ID.String(), p.ID.String())
	}

	p.changes.Record(envelope)
}
