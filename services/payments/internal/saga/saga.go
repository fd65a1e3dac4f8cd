// Package saga реализует оркестратор распределённых саг платёжной платформы.
// Координатор ведёт сагу по упорядоченным шагам шаблона (валидация,
// резервирование средств, маршрутизация, проводки, клиринг, расчёт),
// а при сбое шага компенсирует завершённые шаги в строго обратном порядке.
// Состояние саги сохраняется после каждого изменения; шаги идемпотентны
// по (saga_id, step_id), поэтому повторная доставка и рестарт безопасны.
package saga

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"example.com/payments-platform/pkg/events"
	"example.com/payments-platform/services/payments/internal/domain"
)

// =============================================================================
// Состояния саги и шага
// =============================================================================

// Status — состояние саги в state machine.
type Status string

const (
	// StatusStarted — сага создана и поставлена в очередь диспетчера.
	StatusStarted Status = "STARTED"

	// StatusInProgress — выполняется очередной шаг.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusCompleted — все шаги выполнены успешно.
	StatusCompleted Status = "COMPLETED"

	// StatusCompensating — шаг упал, завершённые шаги откатываются.
	StatusCompensating Status = "COMPENSATING"

	// StatusCompensated — все завершённые шаги компенсированы.
	StatusCompensated Status = "COMPENSATED"

	// StatusFailed — сага не восстановима: нарушение инварианта либо
	// хотя бы одна компенсация не удалась.
	StatusFailed Status = "FAILED"
)

// IsTerminal возвращает true, если сага в финальном состоянии.
// Терминальная сага заморожена: ни один шаг больше не мутирует.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusFailed
}

// allowedTransitions определяет допустимые переходы состояний саги.
var allowedTransitions = map[Status][]Status{
	StatusStarted:      {StatusInProgress, StatusCompensating, StatusCompleted, StatusFailed},
	StatusInProgress:   {StatusCompleted, StatusCompensating, StatusFailed},
	StatusCompensating: {StatusCompensated, StatusFailed},
	// COMPLETED, COMPENSATED, FAILED — терминальные, переходов нет
}

// StepStatus — состояние шага саги.
type StepStatus string

const (
	StepPending      StepStatus = "PENDING"
	StepInProgress   StepStatus = "IN_PROGRESS"
	StepCompleted    StepStatus = "COMPLETED"
	StepFailed       StepStatus = "FAILED"
	StepCompensating StepStatus = "COMPENSATING"
	StepCompensated  StepStatus = "COMPENSATED"
)

// Ошибки state machine саги.
var (
	ErrSagaNotFound       = errors.New("сага не найдена")
	ErrInvalidTransition  = errors.New("недопустимый переход состояния саги")
	ErrSagaTerminal       = errors.New("сага уже в терминальном состоянии")
	ErrStepNotCompensable = errors.New("шаг нельзя компенсировать из текущего состояния")
	ErrCancelNotAllowed   = errors.New("отмена допустима только до начала компенсации")
	ErrUnknownTemplate    = errors.New("неизвестный шаблон саги")

	// ErrTooManyInFlight — превышен предел одновременных саг арендатора
	// и очередь ожидания заполнена. Текст — wire-контракт ответа API.
	ErrTooManyInFlight = errors.New("TOO_MANY_IN_FLIGHT")
)

// =============================================================================
// SagaStep — шаг саги
// =============================================================================

// Step — один шаг саги. Действие и компенсация адресуются парой
// (service, action); компенсация пустая строка = шаг без компенсации.
type Step struct {
	ID                 string
	SagaID             string
	Name               string
	Service            string
	Action             string
	CompensationAction string
	Order              int
	Status             StepStatus
	Result             *string // JSON результата действия (вход компенсации)
	FailureReason      *string
	Attempts           int
	Timeout            time.Duration // 0 — используется таймаут по умолчанию
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasCompensation возвращает true, если у шага есть компенсирующее действие.
func (s *Step) HasCompensation() bool {
	return s.CompensationAction != ""
}

// SagaEvent — запись журнала саги (таблица saga_events).
// Sequence монотонно растёт в рамках саги.
type SagaEvent struct {
	ID        string
	SagaID    string
	Sequence  int
	EventType string
	StepName  string
	Reason    string
	CreatedAt time.Time
}

// =============================================================================
// Saga — агрегат саги
// =============================================================================

// Saga — экземпляр распределённой транзакции.
// Владеет шагами и журналом; мутации добавляют доменные события в Changeset,
// репозиторий при сохранении забирает их через DrainEvents и пишет в outbox
// атомарно с состоянием саги.
type Saga struct {
	ID                   string
	TemplateName         string
	BusinessKey          string // paymentId — сквозной бизнес-ключ
	Tenant               domain.TenantContext
	Status               Status
	CompletedSteps       int
	CompensationFailures int
	FailureReason        *string
	Payload              json.RawMessage // Данные запроса для действий шагов
	StartedAt            time.Time
	Deadline             time.Time // Предельное время жизни (wall clock)
	CompletedAt          *time.Time
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time

	Steps  []Step
	Events []SagaEvent

	changes domain.Changeset
}

// sagaEventPayload — полезная нагрузка доменных событий саги.
type sagaEventPayload struct {
	SagaID      string `json:"saga_id"`
	Template    string `json:"template"`
	BusinessKey string `json:"business_key"`
	Status      string `json:"status"`
	StepName    string `json:"step_name,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// NewSaga создаёт сагу в статусе STARTED с шагами шаблона в PENDING
// и записывает событие SagaStarted.
func NewSaga(
	id string,
	template *Template,
	tenant domain.TenantContext,
	businessKey string,
	payload json.RawMessage,
	wallClockTimeout time.Duration,
) (*Saga, error) {
	if tenant.IsZero() {
		return nil, domain.ErrEmptyTenant
	}

	now := time.Now()
	s := &Saga{
		ID:           id,
		TemplateName: template.Name,
		BusinessKey:  businessKey,
		Tenant:       tenant,
		Status:       StatusStarted,
		Payload:      payload,
		StartedAt:    now,
		Deadline:     now.Add(wallClockTimeout),
		CreatedAt:    now,
		UpdatedAt:    now,
		Steps:        make([]Step, len(template.Steps)),
	}

	for i, def := range template.Steps {
		s.Steps[i] = Step{
			ID:                 uuid.NewString(),
			SagaID:             id,
			Name:               def.Name,
			Service:            def.Service,
			Action:             def.Action,
			CompensationAction: def.CompensationAction,
			Order:              def.Order,
			Status:             StepPending,
			Timeout:            def.Timeout,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
	}

	s.recordEvent(events.TypeSagaStarted, "", "")
	return s, nil
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (s *Saga) CanTransitionTo(newStatus Status) bool {
	allowed, ok := allowedTransitions[s.Status]
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
func (s *Saga) transitionTo(newStatus Status) error {
	if s.Status.IsTerminal() {
		return ErrSagaTerminal
	}
	if !s.CanTransitionTo(newStatus) {
		return ErrInvalidTransition
	}
	s.Status = newStatus
	s.UpdatedAt = time.Now()
	if newStatus.IsTerminal() {
		now := time.Now()
		s.CompletedAt = &now
	}
	return nil
}

// NextPendingStep возвращает PENDING шаг с наименьшим order.
// nil — вперёд идти некуда (все шаги выполнены или сага компенсируется).
func (s *Saga) NextPendingStep() *Step {
	var next *Step
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Status != StepPending {
			continue
		}
		if next == nil || step.Order < next.Order {
			next = step
		}
	}
	return next
}

// NextCompensationStep возвращает COMPLETED шаг с наибольшим order —
// компенсация идёт строго в обратном порядке выполнения.
func (s *Saga) NextCompensationStep() *Step {
	var next *Step
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Status != StepCompleted {
			continue
		}
		if next == nil || step.Order > next.Order {
			next = step
		}
	}
	return next
}

// StepByID возвращает шаг по идентификатору.
func (s *Saga) StepByID(stepID string) *Step {
	for i := range s.Steps {
		if s.Steps[i].ID == stepID {
			return &s.Steps[i]
		}
	}
	return nil
}

// BeginStep переводит шаг в IN_PROGRESS (сагу — при первом шаге тоже)
// и записывает событие SagaStepExecuted.
func (s *Saga) BeginStep(step *Step) error {
	if s.Status == StatusStarted {
		if err := s.transitionTo(StatusInProgress); err != nil {
			return err
		}
	}
	if s.Status != StatusInProgress {
		return ErrInvalidTransition
	}

	now := time.Now()
	step.Status = StepInProgress
	step.Attempts++
	step.StartedAt = &now
	step.UpdatedAt = now

	s.recordEvent(events.TypeSagaStepExecuted, step.Name, "")
	return nil
}

// CompleteStep фиксирует успешное выполнение шага. Когда PENDING шагов
// не осталось — сага завершается (SagaCompleted).
func (s *Saga) CompleteStep(step *Step, result string) error {
	if step.Status != StepInProgress {
		return ErrInvalidTransition
	}

	now := time.Now()
	step.Status = StepCompleted
	if result != "" {
		step.Result = &result
	}
	step.CompletedAt = &now
	step.UpdatedAt = now
	s.CompletedSteps++

	s.recordEvent(events.TypeSagaStepCompleted, step.Name, "")

	if s.NextPendingStep() == nil {
		if err := s.transitionTo(StatusCompleted); err != nil {
			return err
		}
		s.recordEvent(events.TypeSagaCompleted, "", "")
	}
	return nil
}

// FailStep фиксирует невосстановимый сбой шага и запускает компенсацию.
// Записывает SagaStepFailed и SagaCompensationStarted.
func (s *Saga) FailStep(step *Step, reason string) error {
	if step.Status != StepInProgress {
		return ErrInvalidTransition
	}

	now := time.Now()
	step.Status = StepFailed
	step.FailureReason = &reason
	step.UpdatedAt = now
	s.FailureReason = &reason

	s.recordEvent(events.TypeSagaStepFailed, step.Name, reason)

	if err := s.transitionTo(StatusCompensating); err != nil {
		return err
	}
	s.recordEvent(events.TypeSagaCompensationStarted, "", reason)
	return nil
}

// FailFatal завершает сагу в FAILED без компенсации: нарушение инварианта
// означает, что агрегат под подозрением и автоматический откат опасен.
func (s *Saga) FailFatal(step *Step, reason string) error {
	if step != nil && step.Status == StepInProgress {
		now := time.Now()
		step.Status = StepFailed
		step.FailureReason = &reason
		step.UpdatedAt = now
		s.recordEvent(events.TypeSagaStepFailed, step.Name, reason)
	}

	s.FailureReason = &reason
	return s.transitionTo(StatusFailed)
}

// BeginCompensation переводит COMPLETED шаг в COMPENSATING.
// COMPENSATING допустим только из COMPLETED.
func (s *Saga) BeginCompensation(step *Step) error {
	if s.Status != StatusCompensating {
		return ErrInvalidTransition
	}
	if step.Status != StepCompleted {
		return ErrStepNotCompensable
	}
	step.Status = StepCompensating
	step.UpdatedAt = time.Now()
	return nil
}

// CompleteCompensation фиксирует выполненную компенсацию шага.
// failureReason непустой — компенсация не удалась после всех повторов:
// она записывается, compensationFailures растёт, обход продолжается.
// Когда COMPLETED шагов не осталось, сага завершается: COMPENSATED при
// чистом откате, FAILED при хотя бы одной неудавшейся компенсации.
func (s *Saga) CompleteCompensation(step *Step, failureReason string) error {
	if step.Status != StepCompensating {
		return ErrInvalidTransition
	}

	now := time.Now()
	step.Status = StepCompensated
	step.UpdatedAt = now
	if failureReason != "" {
		step.FailureReason = &failureReason
		s.CompensationFailures++
	}

	// Событие публикуется и для шагов без компенсации — аудиторский след.
	s.recordEvent(events.TypeSagaStepCompensated, step.Name, failureReason)

	if s.NextCompensationStep() == nil {
		if s.CompensationFailures > 0 {
			return s.transitionTo(StatusFailed)
		}
		if err := s.transitionTo(StatusCompensated); err != nil {
			return err
		}
		s.recordEvent(events.TypeSagaCompensated, "", "")
	}
	return nil
}

// SkipCompensation компенсирует шаг без компенсирующего действия:
// статус меняется и событие публикуется, действие не вызывается.
func (s *Saga) SkipCompensation(step *Step) error {
	if err := s.BeginCompensation(step); err != nil {
		return err
	}
	return s.CompleteCompensation(step, "")
}

// Cancel отменяет сагу: инъецирует сбой, запускающий компенсацию.
// Допустимо только из STARTED/IN_PROGRESS — компенсирующуюся сагу
// отменить нельзя.
func (s *Saga) Cancel(reason string) error {
	if s.Status != StatusStarted && s.Status != StatusInProgress {
		return ErrCancelNotAllowed
	}

	// Прерываем выполняющийся шаг, если он есть.
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Status == StepInProgress {
			now := time.Now()
			step.Status = StepFailed
			step.FailureReason = &reason
			step.UpdatedAt = now
			s.recordEvent(events.TypeSagaStepFailed, step.Name, reason)
			break
		}
	}

	s.FailureReason = &reason
	if err := s.transitionTo(StatusCompensating); err != nil {
		return err
	}
	s.recordEvent(events.TypeSagaCompensationStarted, "", reason)
	return nil
}

// IsExpired возвращает true, если сага превысила предельное время жизни.
func (s *Saga) IsExpired(now time.Time) bool {
	return !s.Status.IsTerminal() && now.After(s.Deadline)
}

// DrainEvents возвращает накопленные доменные события и очищает буфер.
// Вызывается репозиторием ровно один раз на сохранение.
func (s *Saga) DrainEvents() []*events.Envelope {
	return s.changes.Drain()
}

// recordEvent добавляет доменное событие саги в буфер и запись в журнал.
func (s *Saga) recordEvent(eventType events.Type, stepName, reason string) {
	s.Events = append(s.Events, SagaEvent{
		ID:        uuid.NewString(),
		SagaID:    s.ID,
		Sequence:  len(s.Events) + 1,
		EventType: string(eventType),
		StepName:  stepName,
		Reason:    reason,
		CreatedAt: time.Now(),
	})

	envelope := events.New(eventType, events.AggregateSaga, s.ID, s.Version+1).
		WithTenant(s.Tenant.TenantID, s.Tenant.BusinessUnitID).
		WithCorrelation(s.BusinessKey, s.BusinessKey)

	envelope, err := envelope.WithPayload(sagaEventPayload{
		SagaID:      s.ID,
		Template:    s.TemplateName,
		BusinessKey: s.BusinessKey,
		Status:      string(s.Status),
		StepName:    stepName,
		Reason:      reason,
	})
	if err != nil {
		envelope = events.New(eventType, events.AggregateSaga, s.ID, s.Version+1).
			WithTenant(s.Tenant.TenantID, s.Tenant.BusinessUnitID).
			WithCorrelation(s.BusinessKey, s.BusinessKey)
	}

	s.changes.Record(envelope)
}
