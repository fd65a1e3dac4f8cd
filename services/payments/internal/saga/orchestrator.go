package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/payments-platform/pkg/events"
	"example.com/payments-platform/pkg/fault"
	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/pkg/metrics"
	"example.com/payments-platform/services/payments/internal/domain"
)

// Finalizer — необязательный хук терминального состояния саги.
// Сервис платежей через него синхронизирует статус платежа
// (COMPLETED / FAILED) с итогом саги.
type Finalizer interface {
	OnSagaTerminal(ctx context.Context, s *Saga) error
}

// Orchestrator — координатор саг.
// Advance продвигает сагу ровно на ОДИН шаг (прямой или компенсирующий):
// между шагами сага не держит воркера, координация идёт через
// сохранённое состояние.
type Orchestrator interface {
	// Start создаёт сагу по шаблону и сохраняет её атомарно с событием
	// SagaStarted. Сагу ещё нужно поставить в очередь диспетчера.
	Start(ctx context.Context, templateName string, tenant domain.TenantContext, businessKey string, payload json.RawMessage) (*Saga, error)

	// Advance продвигает сагу на один шаг. Возвращает done=true, когда
	// сага достигла терминального состояния и продвигать больше нечего.
	Advance(ctx context.Context, sagaID string) (done bool, err error)

	// Cancel отменяет сагу оператором: инъецирует сбой, запускающий
	// компенсацию. Компенсирующуюся сагу отменить нельзя.
	Cancel(ctx context.Context, sagaID, reason string) error
}

// orchestrator — реализация Orchestrator.
type orchestrator struct {
	repo      SagaRepository
	registry  *Registry
	executor  *Executor
	finalizer Finalizer // может быть nil
	wallClock time.Duration
}

// NewOrchestrator создаёт координатор саг.
func NewOrchestrator(
	repo SagaRepository,
	registry *Registry,
	executor *Executor,
	finalizer Finalizer,
	wallClockTimeout time.Duration,
) Orchestrator {
	return &orchestrator{
		repo:      repo,
		registry:  registry,
		executor:  executor,
		finalizer: finalizer,
		wallClock: wallClockTimeout,
	}
}

// Start создаёт сагу по шаблону.
func (o *orchestrator) Start(ctx context.Context, templateName string, tenant domain.TenantContext, businessKey string, payload json.RawMessage) (*Saga, error) {
	template, err := o.registry.Get(templateName)
	if err != nil {
		return nil, err
	}

	s, err := NewSaga(uuid.NewString(), template, tenant, businessKey, payload, o.wallClock)
	if err != nil {
		return nil, err
	}

	if err := o.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("ошибка сохранения саги: %w", err)
	}

	lg := logger.FromContext(ctx)
	lg.Info().
		Str("saga_id", s.ID).
		Str("template", templateName).
		Str("business_key", businessKey).
		Int("steps", len(s.Steps)).
		Msg("Сага создана")

	return s, nil
}

// Advance продвигает сагу на один шаг.
// Конфликт версий при сохранении — чистый отказ без побочных эффектов:
// сагу параллельно продвинул другой воркер.
func (o *orchestrator) Advance(ctx context.Context, sagaID string) (bool, error) {
	s, err := o.repo.GetByID(ctx, sagaID)
	if err != nil {
		return false, err
	}

	if s.Status.IsTerminal() {
		return true, nil
	}

	if s.Status == StatusCompensating {
		return o.advanceCompensation(ctx, s)
	}
	return o.advanceForward(ctx, s)
}

// advanceForward выполняет следующий PENDING шаг.
func (o *orchestrator) advanceForward(ctx context.Context, s *Saga) (bool, error) {
	log := logger.FromContext(ctx)

	step := s.NextPendingStep()
	if step == nil {
		// Шаблон без шагов: сага завершается сразу.
		if err := s.transitionTo(StatusCompleted); err != nil {
			return false, err
		}
		return o.finish(ctx, s)
	}

	// Состояние IN_PROGRESS сохраняется ДО вызова действия: после рестарта
	// восстановление видит начатый шаг, а идемпотентность по (saga_id,
	// step_id) делает повтор безопасным.
	if err := s.BeginStep(step); err != nil {
		return false, err
	}
	if err := o.repo.Save(ctx, s); err != nil {
		return false, err
	}

	result, execErr := o.executor.ExecuteStep(ctx, s, step)

	if execErr != nil {
		reason := fault.Reason(execErr)

		if fault.IsInvariantViolation(execErr) {
			// Нарушение инварианта: агрегат под подозрением, автоматический
			// откат опасен — сага аварийно завершается без компенсации.
			log.Error().
				Str("saga_id", s.ID).
				Str("step", step.Name).
				Str("reason", reason).
				Msg("Нарушение инварианта в шаге саги, компенсация не запускается")
			if err := s.FailFatal(step, reason); err != nil {
				return false, err
			}
			return o.finish(ctx, s)
		}

		log.Warn().
			Str("saga_id", s.ID).
			Str("step", step.Name).
			Str("reason", reason).
			Msg("Шаг саги не удался, запускается компенсация")
		if err := s.FailStep(step, reason); err != nil {
			return false, err
		}
		if err := o.repo.Save(ctx, s); err != nil {
			return false, err
		}
		return false, nil // Продолжение — компенсационные шаги
	}

	if err := s.CompleteStep(step, result); err != nil {
		return false, err
	}
	log.Info().
		Str("saga_id", s.ID).
		Str("step", step.Name).
		Int("completed_steps", s.CompletedSteps).
		Msg("Шаг саги выполнен")

	if s.Status.IsTerminal() {
		return o.finish(ctx, s)
	}
	if err := o.repo.Save(ctx, s); err != nil {
		return false, err
	}
	return false, nil
}

// advanceCompensation компенсирует следующий завершённый шаг
// (в строго обратном порядке выполнения).
func (o *orchestrator) advanceCompensation(ctx context.Context, s *Saga) (bool, error) {
	log := logger.FromContext(ctx)

	step := s.NextCompensationStep()
	if step == nil {
		// Завершённых шагов не было: компенсация вырождена.
		if s.CompensationFailures > 0 {
			if err := s.transitionTo(StatusFailed); err != nil {
				return false, err
			}
		} else {
			if err := s.transitionTo(StatusCompensated); err != nil {
				return false, err
			}
			s.recordEvent(events.TypeSagaCompensated, "", "")
		}
		return o.finish(ctx, s)
	}

	// Шаг без компенсации: статус меняется, событие публикуется (аудит),
	// действие не вызывается.
	if !step.HasCompensation() {
		if err := s.SkipCompensation(step); err != nil {
			return false, err
		}
		if s.Status.IsTerminal() {
			return o.finish(ctx, s)
		}
		return false, o.repo.Save(ctx, s)
	}

	if err := s.BeginCompensation(step); err != nil {
		return false, err
	}
	if err := o.repo.Save(ctx, s); err != nil {
		return false, err
	}

	compErr := o.executor.CompensateStep(ctx, s, step)

	failureReason := ""
	if compErr != nil {
		// Компенсация best-effort: сбой фиксируется, обход продолжается,
		// сага в итоге уйдёт в FAILED (compensationFailures > 0).
		failureReason = fault.Reason(compErr)
		log.Error().
			Str("saga_id", s.ID).
			Str("step", step.Name).
			Str("reason", failureReason).
			Msg("Компенсация шага не удалась, обход продолжается")
	} else {
		log.Info().
			Str("saga_id", s.ID).
			Str("step", step.Name).
			Msg("Шаг саги компенсирован")
	}

	if err := s.CompleteCompensation(step, failureReason); err != nil {
		return false, err
	}

	if s.Status.IsTerminal() {
		return o.finish(ctx, s)
	}
	return false, o.repo.Save(ctx, s)
}

// Cancel отменяет сагу оператором.
func (o *orchestrator) Cancel(ctx context.Context, sagaID, reason string) error {
	s, err := o.repo.GetByID(ctx, sagaID)
	if err != nil {
		return err
	}

	if err := s.Cancel(reason); err != nil {
		return err
	}

	lg := logger.FromContext(ctx)
	lg.Info().
		Str("saga_id", sagaID).
		Str("reason", reason).
		Msg("Сага отменена, запускается компенсация")

	return o.repo.Save(ctx, s)
}

// finish сохраняет терминальную сагу, записывает метрику и дёргает финализатор.
func (o *orchestrator) finish(ctx context.Context, s *Saga) (bool, error) {
	if err := o.repo.Save(ctx, s); err != nil {
		return false, err
	}

	metrics.RecordSagaFinished(s.TemplateName, string(s.Status))

	lg := logger.FromContext(ctx)
	lg.Info().
		Str("saga_id", s.ID).
		Str("template", s.TemplateName).
		Str("status", string(s.Status)).
		Int("completed_steps", s.CompletedSteps).
		Int("compensation_failures", s.CompensationFailures).
		Msg("Сага достигла терминального состояния")

	if o.finalizer != nil {
		if err := o.finalizer.OnSagaTerminal(ctx, s); err != nil {
			// Статус платежа досинхронизирует consumer событий саги —
			// ошибка финализатора не откатывает терминальное состояние.
			lg := logger.FromContext(ctx)
			lg.Error().Err(err).
				Str("saga_id", s.ID).
				Msg("Ошибка финализации платежа по итогу саги")
		}
	}
	return true, nil
}
