package saga

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/payments-platform/pkg/fault"
	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/pkg/metrics"
)

var tracer = otel.Tracer("saga")

// RetryPolicy — политика повторов transient-ошибок шага:
// экспоненциальный backoff с ограничением интервала и числа попыток.
type RetryPolicy struct {
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
}

// Executor выполняет отдельные шаги саги: действие либо компенсацию,
// с таймаутом на попытку и повторами transient-ошибок.
// Executor не трогает состояние саги — этим занимается оркестратор.
type Executor struct {
	registry    *HandlerRegistry
	stepTimeout time.Duration
	retry       RetryPolicy
}

// NewExecutor создаёт исполнитель шагов.
func NewExecutor(registry *HandlerRegistry, stepTimeout time.Duration, retry RetryPolicy) *Executor {
	return &Executor{
		registry:    registry,
		stepTimeout: stepTimeout,
		retry:       retry,
	}
}

// ExecuteStep выполняет прямое действие шага.
// Transient-ошибки повторяются по политике backoff; Permanent и
// InvariantViolation прерывают попытки сразу. Истечение таймаута попытки —
// сбой шага с причиной "TIMEOUT" без повторов.
func (e *Executor) ExecuteStep(ctx context.Context, s *Saga, step *Step) (string, error) {
	fn, err := e.registry.Action(step.Service, step.Action)
	if err != nil {
		return "", fault.Permanent("действие шага не привязано", err)
	}

	req := e.buildRequest(s, step)

	ctx, span := e.startStepSpan(ctx, "saga.step", s, step)
	defer span.End()

	start := time.Now()
	result, err := e.retryWithPolicy(ctx, s, step, func() (string, error) {
		return e.runAttempt(ctx, s, step, func(attemptCtx context.Context) (string, error) {
			return fn(attemptCtx, req)
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fault.Reason(err))
		outcome := "failed"
		if fault.IsInvariantViolation(err) {
			outcome = "invariant_violation"
		}
		metrics.RecordSagaStep(s.TemplateName, step.Name, outcome, time.Since(start))
		return "", err
	}
	metrics.RecordSagaStep(s.TemplateName, step.Name, "completed", time.Since(start))
	return result, nil
}

// CompensateStep выполняет компенсирующее действие шага, передавая
// результат прямого действия. Та же политика повторов, что и у действий.
func (e *Executor) CompensateStep(ctx context.Context, s *Saga, step *Step) error {
	fn, err := e.registry.Compensation(step.Service, step.CompensationAction)
	if err != nil {
		return fault.Compensation("компенсация шага не привязана", err)
	}

	req := e.buildRequest(s, step)

	originalResult := ""
	if step.Result != nil {
		originalResult = *step.Result
	}

	ctx, span := e.startStepSpan(ctx, "saga.compensate", s, step)
	defer span.End()

	start := time.Now()
	_, err = e.retryWithPolicy(ctx, s, step, func() (string, error) {
		return e.runAttempt(ctx, s, step, func(attemptCtx context.Context) (string, error) {
			return "", fn(attemptCtx, req, originalResult)
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fault.Reason(err))
		metrics.RecordSagaStep(s.TemplateName, step.Name, "compensation_failed", time.Since(start))
		return err
	}
	metrics.RecordSagaStep(s.TemplateName, step.Name, "compensated", time.Since(start))
	return nil
}

// startStepSpan открывает span шага с атрибутами саги и арендатора.
func (e *Executor) startStepSpan(ctx context.Context, prefix string, s *Saga, step *Step) (context.Context, trace.Span) {
	return tracer.Start(ctx, prefix+"."+step.Name, trace.WithAttributes(
		attribute.String("saga.id", s.ID),
		attribute.String("saga.template", s.TemplateName),
		attribute.String("saga.business_key", s.BusinessKey),
		attribute.String("tenant.id", s.Tenant.TenantID),
	))
}

// effectiveTimeout возвращает таймаут шага: переопределение из шаблона
// либо значение по умолчанию.
func (e *Executor) effectiveTimeout(step *Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return e.stepTimeout
}

// buildRequest собирает вход обработчика: данные саги и результаты
// завершённых шагов по имени.
func (e *Executor) buildRequest(s *Saga, step *Step) StepRequest {
	results := make(map[string]string)
	for i := range s.Steps {
		prev := &s.Steps[i]
		if prev.Result != nil {
			results[prev.Name] = *prev.Result
		}
	}

	return StepRequest{
		SagaID:      s.ID,
		StepID:      step.ID,
		BusinessKey: s.BusinessKey,
		Tenant:      s.Tenant,
		Payload:     s.Payload,
		StepResults: results,
		Timeout:     e.effectiveTimeout(step),
	}
}

// runAttempt выполняет одну попытку действия под таймаутом шага.
func (e *Executor) runAttempt(
	ctx context.Context,
	s *Saga,
	step *Step,
	fn func(ctx context.Context) (string, error),
) (string, error) {
	attemptCtx := ctx
	if timeout := e.effectiveTimeout(step); timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := fn(attemptCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			// Истечение таймаута шага — сбой с фиксированной причиной,
			// без повторов: повторная попытка съест бюджет саги целиком.
			return "", fault.Permanent("TIMEOUT", err)
		}
		lg := logger.FromContext(ctx)
		lg.Warn().
			Err(err).
			Str("saga_id", s.ID).
			Str("step", step.Name).
			Str("kind", string(fault.KindOf(err))).
			Msg("Ошибка выполнения шага саги")
		return "", err
	}
	return result, nil
}

// retryWithPolicy повторяет операцию по политике backoff.
// Transient-ошибки повторяются, остальные классы прерывают попытки сразу.
func (e *Executor) retryWithPolicy(ctx context.Context, s *Saga, step *Step, op func() (string, error)) (string, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.retry.Base
	expo.Multiplier = e.retry.Factor
	expo.MaxInterval = e.retry.Cap

	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		if attempt > 1 {
			metrics.SagaRetriesTotal.WithLabelValues(s.TemplateName, step.Name).Inc()
		}
		result, err := op()
		if err != nil {
			if !fault.IsTransient(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return result, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(e.retry.MaxAttempts)))
}
