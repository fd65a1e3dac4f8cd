// Package circuitbreaker предоставляет Circuit Breaker для защиты от каскадных сбоев.
// Оборачивает вызовы внешних портов (клиринг, расчёты) для быстрого отказа
// при недоступности внешней системы.
//
// Состояния Circuit Breaker:
//   - Closed: нормальная работа, вызовы проходят
//   - Open: внешняя система недоступна, вызовы отклоняются мгновенно (без ожидания timeout)
//   - Half-Open: пробный период, пропускаем часть вызовов для проверки восстановления
//
// Использование:
//
//	cb := circuitbreaker.New("clearing-adapter")
//	ref, err := circuitbreaker.Do(ctx, cb, func(ctx context.Context) (string, error) {
//	    return adapter.Submit(ctx, txn, system, sagaID, stepID)
//	})
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/payments-platform/pkg/fault"
	"example.com/payments-platform/pkg/logger"
)

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // Макс. вызовов в Half-Open состоянии (по умолчанию 1)
	Interval     time.Duration // Интервал сброса счётчика в Closed (по умолчанию 60s)
	Timeout      time.Duration // Время в Open до перехода в Half-Open (по умолчанию 30s)
	FailureRatio float64       // Доля ошибок для перехода в Open (по умолчанию 0.5)
	MinRequests  uint32        // Мин. вызовов для расчёта ratio (по умолчанию 5)
}

// DefaultSettings возвращает настройки по умолчанию.
// Оптимизированы под внешние клиринговые системы с быстрым восстановлением.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,                // В Half-Open пропускаем 1 вызов
		Interval:     60 * time.Second, // Сбрасываем счётчик каждые 60 секунд
		Timeout:      30 * time.Second, // Через 30 секунд пробуем восстановить связь
		FailureRatio: 0.5,              // Открываем при 50% ошибок
		MinRequests:  5,                // Минимум 5 вызовов для принятия решения
	}
}

// Breaker — обёртка над gobreaker с логированием.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New создаёт новый Circuit Breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings создаёт Circuit Breaker с пользовательскими настройками.
func NewWithSettings(name string, s Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		// ReadyToTrip определяет когда открыть breaker.
		// Открываем если доля ошибок >= FailureRatio и было >= MinRequests вызовов.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},

		// OnStateChange логирует смену состояния.
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — внешняя система недоступна")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — внешняя система восстановлена")
			}
		},
	})

	return &Breaker{cb: cb, name: name}
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}

// Execute выполняет функцию через Circuit Breaker.
// Открытый breaker возвращает Transient-ошибку: оркестратор повторит шаг
// по своей политике backoff, а не уронит сагу в компенсацию.
// Бизнес-отказы (Permanent, InvariantViolation) возвращаются как есть,
// но в статистике breaker не учитываются.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	var fnResult any
	var fnErr error

	// Выполняем вызов через Circuit Breaker.
	_, cbErr := b.cb.Execute(func() (any, error) {
		fnResult, fnErr = fn()
		if fnErr != nil && isCircuitBreakerFailure(fnErr) {
			return nil, fnErr
		}
		// Успех или бизнес-ошибка — для breaker это успех.
		return nil, nil
	})

	// Circuit Breaker открыт — мгновенный отказ без вызова fn.
	if errors.Is(cbErr, gobreaker.ErrOpenState) {
		return nil, fault.Transient("внешняя система временно недоступна (circuit breaker open)", cbErr)
	}
	if errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		return nil, fault.Transient("слишком много вызовов (circuit breaker half-open)", cbErr)
	}

	// Возвращаем оригинальный результат вызова (или ошибку).
	return fnResult, fnErr
}

// Do выполняет типизированный вызов порта через Circuit Breaker.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	result, err := b.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}

	typed, ok := result.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}

// isCircuitBreakerFailure определяет, должна ли ошибка учитываться в Circuit Breaker.
// Учитываем только инфраструктурные (Transient) ошибки, а не бизнес-логику.
func isCircuitBreakerFailure(err error) bool {
	switch fault.KindOf(err) {
	case fault.KindPermanent, fault.KindInvariantViolation:
		// Авторитетный отказ — внешняя система работает, просто сказала "нет".
		return false
	default:
		return true
	}
}
