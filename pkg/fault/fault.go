// Package fault определяет таксономию ошибок ядра платёжной платформы.
// Оркестратор саг принимает решения (повтор, компенсация, аварийное
// завершение) исключительно по виду ошибки, а не по её тексту.
//
// Виды ошибок:
//   - Transient — таймауты, обрывы соединения, 5xx-подобные ответы.
//     Повторяются с экспоненциальным backoff.
//   - Permanent — отказ валидации, нарушение предусловия, авторитетный NACK.
//     Не повторяются; запускают компенсацию.
//   - InvariantViolation — расхождение двойной записи, недопустимый переход
//     состояния, нарушение изоляции арендаторов. Логируются на уровне FATAL,
//     сага завершается в FAILED без компенсации: агрегат под подозрением.
//   - CompensationFailure — компенсация не удалась после всех повторов.
//     Фиксируется по шагу; сага завершается в FAILED.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind — вид ошибки в таксономии ядра.
type Kind string

const (
	// KindTransient — временная ошибка, подлежит повтору.
	KindTransient Kind = "TRANSIENT"

	// KindPermanent — окончательная ошибка, запускает компенсацию.
	KindPermanent Kind = "PERMANENT"

	// KindInvariantViolation — нарушение инварианта, сага аварийно завершается.
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"

	// KindCompensationFailure — сбой компенсирующего действия.
	KindCompensationFailure Kind = "COMPENSATION_FAILURE"
)

// Error — классифицированная ошибка ядра.
// Оборачивает причину и несёт вид из таксономии.
type Error struct {
	Kind    Kind   // Вид ошибки
	Message string // Человекочитаемое описание (попадает в failureReason)
	Err     error  // Обёрнутая причина (может быть nil)
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap возвращает обёрнутую причину для errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient создаёт временную ошибку.
func Transient(message string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: cause}
}

// Permanent создаёт окончательную ошибку.
func Permanent(message string, cause error) *Error {
	return &Error{Kind: KindPermanent, Message: message, Err: cause}
}

// Invariant создаёт ошибку нарушения инварианта.
func Invariant(message string, cause error) *Error {
	return &Error{Kind: KindInvariantViolation, Message: message, Err: cause}
}

// Compensation создаёт ошибку сбоя компенсации.
func Compensation(message string, cause error) *Error {
	return &Error{Kind: KindCompensationFailure, Message: message, Err: cause}
}

// KindOf классифицирует произвольную ошибку.
//
// Правила:
//   - классифицированная ошибка возвращает свой вид;
//   - истечение дедлайна контекста — Transient (таймаут);
//   - отмена контекста — Transient (обработка будет возобновлена после рестарта);
//   - всё остальное — Transient: действия шагов идемпотентны по (sagaId, stepId),
//     поэтому повтор неизвестной ошибки безопасен.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindTransient
}

// IsTransient возвращает true для временных ошибок.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsPermanent возвращает true для окончательных ошибок.
func IsPermanent(err error) bool {
	return err != nil && KindOf(err) == KindPermanent
}

// IsInvariantViolation возвращает true для нарушений инвариантов.
func IsInvariantViolation(err error) bool {
	return err != nil && KindOf(err) == KindInvariantViolation
}

// IsCompensationFailure возвращает true для сбоев компенсации.
func IsCompensationFailure(err error) bool {
	return err != nil && KindOf(err) == KindCompensationFailure
}

// Reason возвращает краткую причину для failureReason саги:
// сообщение классифицированной ошибки либо полный текст err.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
