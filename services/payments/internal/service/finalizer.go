package service

import (
	"context"
	"errors"

	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/services/payments/internal/domain"
	"example.com/payments-platform/services/payments/internal/repository"
	"example.com/payments-platform/services/payments/internal/saga"
)

// paymentFinalizer синхронизирует статус платежа с итогом саги:
// COMPLETED — платёж завершён, COMPENSATED / FAILED — платёж отклонён
// с причиной из failureReason. Платёж в HELD не трогается: решение
// об удержании снимается вручную, а не итогом саги.
type paymentFinalizer struct {
	payments repository.PaymentRepository
}

// NewPaymentFinalizer создаёт финализатор платежей для оркестратора.
func NewPaymentFinalizer(payments repository.PaymentRepository) saga.Finalizer {
	return &paymentFinalizer{payments: payments}
}

// OnSagaTerminal переводит платёж в терминальный статус по итогу саги.
func (f *paymentFinalizer) OnSagaTerminal(ctx context.Context, s *saga.Saga) error {
	payment, err := f.payments.GetByID(ctx, s.Tenant, domain.PaymentID(s.BusinessKey))
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			// Сага не привязана к платежу (другой шаблон) — нечего синхронизировать.
			return nil
		}
		return err
	}

	if payment.Status.IsTerminal() || payment.Status == domain.PaymentStatusHeld {
		return nil
	}

	if s.Status == saga.StatusCompleted {
		err = payment.Complete()
	} else {
		err = payment.Fail(failureReasonOf(s))
	}
	if err != nil {
		// Недопустимый переход не останавливает завершение саги —
		// расхождение фиксируется в журнале для разбора.
		lg := logger.FromContext(ctx)
		lg.Error().
			Err(err).
			Str("saga_id", s.ID).
			Str("payment_id", payment.ID.String()).
			Str("payment_status", string(payment.Status)).
			Str("saga_status", string(s.Status)).
			Msg("Не удалось синхронизировать статус платежа с итогом саги")
		return nil
	}

	return f.payments.Save(ctx, payment)
}

// failureReasonOf возвращает причину отказа саги либо её статус,
// если причина не зафиксирована.
func failureReasonOf(s *saga.Saga) string {
	if s.FailureReason != nil && *s.FailureReason != "" {
		return *s.FailureReason
	}
	return string(s.Status)
}
