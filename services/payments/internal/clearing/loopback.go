// Package clearing содержит адаптеры клиринговых систем.
// Боевые адаптеры — отдельные сервисы за топиками clearing.commands /
// clearing.replies; loopback-адаптер замыкает контур в development:
// публикует заявку и сам же подтверждает расчёт.
package clearing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/payments-platform/pkg/events"
	"example.com/payments-platform/pkg/kafka"
	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/services/payments/internal/saga"
)

// Publisher — интерфейс публикации в Kafka (обычно *kafka.Producer).
type Publisher interface {
	Send(ctx context.Context, topic string, key []byte, value []byte) error
}

// LoopbackAdapter — loopback-реализация клирингового порта.
//
// Submit идемпотентен по (sagaID, stepID): повторная доставка команды шага
// возвращает тот же clearingReference и не публикует заявку дважды.
type LoopbackAdapter struct {
	publisher  Publisher
	replyDelay time.Duration

	mu        sync.Mutex
	submitted map[string]string // sagaID+"/"+stepID -> clearingReference
	reversed  map[string]bool
}

// NewLoopbackAdapter создаёт loopback-адаптер клиринга.
// replyDelay — задержка перед публикацией подтверждения, имитирует
// время расчёта внешней системы.
func NewLoopbackAdapter(publisher Publisher, replyDelay time.Duration) *LoopbackAdapter {
	return &LoopbackAdapter{
		publisher:  publisher,
		replyDelay: replyDelay,
		submitted:  make(map[string]string),
		reversed:   make(map[string]bool),
	}
}

// Submit публикует заявку на клиринг и подтверждение расчёта SETTLED.
func (a *LoopbackAdapter) Submit(ctx context.Context, sub saga.ClearingSubmission) (string, error) {
	key := sub.SagaID + "/" + sub.StepID

	a.mu.Lock()
	if ref, ok := a.submitted[key]; ok {
		a.mu.Unlock()
		lg := logger.FromContext(ctx)
		lg.Debug().
			Str("clearing_reference", ref).
			Str("payment_id", sub.PaymentID).
			Msg("Повторная заявка на клиринг, возвращается прежняя ссылка")
		return ref, nil
	}
	ref := uuid.NewString()
	a.submitted[key] = ref
	a.mu.Unlock()

	wireSub := events.ClearingSubmission{
		ClearingReference: ref,
		TransactionID:     sub.TransactionID,
		PaymentID:         sub.PaymentID,
		TenantID:          sub.TenantID,
		ClearingSystem:    sub.ClearingSystem,
		Amount:            sub.Amount.Amount.String(),
		Currency:          sub.Amount.Currency,
		Timestamp:         time.Now(),
	}
	payload, err := wireSub.ToJSON()
	if err != nil {
		return "", err
	}
	if err := a.publisher.Send(ctx, kafka.TopicClearingCommands, []byte(sub.PaymentID), payload); err != nil {
		// Заявка не ушла: снимаем отметку, повтор шага опубликует заново.
		a.mu.Lock()
		delete(a.submitted, key)
		a.mu.Unlock()
		return "", err
	}

	lg := logger.FromContext(ctx)
	lg.Info().
		Str("clearing_reference", ref).
		Str("payment_id", sub.PaymentID).
		Str("clearing_system", sub.ClearingSystem).
		Msg("Заявка на клиринг опубликована")

	a.publishReply(ctx, ref)
	return ref, nil
}

// publishReply публикует подтверждение SETTLED с задержкой replyDelay.
func (a *LoopbackAdapter) publishReply(ctx context.Context, ref string) {
	go func() {
		if a.replyDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.replyDelay):
			}
		}

		reply := events.ClearingReply{
			ClearingReference: ref,
			Status:            events.ClearingReplySettled,
			SettledAt:         time.Now(),
		}
		payload, err := reply.ToJSON()
		if err != nil {
			return
		}
		if err := a.publisher.Send(ctx, kafka.TopicClearingReplies, []byte(ref), payload); err != nil {
			lg := logger.FromContext(ctx)
			lg.Error().Err(err).
				Str("clearing_reference", ref).
				Msg("Ошибка публикации подтверждения расчёта")
		}
	}()
}

// Reverse публикует разворот заявки. Идемпотентен по (sagaID, stepID).
func (a *LoopbackAdapter) Reverse(ctx context.Context, clearingReference, sagaID, stepID string) error {
	key := sagaID + "/" + stepID

	a.mu.Lock()
	if a.reversed[key] {
		a.mu.Unlock()
		return nil
	}
	a.reversed[key] = true
	a.mu.Unlock()

	reply := events.ClearingReply{
		ClearingReference: clearingReference,
		Status:            events.ClearingReplyRejected,
		Error:             "REVERSED",
		SettledAt:         time.Now(),
	}
	payload, err := reply.ToJSON()
	if err != nil {
		return err
	}
	if err := a.publisher.Send(ctx, kafka.TopicClearingCommands, []byte(clearingReference), payload); err != nil {
		a.mu.Lock()
		delete(a.reversed, key)
		a.mu.Unlock()
		return err
	}

	lg := logger.FromContext(ctx)
	lg.Info().
		Str("clearing_reference", clearingReference).
		Msg("Разворот клиринговой заявки опубликован")
	return nil
}
