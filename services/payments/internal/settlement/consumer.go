package settlement

import (
	"context"
	"fmt"

	"example.com/payments-platform/pkg/events"
	"example.com/payments-platform/pkg/kafka"
	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/services/payments/internal/saga"
)

// RepliesConsumer читает подтверждения расчёта из топика clearing.replies
// и доставляет их трекеру. Повторная доставка безопасна: подтверждение
// по уже завершённой ссылке буферизуется и вытесняется при Cancel.
type RepliesConsumer struct {
	consumer *kafka.Consumer
	tracker  *Tracker
}

// NewRepliesConsumer создаёт consumer подтверждений расчёта.
func NewRepliesConsumer(consumer *kafka.Consumer, tracker *Tracker) *RepliesConsumer {
	return &RepliesConsumer{
		consumer: consumer,
		tracker:  tracker,
	}
}

// Run запускает чтение подтверждений. Блокирует до отмены контекста.
func (c *RepliesConsumer) Run(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handle)
}

// handle обрабатывает одно подтверждение.
func (c *RepliesConsumer) handle(ctx context.Context, msg *kafka.Message) error {
	reply, err := events.ClearingReplyFromJSON(msg.Value)
	if err != nil {
		// Нечитаемое сообщение уходит в DLQ средствами consumer.
		return fmt.Errorf("ошибка разбора подтверждения расчёта: %w", err)
	}

	lg := logger.FromContext(ctx)
	lg.Info().
		Str("clearing_reference", reply.ClearingReference).
		Str("status", string(reply.Status)).
		Msg("Получено подтверждение расчёта")

	c.tracker.Resolve(ctx, &saga.SettlementResult{
		ClearingReference: reply.ClearingReference,
		Settled:           reply.IsSettled(),
		Reason:            reply.Error,
		SettledAt:         reply.SettledAt,
	})
	return nil
}
