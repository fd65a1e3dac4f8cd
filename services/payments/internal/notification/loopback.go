// Package notification содержит адаптер уведомлений.
// Loopback-реализация пишет уведомления в лог; боевой адаптер —
// отдельный сервис за шиной событий.
package notification

import (
	"context"

	"example.com/payments-platform/pkg/logger"
)

// LogAdapter — loopback-реализация порта уведомлений.
type LogAdapter struct{}

// NewLogAdapter создаёт адаптер уведомлений через лог.
func NewLogAdapter() *LogAdapter {
	return &LogAdapter{}
}

// Send пишет уведомление в лог. Шаг Notify выполняется best-effort:
// адаптер никогда не возвращает ошибку.
func (a *LogAdapter) Send(ctx context.Context, businessKey, eventType string) error {
	lg := logger.FromContext(ctx)
	lg.Info().
		Str("payment_id", businessKey).
		Str("event_type", eventType).
		Msg("Уведомление отправлено")
	return nil
}
