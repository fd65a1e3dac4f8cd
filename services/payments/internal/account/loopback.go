// Package account содержит адаптер сервиса счетов.
// Боевой адаптер ходит во внешний Account Service; loopback-реализация
// держит резервы в памяти и используется в development и тестах.
package account

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"example.com/payments-platform/pkg/fault"
	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/services/payments/internal/domain"
)

// ErrInsufficientFunds — на счёте недостаточно средств для резервирования.
// Текст — wire-контракт: попадает в failureReason платежа.
var ErrInsufficientFunds = errors.New("INSUFFICIENT_FUNDS")

// LoopbackAdapter — loopback-реализация порта резервирования средств.
//
// Обе операции идемпотентны по (sagaID, stepID): повторная доставка
// команды шага не резервирует и не возвращает средства дважды.
type LoopbackAdapter struct {
	mu        sync.Mutex
	limits    map[domain.AccountNumber]decimal.Decimal // Доступный остаток
	reserved  map[string]decimal.Decimal               // sagaID+"/"+stepID -> сумма резерва
	released  map[string]bool
	unlimited bool
}

// NewLoopbackAdapter создаёт адаптер без лимитов: любое резервирование
// проходит. Лимиты по счетам задаются через SetLimit.
func NewLoopbackAdapter() *LoopbackAdapter {
	return &LoopbackAdapter{
		limits:    make(map[domain.AccountNumber]decimal.Decimal),
		reserved:  make(map[string]decimal.Decimal),
		released:  make(map[string]bool),
		unlimited: true,
	}
}

// SetLimit задаёт доступный остаток счёта. После первого вызова адаптер
// проверяет остатки для всех счетов с заданным лимитом.
func (a *LoopbackAdapter) SetLimit(account domain.AccountNumber, available decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limits[account] = available
	a.unlimited = false
}

// Reserve резервирует средства на счёте.
func (a *LoopbackAdapter) Reserve(ctx context.Context, account domain.AccountNumber, amount domain.Money, sagaID, stepID string) error {
	key := sagaID + "/" + stepID

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.reserved[key]; ok {
		lg := logger.FromContext(ctx)
		lg.Debug().
			Str("saga_id", sagaID).
			Str("step_id", stepID).
			Msg("Повторное резервирование средств, пропущено")
		return nil
	}

	if limit, ok := a.limits[account]; ok {
		if amount.Amount.GreaterThan(limit) {
			return fault.Permanent(ErrInsufficientFunds.Error(), ErrInsufficientFunds)
		}
		a.limits[account] = limit.Sub(amount.Amount)
	} else if !a.unlimited {
		a.limits[account] = decimal.Zero.Sub(amount.Amount)
	}

	a.reserved[key] = amount.Amount

	lg := logger.FromContext(ctx)
	lg.Info().
		Str("account", string(account)).
		Str("amount", amount.Amount.String()).
		Str("saga_id", sagaID).
		Msg("Средства зарезервированы")
	return nil
}

// Release возвращает ранее зарезервированные средства.
// Резерва нет — операция no-op: компенсация может прийти раньше,
// чем прямое действие было выполнено.
func (a *LoopbackAdapter) Release(ctx context.Context, account domain.AccountNumber, amount domain.Money, sagaID, stepID string) error {
	key := sagaID + "/" + stepID

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released[key] {
		return nil
	}
	reserved, ok := a.reserved[key]
	if !ok {
		return nil
	}

	if limit, exists := a.limits[account]; exists {
		a.limits[account] = limit.Add(reserved)
	}
	a.released[key] = true

	lg := logger.FromContext(ctx)
	lg.Info().
		Str("account", string(account)).
		Str("amount", reserved.String()).
		Str("saga_id", sagaID).
		Msg("Резерв средств возвращён")
	return nil
}

// ReservedCount возвращает число активных резервов (для тестов и метрик).
func (a *LoopbackAdapter) ReservedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0
	for key := range a.reserved {
		if !a.released[key] {
			count++
		}
	}
	return count
}
