// Package settlement реализует трекер расчётов: ожидание подтверждений
// клиринговой системы по clearing_reference. Шаг AwaitSettlement саги
// блокируется на трекере, consumer топика clearing.replies будит его,
// когда приходит подтверждение.
package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/services/payments/internal/saga"
)

// ErrSettlementTimeout — подтверждение расчёта не пришло за отведённое время.
var ErrSettlementTimeout = errors.New("таймаут ожидания подтверждения расчёта")

// Tracker сопоставляет подтверждения расчёта с ожидающими шагами саги.
//
// Доставка подтверждений at-least-once и порядок не гарантирован:
// подтверждение может прийти раньше, чем шаг начал ожидание (рестарт,
// повтор шага). Такие ранние подтверждения буферизуются и отдаются
// первому же WaitFor по той же ссылке.
type Tracker struct {
	mu      sync.Mutex
	waiters map[string]chan *saga.SettlementResult
	early   map[string]*saga.SettlementResult
}

// NewTracker создаёт трекер расчётов.
func NewTracker() *Tracker {
	return &Tracker{
		waiters: make(map[string]chan *saga.SettlementResult),
		early:   make(map[string]*saga.SettlementResult),
	}
}

// WaitFor блокируется до прихода подтверждения по clearingReference
// либо до истечения таймаута.
func (t *Tracker) WaitFor(ctx context.Context, clearingReference string, timeout time.Duration) (*saga.SettlementResult, error) {
	t.mu.Lock()
	if result, ok := t.early[clearingReference]; ok {
		delete(t.early, clearingReference)
		t.mu.Unlock()
		return result, nil
	}

	// Буфер 1: Resolve не блокируется, даже если ожидающий уже ушёл.
	ch := make(chan *saga.SettlementResult, 1)
	t.waiters[clearingReference] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.waiters[clearingReference] == ch {
			delete(t.waiters, clearingReference)
		}
		t.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		return result, nil
	case <-timer.C:
		return nil, ErrSettlementTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel снимает ожидание по ссылке (компенсация шага AwaitSettlement).
func (t *Tracker) Cancel(_ context.Context, clearingReference string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.waiters, clearingReference)
	delete(t.early, clearingReference)
	return nil
}

// Resolve доставляет подтверждение ожидающему шагу.
// Ожидающего нет — подтверждение буферизуется как раннее.
func (t *Tracker) Resolve(ctx context.Context, result *saga.SettlementResult) {
	t.mu.Lock()
	ch, ok := t.waiters[result.ClearingReference]
	if ok {
		delete(t.waiters, result.ClearingReference)
	} else {
		t.early[result.ClearingReference] = result
	}
	t.mu.Unlock()

	if ok {
		ch <- result
		return
	}

	lg := logger.FromContext(ctx)
	lg.Debug().
		Str("clearing_reference", result.ClearingReference).
		Msg("Подтверждение расчёта пришло раньше ожидающего, буферизовано")
}
