package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/payments-platform/services/payments/internal/domain"
)

// RuleContext — порт внешних данных для правил валидации.
// Движок сам не делает I/O: санкционные списки и счётчики скорости
// правила получают через этот интерфейс. Детерминизм движка — следствие
// детерминизма контекста: одинаковый вход + одинаковый контекст дают
// одинаковый результат.
type RuleContext interface {
	// IsSanctioned проверяет счёт по санкционному списку.
	IsSanctioned(ctx context.Context, account domain.AccountNumber) (bool, error)

	// CountRecentPayments возвращает число платежей со счёта за окно
	// и регистрирует текущий платёж в счётчике (velocity-контроль).
	CountRecentPayments(ctx context.Context, account domain.AccountNumber, window time.Duration) (int, error)
}

// =============================================================================
// StaticRuleContext — статическая реализация для тестов и локальной разработки
// =============================================================================

// StaticRuleContext — детерминированная реализация RuleContext в памяти.
type StaticRuleContext struct {
	Sanctioned map[string]bool // Счета из санкционного списка
	Counts     map[string]int  // Фиксированные счётчики скорости по счетам
}

// NewStaticRuleContext создаёт пустой статический контекст (всё чисто).
func NewStaticRuleContext() *StaticRuleContext {
	return &StaticRuleContext{
		Sanctioned: make(map[string]bool),
		Counts:     make(map[string]int),
	}
}

// IsSanctioned проверяет счёт по статическому списку.
func (s *StaticRuleContext) IsSanctioned(_ context.Context, account domain.AccountNumber) (bool, error) {
	return s.Sanctioned[account.String()], nil
}

// CountRecentPayments возвращает фиксированный счётчик по счёту.
func (s *StaticRuleContext) CountRecentPayments(_ context.Context, account domain.AccountNumber, _ time.Duration) (int, error) {
	return s.Counts[account.String()], nil
}

// =============================================================================
// RedisRuleContext — производственная реализация (INCR + TTL, SISMEMBER)
// =============================================================================

const (
	// velocityKeyPrefix — префикс ключей счётчиков скорости в Redis.
	velocityKeyPrefix = "validation:velocity:"

	// sanctionsSetKey — ключ множества санкционных счетов в Redis.
	sanctionsSetKey = "validation:sanctions"
)

// RedisRuleContext — реализация RuleContext поверх Redis.
// Счётчики скорости: INCR + EXPIRE на окно; санкционный список — множество.
type RedisRuleContext struct {
	rdb *redis.Client
}

// NewRedisRuleContext создаёт контекст правил поверх Redis.
func NewRedisRuleContext(rdb *redis.Client) *RedisRuleContext {
	return &RedisRuleContext{rdb: rdb}
}

// IsSanctioned проверяет счёт во множестве санкционных счетов.
func (r *RedisRuleContext) IsSanctioned(ctx context.Context, account domain.AccountNumber) (bool, error) {
	member, err := r.rdb.SIsMember(ctx, sanctionsSetKey, account.String()).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка проверки санкционного списка: %w", err)
	}
	return member, nil
}

// CountRecentPayments инкрементирует счётчик платежей со счёта.
// TTL выставляется только при создании ключа: окно считается
// от первого платежа серии.
func (r *RedisRuleContext) CountRecentPayments(ctx context.Context, account domain.AccountNumber, window time.Duration) (int, error) {
	key := velocityKeyPrefix + account.String()

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ошибка инкремента счётчика скорости: %w", err)
	}

	// Первый платёж серии — выставляем окно жизни счётчика.
	if count == 1 {
		if err := r.rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("ошибка установки TTL счётчика скорости: %w", err)
		}
	}

	return int(count), nil
}
