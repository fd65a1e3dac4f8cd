package routing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/services/payments/internal/domain"
)

// =============================================================================
// Кэш правил: expirable LRU поверх хранилища + singleflight
// =============================================================================

// CachedRulesPort — кэширующая обёртка над RulesPort.
// Набор правил арендатора живёт в LRU с TTL; конкурентные промахи по
// одному арендатору схлопываются в один запрос к хранилищу (singleflight),
// чтобы истечение кэша под нагрузкой не устраивало шторм запросов к БД.
type CachedRulesPort struct {
	inner RulesPort
	cache *expirable.LRU[string, []Rule]
	group singleflight.Group
}

// NewCachedRulesPort создаёт кэширующую обёртку.
func NewCachedRulesPort(inner RulesPort, size int, ttl time.Duration) *CachedRulesPort {
	return &CachedRulesPort{
		inner: inner,
		cache: expirable.NewLRU[string, []Rule](size, nil, ttl),
	}
}

// LoadActive возвращает действующие правила арендатора, при промахе
// загружая их из хранилища.
func (p *CachedRulesPort) LoadActive(ctx context.Context, tenant domain.TenantContext, at time.Time) ([]Rule, error) {
	key := tenant.TenantID + "|" + tenant.BusinessUnitID

	if rules, ok := p.cache.Get(key); ok {
		return rules, nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		rules, err := p.inner.LoadActive(ctx, tenant, at)
		if err != nil {
			return nil, err
		}
		p.cache.Add(key, rules)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Rule), nil
}

// Evict сбрасывает кэшированный набор правил арендатора.
func (p *CachedRulesPort) Evict(tenant domain.TenantContext) {
	p.cache.Remove(tenant.TenantID + "|" + tenant.BusinessUnitID)
}

// EvictAll сбрасывает весь кэш правил.
func (p *CachedRulesPort) EvictAll() {
	p.cache.Purge()
}

// =============================================================================
// Кэш решений: Redis, ключ по paymentId
// =============================================================================

const decisionKeyPrefix = "routing:decision:"

// RedisDecisionCache — кэш решений маршрутизации в Redis.
// Решение платежа стабильно на всю жизнь саги: повторная доставка
// команды DetermineRoute получает тот же маршрут.
type RedisDecisionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDecisionCache создаёт кэш решений.
func NewRedisDecisionCache(client *redis.Client, ttl time.Duration) *RedisDecisionCache {
	return &RedisDecisionCache{client: client, ttl: ttl}
}

// Get возвращает закэшированное решение платежа.
// Ошибка Redis трактуется как промах: маршрутизация не зависает из-за кэша.
func (c *RedisDecisionCache) Get(ctx context.Context, paymentID string) (*Decision, bool) {
	data, err := c.client.Get(ctx, decisionKeyPrefix+paymentID).Bytes()
	if err != nil {
		if err != redis.Nil {
			lg := logger.FromContext(ctx)
			lg.Warn().Err(err).
				Str("payment_id", paymentID).
				Msg("Ошибка чтения кэша решений маршрутизации")
		}
		return nil, false
	}

	var decision Decision
	if err := json.Unmarshal(data, &decision); err != nil {
		lg := logger.FromContext(ctx)
		lg.Warn().Err(err).
			Str("payment_id", paymentID).
			Msg("Повреждённая запись в кэше решений маршрутизации")
		return nil, false
	}
	return &decision, true
}

// Put сохраняет решение платежа. Ошибка записи только логируется.
func (c *RedisDecisionCache) Put(ctx context.Context, decision *Decision) {
	data, err := json.Marshal(decision)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, decisionKeyPrefix+decision.PaymentID, data, c.ttl).Err(); err != nil {
		lg := logger.FromContext(ctx)
		lg.Warn().Err(err).
			Str("payment_id", decision.PaymentID).
			Msg("Ошибка записи в кэш решений маршрутизации")
	}
}

// Invalidate удаляет решение платежа из кэша.
func (c *RedisDecisionCache) Invalidate(ctx context.Context, paymentID string) error {
	return c.client.Del(ctx, decisionKeyPrefix+paymentID).Err()
}

// InvalidateAll удаляет все закэшированные решения.
// Используется при публикации нового набора правил: старые решения
// терминальных платежей безвредны, но кэш дешевле вычистить целиком.
func (c *RedisDecisionCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, decisionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
