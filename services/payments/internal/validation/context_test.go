package validation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis поднимает miniredis и возвращает клиент к нему.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisRuleContext_VelocityCounter(t *testing.T) {
	rdb := newTestRedis(t)
	rc := NewRedisRuleContext(rdb)
	ctx := context.Background()

	// Каждый вызов инкрементирует счётчик платежей со счёта.
	for want := 1; want <= 3; want++ {
		count, err := rc.CountRecentPayments(ctx, "12345678901", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	// Счётчики разных счетов независимы.
	count, err := rc.CountRecentPayments(ctx, "98765432101", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// На ключе выставлен TTL окна.
	ttl, err := rdb.TTL(ctx, velocityKeyPrefix+"12345678901").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisRuleContext_Sanctions(t *testing.T) {
	rdb := newTestRedis(t)
	rc := NewRedisRuleContext(rdb)
	ctx := context.Background()

	require.NoError(t, rdb.SAdd(ctx, sanctionsSetKey, "bad-account").Err())

	hit, err := rc.IsSanctioned(ctx, "bad-account")
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = rc.IsSanctioned(ctx, "clean-account")
	require.NoError(t, err)
	assert.False(t, hit)
}
