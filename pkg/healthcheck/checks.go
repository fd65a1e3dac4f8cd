// Package healthcheck собирает проверки готовности зависимостей сервиса.
// Результат скармливается metrics.WithReadinessCheck: /readyz отвечает 503,
// пока хотя бы одна зависимость недоступна.
package healthcheck

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Check — одна проверка готовности. nil означает «зависимость доступна».
type Check func(ctx context.Context) error

// MySQL возвращает проверку доступности MySQL через пул GORM.
func MySQL(db *gorm.DB) Check {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("mysql ping: %w", err)
		}
		return nil
	}
}

// Redis возвращает проверку доступности Redis.
func Redis(rdb *redis.Client) Check {
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
}

// All объединяет проверки: первая ошибка прерывает обход.
// Возвращает обычную функцию, чтобы результат подходил под
// metrics.ReadinessChecker без конвертации.
func All(checks ...Check) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
