package db

import (
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/payments-platform/pkg/config"
)

// ConnectRedis создаёт клиент Redis. Клиент обслуживает ключи
// идемпотентности инициации, кэш решений маршрутизации и счётчики
// velocity-правил валидации; доступность проверяется пингом на стороне
// вызывающего — сервис может стартовать в деградированном режиме.
func ConnectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  pingTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}
