// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию координатора платежей.
type Config struct {
	App        AppConfig
	MySQL      MySQLConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Jaeger     JaegerConfig
	Metrics    MetricsConfig
	Saga       SagaConfig
	Routing    RoutingConfig
	Validation ValidationConfig
	Clearing   ClearingConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"payments-platform"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"payments"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"payments-platform"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"` // OTLP gRPC порт
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
// В K8s все сервисы могут использовать один порт (разные pods).
// Локально — каждый сервис переопределяет METRICS_PORT.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"` // Включить metrics endpoint
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`    // Порт для /metrics
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SagaConfig содержит настройки оркестратора саг.
type SagaConfig struct {
	// StepTimeout — таймаут выполнения одного шага саги.
	// Истечение трактуется как сбой шага с причиной "TIMEOUT".
	StepTimeout time.Duration `env:"SAGA_STEP_TIMEOUT" envDefault:"30s"`

	// WallClockTimeout — предельное время жизни саги от старта до терминального
	// статуса. Просроченные саги принудительно уходят в компенсацию.
	WallClockTimeout time.Duration `env:"SAGA_WALL_CLOCK_TIMEOUT" envDefault:"300s"`

	// RetryBase / RetryFactor / RetryCap / RetryMaxAttempts — политика повторов
	// transient-ошибок шага: экспоненциальный backoff.
	RetryBase        time.Duration `env:"SAGA_RETRY_BASE" envDefault:"1s"`
	RetryFactor      float64       `env:"SAGA_RETRY_FACTOR" envDefault:"2"`
	RetryCap         time.Duration `env:"SAGA_RETRY_CAP" envDefault:"30s"`
	RetryMaxAttempts int           `env:"SAGA_RETRY_MAX_ATTEMPTS" envDefault:"3"`

	// MaxInFlightPerTenant — предел одновременно обрабатываемых саг одного
	// арендатора. Сверх предела заявки попадают в очередь ожидания.
	MaxInFlightPerTenant int `env:"SAGA_MAX_IN_FLIGHT_PER_TENANT" envDefault:"64"`

	// Workers — размер пула воркеров диспетчера.
	Workers int `env:"SAGA_WORKERS" envDefault:"16"`

	// QueueCapacity — ёмкость очереди диспетчеризации.
	QueueCapacity int `env:"SAGA_QUEUE_CAPACITY" envDefault:"1024"`

	// QueueMaxAge — максимальный возраст заявки в очереди ожидания.
	// Старше — вытесняется (age-bounded eviction).
	QueueMaxAge time.Duration `env:"SAGA_QUEUE_MAX_AGE" envDefault:"60s"`
}

// RoutingConfig содержит настройки движка маршрутизации.
type RoutingConfig struct {
	// RuleEvaluationTimeout — таймаут оценки одного правила.
	RuleEvaluationTimeout time.Duration `env:"ROUTING_RULE_EVALUATION_TIMEOUT" envDefault:"2s"`

	// FallbackClearingSystem — клиринговая система по умолчанию,
	// когда ни одно правило не совпало.
	FallbackClearingSystem string `env:"ROUTING_FALLBACK_CLEARING_SYSTEM" envDefault:"DEFAULT_CLEARING"`

	// RuleCacheTTL / RuleCacheSize — кэш активных правил (read-mostly).
	RuleCacheTTL  time.Duration `env:"ROUTING_RULE_CACHE_TTL" envDefault:"5m"`
	RuleCacheSize int           `env:"ROUTING_RULE_CACHE_SIZE" envDefault:"256"`

	// DecisionCacheTTL — TTL кэша решений по paymentId.
	DecisionCacheTTL time.Duration `env:"ROUTING_DECISION_CACHE_TTL" envDefault:"1h"`
}

// ValidationConfig содержит настройки движка валидации.
// Веса скоринга зафиксированы исторически (25 за FRAUD, 20 за RISK),
// но вынесены в конфигурацию.
type ValidationConfig struct {
	FraudScoreWeight    int           `env:"VALIDATION_FRAUD_SCORE_WEIGHT" envDefault:"25"`
	RiskScoreWeight     int           `env:"VALIDATION_RISK_SCORE_WEIGHT" envDefault:"20"`
	AmountLimit         string        `env:"VALIDATION_AMOUNT_LIMIT" envDefault:"100000"`
	RiskAmountThreshold string        `env:"VALIDATION_RISK_AMOUNT_THRESHOLD" envDefault:"50000"`
	VelocityThreshold   int           `env:"VALIDATION_VELOCITY_THRESHOLD" envDefault:"10"`
	VelocityWindow      time.Duration `env:"VALIDATION_VELOCITY_WINDOW" envDefault:"1m"`
}

// ClearingConfig содержит настройки взаимодействия с клиринговыми системами.
type ClearingConfig struct {
	// Mode — режим клирингового адаптера: "loopback" (локальная разработка,
	// адаптер сам подтверждает отправки) или "external" (адаптер подключается
	// снаружи через порт).
	Mode string `env:"CLEARING_MODE" envDefault:"loopback"`

	// SettlementTimeout — таймаут ожидания подтверждения расчёта.
	SettlementTimeout time.Duration `env:"CLEARING_SETTLEMENT_TIMEOUT" envDefault:"60s"`
}

// Load загружает конфигурацию из переменных окружения.
// Опционально загружает .env файл, если он существует.
func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файл не найден)
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
