// Payments Service — ядро платёжной платформы: идемпотентная инициация
// платежей, саговая оркестрация PAYMENT_PROCESSING, маршрутизация, валидация
// и двойная запись. Доменные события публикуются через outbox (at-least-once),
// подтверждения расчёта приходят из clearing.replies.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"example.com/payments-platform/pkg/config"
	dbpkg "example.com/payments-platform/pkg/db"
	"example.com/payments-platform/pkg/healthcheck"
	"example.com/payments-platform/pkg/kafka"
	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/pkg/metrics"
	"example.com/payments-platform/pkg/outbox"
	"example.com/payments-platform/pkg/tracing"
	"example.com/payments-platform/services/payments/internal/account"
	"example.com/payments-platform/services/payments/internal/clearing"
	"example.com/payments-platform/services/payments/internal/ledger"
	"example.com/payments-platform/services/payments/internal/notification"
	"example.com/payments-platform/services/payments/internal/repository"
	"example.com/payments-platform/services/payments/internal/routing"
	"example.com/payments-platform/services/payments/internal/saga"
	"example.com/payments-platform/services/payments/internal/service"
	"example.com/payments-platform/services/payments/internal/settlement"
	"example.com/payments-platform/services/payments/internal/validation"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", "payments-service").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Msg("Запуск Payments Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "payments-service",
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	rdb := dbpkg.ConnectRedis(cfg.Redis)
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	pingCancel()
	log.Info().Msg("Подключение к Redis установлено")

	// ReadinessChecker для /readyz — проверяет MySQL и Redis
	readinessCheck := healthcheck.All(
		healthcheck.MySQL(db),
		healthcheck.Redis(rdb),
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"payments-service",
			metrics.WithReadinessCheck(readinessCheck),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Kafka ===

	kafkaProducer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
	}

	repliesConsumer, err := kafka.NewConsumer(
		kafka.Config{Brokers: cfg.Kafka.Brokers},
		kafka.TopicClearingReplies,
		cfg.Kafka.ConsumerGroup+"-clearing-replies",
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
	}
	repliesConsumer.SetDLQProducer(kafkaProducer)

	// === Сборка ядра ===

	paymentRepo := repository.NewPaymentRepository(db)
	sagaRepo := saga.NewSagaRepository(db)
	ledgerRepo := ledger.NewTransactionRepository(db)
	validationResults := validation.NewResultRepository(db)

	validator := validation.NewEngine(
		validation.NewStaticRulesPort(validation.Thresholds{
			AmountLimit:         decimal.RequireFromString(cfg.Validation.AmountLimit),
			RiskAmountThreshold: decimal.RequireFromString(cfg.Validation.RiskAmountThreshold),
			VelocityThreshold:   cfg.Validation.VelocityThreshold,
			VelocityWindow:      cfg.Validation.VelocityWindow,
		}),
		validation.NewRedisRuleContext(rdb),
		validation.Config{
			FraudScoreWeight: cfg.Validation.FraudScoreWeight,
			RiskScoreWeight:  cfg.Validation.RiskScoreWeight,
		},
	)

	router := routing.NewEngine(
		routing.NewCachedRulesPort(
			routing.NewRuleRepository(db),
			cfg.Routing.RuleCacheSize,
			cfg.Routing.RuleCacheTTL,
		),
		routing.NewRedisDecisionCache(rdb, cfg.Routing.DecisionCacheTTL),
		routing.EngineConfig{
			RuleTimeout:            cfg.Routing.RuleEvaluationTimeout,
			FallbackClearingSystem: cfg.Routing.FallbackClearingSystem,
		},
	)

	// Порты шагов. В loopback-режиме клиринговый адаптер сам подтверждает
	// расчёты через clearing.replies; боевой адаптер подключается снаружи.
	tracker := settlement.NewTracker()
	accounts := account.NewLoopbackAdapter()
	notifier := notification.NewLogAdapter()
	clearingAdapter := clearing.NewLoopbackAdapter(kafkaProducer, time.Second)
	if cfg.Clearing.Mode != "loopback" {
		log.Warn().Str("mode", cfg.Clearing.Mode).Msg("Внешний клиринговый адаптер не сконфигурирован, используется loopback")
	}

	handlers := service.NewStepHandlers(
		paymentRepo,
		validator,
		validationResults,
		router,
		ledgerRepo,
		accounts,
		clearingAdapter,
		tracker,
		notifier,
	)

	executor := saga.NewExecutor(handlers.Registry(), cfg.Saga.StepTimeout, saga.RetryPolicy{
		Base:        cfg.Saga.RetryBase,
		Factor:      cfg.Saga.RetryFactor,
		Cap:         cfg.Saga.RetryCap,
		MaxAttempts: cfg.Saga.RetryMaxAttempts,
	})
	orchestrator := saga.NewOrchestrator(
		sagaRepo,
		saga.NewRegistry(),
		executor,
		service.NewPaymentFinalizer(paymentRepo),
		cfg.Saga.WallClockTimeout,
	)

	dispatcher := saga.NewDispatcher(orchestrator, saga.DispatcherConfig{
		Workers:              cfg.Saga.Workers,
		QueueCapacity:        cfg.Saga.QueueCapacity,
		MaxInFlightPerTenant: cfg.Saga.MaxInFlightPerTenant,
		QueueMaxAge:          cfg.Saga.QueueMaxAge,
	})

	paymentService := service.NewPaymentService(paymentRepo, sagaRepo, orchestrator, dispatcher, rdb)
	_ = paymentService // Транспортный слой (gRPC/HTTP) подключается отдельным сервисом

	// === Фоновые воркеры ===

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workersWg sync.WaitGroup

	// Диспетчер саг
	workersWg.Add(1)
	go func() {
		defer workersWg.Done()
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Ошибка диспетчера саг")
		}
	}()

	// Восстановление незавершённых саг после рестарта
	if err := saga.RecoverPending(ctx, sagaRepo, dispatcher, cfg.Saga.QueueCapacity); err != nil {
		log.Error().Err(err).Msg("Ошибка восстановления незавершённых саг")
	}

	// Воркер таймаутов: просроченные саги уходят в компенсацию
	timeoutWorker := saga.NewTimeoutWorker(sagaRepo, orchestrator, saga.DefaultTimeoutWorkerConfig())
	workersWg.Add(1)
	go func() {
		defer workersWg.Done()
		timeoutWorker.Run(ctx)
	}()

	// Подтверждения расчёта из clearing.replies
	settlementConsumer := settlement.NewRepliesConsumer(repliesConsumer, tracker)
	workersWg.Add(1)
	go func() {
		defer workersWg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Паника в консьюмере подтверждений расчёта")
			}
		}()
		if err := settlementConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Ошибка консьюмера подтверждений расчёта")
		}
	}()

	// Outbox Worker: читает outbox → публикует доменные события в Kafka
	outboxWorker := outbox.NewOutboxWorker(outbox.NewOutboxRepository(db), kafkaProducer, outbox.DefaultWorkerConfig(), "payments")
	workersWg.Add(1)
	go func() {
		defer workersWg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Паника в Outbox Worker")
			}
		}()
		outboxWorker.Run(ctx)
	}()

	log.Info().Msg("Payments Service запущен")

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")

	// Отменяем контекст — останавливаем диспетчер, воркеры и консьюмеры
	cancel()
	workersWg.Wait()

	// Закрываем Kafka компоненты
	if err := repliesConsumer.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Kafka Consumer")
	}
	if err := kafkaProducer.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
	}

	// Закрываем подключение к MySQL
	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Payments Service остановлен")
}
