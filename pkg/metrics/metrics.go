// Package metrics предоставляет Prometheus метрики платформы платежей.
// Содержит базовые метрики (requests, latency) плюс доменные коллекторы
// саги, маршрутизации и валидации, а также HTTP server для /metrics endpoint.
//
// Типы метрик в Prometheus:
//   - Counter: только растёт (запросы, ошибки) — "сколько всего произошло"
//   - Histogram: распределение значений (latency) — "как быстро работает"
//   - Gauge: текущее значение (активные саги) — "сколько сейчас"
//
// Использование:
//
//	go metrics.StartServer(":9090", "payments-platform")
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/payments-platform/pkg/logger"
)

// =============================================================================
// Базовые метрики — операции API и их latency
// =============================================================================

var (
	// RequestsTotal — счётчик всех операций.
	// Labels позволяют фильтровать: requests_total{service="payments", method="InitiatePayment", status="success"}
	// PromQL пример: rate(requests_total{service="payments"}[5m]) — RPS за 5 минут
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Общее количество операций по сервису, методу и статусу",
		},
		[]string{"service", "method", "status"}, // Labels для фильтрации
	)

	// RequestDuration — гистограмма latency операций.
	// Buckets: границы интервалов в секундах (5ms, 10ms, 25ms, ..., 10s)
	// PromQL пример: histogram_quantile(0.95, rate(request_duration_seconds_bucket[5m])) — p95 latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "request_duration_seconds",
			Help: "Время выполнения операции в секундах",
			// Buckets оптимизированы для типичных API: от 5ms до 10s
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method"},
	)
)

// =============================================================================
// Метрики саги — жизненный цикл и шаги
// =============================================================================

var (
	// SagasTotal — счётчик завершённых саг по шаблону и финальному статусу.
	// PromQL: rate(sagas_total{status="COMPENSATED"}[5m]) — частота компенсаций
	SagasTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagas_total",
			Help: "Количество завершённых саг по шаблону и финальному статусу",
		},
		[]string{"template", "status"},
	)

	// SagaStepsTotal — счётчик выполнений шагов по результату.
	// result: completed / failed / compensated / compensation_failed
	SagaStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_steps_total",
			Help: "Количество выполнений шагов саги по шаблону, шагу и результату",
		},
		[]string{"template", "step", "result"},
	)

	// SagaStepDuration — гистограмма времени выполнения шага (включая повторы).
	SagaStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_step_duration_seconds",
			Help:    "Время выполнения шага саги в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"template", "step"},
	)

	// SagasInFlight — количество саг, находящихся в обработке прямо сейчас.
	SagasInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sagas_in_flight",
			Help: "Количество саг в обработке по шаблону",
		},
		[]string{"template"},
	)

	// DispatcherQueueDepth — текущая глубина очереди диспетчера саг.
	DispatcherQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_dispatcher_queue_depth",
			Help: "Текущая глубина очереди диспетчера саг",
		},
	)

	// SagaRetriesTotal — счётчик повторных попыток шагов.
	SagaRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_step_retries_total",
			Help: "Количество повторных попыток выполнения шагов саги",
		},
		[]string{"template", "step"},
	)
)

// =============================================================================
// Метрики маршрутизации
// =============================================================================

var (
	// RoutingEvaluationDuration — время оценки набора правил для платежа.
	// Buckets с мелким шагом: оценка правил обязана укладываться в таймаут 2s.
	RoutingEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "routing_evaluation_duration_seconds",
			Help:    "Время оценки правил маршрутизации в секундах",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	// RoutingDecisionsTotal — счётчик решений маршрутизации.
	// source: rule / fallback / cache
	RoutingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_decisions_total",
			Help: "Количество решений маршрутизации по клиринговой системе и источнику",
		},
		[]string{"clearing_system", "source"},
	)

	// RoutingRuleErrorsTotal — счётчик ошибок оценки отдельных правил
	// (таймаут, panic). Правило с ошибкой пропускается, оценка продолжается.
	RoutingRuleErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_rule_errors_total",
			Help: "Количество ошибок оценки правил маршрутизации по причине",
		},
		[]string{"reason"},
	)
)

// =============================================================================
// Метрики валидации
// =============================================================================

var (
	// ValidationChecksTotal — счётчик прогонов валидации по результату.
	ValidationChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_checks_total",
			Help: "Количество прогонов валидации по результату (PASSED/FAILED)",
		},
		[]string{"status"},
	)

	// ValidationFailuresTotal — счётчик сработавших правил валидации.
	// group: BUSINESS / COMPLIANCE / FRAUD / RISK
	ValidationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_failures_total",
			Help: "Количество сработавших правил валидации по группе и правилу",
		},
		[]string{"group", "rule"},
	)
)

// =============================================================================
// Метрики outbox
// =============================================================================

var (
	// OutboxPublishedTotal — счётчик записей outbox по исходу обработки.
	// result: published / failed / dead_letter
	OutboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_records_total",
			Help: "Количество обработанных записей outbox по исходу",
		},
		[]string{"result"},
	)

	// OutboxPendingRecords — размер последней пачки необработанных записей.
	// Растущее значение — сигнал, что публикация не успевает за записью.
	OutboxPendingRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_records",
			Help: "Количество необработанных записей outbox в последней пачке",
		},
	)
)

// =============================================================================
// HTTP Server для /metrics endpoint
// =============================================================================

// ReadinessChecker — функция проверки готовности сервиса.
// Возвращает nil если сервис готов принимать трафик, иначе — ошибку.
type ReadinessChecker func(ctx context.Context) error

// Server — HTTP сервер для экспорта метрик Prometheus.
type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
}

// Option — функциональная опция для настройки Server.
type Option func(*Server)

// WithReadinessCheck добавляет проверку готовности для /readyz endpoint.
// Если checker возвращает ошибку — /readyz вернёт 503 Service Unavailable.
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

// NewServer создаёт новый metrics server.
// addr — адрес для прослушивания (например ":9090")
// service — имя сервиса для логирования
// opts — опциональные настройки (например WithReadinessCheck)
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{
		service: service,
	}

	// Применяем опции
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()

	// /metrics — endpoint для Prometheus (он сам приходит сюда и забирает метрики)
	mux.Handle("/metrics", promhttp.Handler())

	// /health — простой health check (полезно для отладки, оставляем для совместимости)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// /healthz — liveness probe для Kubernetes
	// Возвращает 200 OK если процесс жив (сервер отвечает = процесс работает)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	})

	// /readyz — readiness probe для Kubernetes
	// Возвращает 200 OK если сервис готов принимать трафик (все зависимости доступны)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		// Если ReadinessChecker не установлен — считаем сервис готовым
		if s.readinessCheck == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ready"}`))
			return
		}

		// Проверяем готовность с таймаутом 5 секунд
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.readinessCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			// Не выводим детали ошибки наружу (безопасность)
			_, _ = w.Write([]byte(`{"status":"not_ready"}`))
			logger.Warn().Err(err).Str("service", service).Msg("Readiness check failed")
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start запускает HTTP сервер для метрик.
// Блокирующий вызов — запускать в горутине.
func (s *Server) Start() error {
	log := logger.With().Str("service", s.service).Logger()
	log.Info().Str("addr", s.httpServer.Addr).Msg("Запуск Metrics Server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// Вспомогательные функции для записи метрик
// =============================================================================

// RecordRequest записывает метрики операции (вызывать в конце обработки).
// duration — время выполнения операции
// method — имя метода (например "InitiatePayment", "EvaluateRoute")
// status — результат: "success" или "error"
func RecordRequest(service, method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordSagaFinished записывает завершение саги с финальным статусом.
func RecordSagaFinished(template, status string) {
	SagasTotal.WithLabelValues(template, status).Inc()
}

// RecordSagaStep записывает результат выполнения шага саги.
func RecordSagaStep(template, step, result string, duration time.Duration) {
	SagaStepsTotal.WithLabelValues(template, step, result).Inc()
	SagaStepDuration.WithLabelValues(template, step).Observe(duration.Seconds())
}

// RecordRoutingDecision записывает решение маршрутизации.
// source — rule (сработало правило), fallback (правил нет), cache (из кэша решений).
func RecordRoutingDecision(clearingSystem, source string, duration time.Duration) {
	RoutingDecisionsTotal.WithLabelValues(clearingSystem, source).Inc()
	RoutingEvaluationDuration.Observe(duration.Seconds())
}

// RecordValidation записывает итог прогона валидации.
func RecordValidation(status string) {
	ValidationChecksTotal.WithLabelValues(status).Inc()
}

// RecordValidationFailure записывает сработавшее правило валидации.
func RecordValidationFailure(group, rule string) {
	ValidationFailuresTotal.WithLabelValues(group, rule).Inc()
}
