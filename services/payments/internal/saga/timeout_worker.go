package saga

import (
	"context"
	"errors"
	"time"

	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/services/payments/internal/domain"
)

// =============================================================================
// TimeoutWorker — принудительная компенсация просроченных саг
// =============================================================================

// TimeoutReason — причина сбоя, инъецируемая в просроченную сагу.
// Текст — wire-контракт: попадает в failureReason платежа.
const TimeoutReason = "SAGA_TIMEOUT"

// TimeoutWorkerConfig — настройки воркера таймаутов.
type TimeoutWorkerConfig struct {
	// PollInterval — интервал между сканированиями таблицы sagas.
	PollInterval time.Duration

	// BatchSize — максимум просроченных саг за один цикл.
	BatchSize int
}

// DefaultTimeoutWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultTimeoutWorkerConfig() TimeoutWorkerConfig {
	return TimeoutWorkerConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    50,
	}
}

// TimeoutWorker периодически сканирует незавершённые саги с истёкшим
// предельным временем жизни и инъецирует в них сбой: сага уходит в
// компенсацию, как будто упал текущий шаг.
type TimeoutWorker struct {
	repo         SagaRepository
	orchestrator Orchestrator
	cfg          TimeoutWorkerConfig
}

// NewTimeoutWorker создаёт воркер таймаутов.
func NewTimeoutWorker(repo SagaRepository, orchestrator Orchestrator, cfg TimeoutWorkerConfig) *TimeoutWorker {
	return &TimeoutWorker{
		repo:         repo,
		orchestrator: orchestrator,
		cfg:          cfg,
	}
}

// Run запускает воркер. Блокирует до отмены контекста.
func (w *TimeoutWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск воркера таймаутов саг")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка воркера таймаутов саг")
			return
		case <-ticker.C:
			w.processExpired(ctx)
		}
	}
}

// processExpired находит просроченные саги и запускает их компенсацию.
func (w *TimeoutWorker) processExpired(ctx context.Context) {
	log := logger.FromContext(ctx)

	ids, err := w.repo.ListExpiredIDs(ctx, time.Now(), w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка поиска просроченных саг")
		return
	}
	if len(ids) == 0 {
		return
	}

	log.Warn().Int("count", len(ids)).Msg("Обнаружены просроченные саги, запускается компенсация")

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := w.orchestrator.Cancel(ctx, id, TimeoutReason)
		switch {
		case err == nil:
			log.Warn().Str("saga_id", id).Msg("Сага отменена по таймауту")
		case errors.Is(err, ErrCancelNotAllowed):
			// Сага уже компенсируется или успела завершиться —
			// дедлайн сработал одновременно с обычным продвижением.
		case errors.Is(err, domain.ErrConcurrentUpdate):
			// Сагу параллельно продвинул воркер диспетчера, следующий
			// цикл сканирования увидит актуальное состояние.
		default:
			log.Error().Err(err).Str("saga_id", id).Msg("Ошибка отмены просроченной саги")
		}
	}
}

// =============================================================================
// Восстановление после рестарта
// =============================================================================

// RecoverPending ставит незавершённые саги обратно в очередь диспетчера.
// Вызывается один раз при старте сервиса: очередь диспетчера живёт в
// памяти, после рестарта её восстанавливает состояние в БД.
func RecoverPending(ctx context.Context, repo SagaRepository, dispatcher *Dispatcher, batchSize int) error {
	log := logger.FromContext(ctx)

	ids, err := repo.ListNonTerminalIDs(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	log.Info().Int("count", len(ids)).Msg("Восстановление незавершённых саг после рестарта")

	for _, id := range ids {
		s, err := repo.GetByID(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("saga_id", id).Msg("Ошибка загрузки саги при восстановлении")
			continue
		}
		if err := dispatcher.Enqueue(ctx, s.ID, s.Tenant.TenantID, s.TemplateName); err != nil {
			// Переполнение очереди при восстановлении — сага останется
			// в БД и попадёт в следующий проход восстановления.
			log.Warn().Err(err).Str("saga_id", id).Msg("Сага не поставлена в очередь при восстановлении")
		}
	}
	return nil
}
