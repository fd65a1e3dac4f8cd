package outbox

import (
	"context"
	"time"

	"example.com/payments-platform/pkg/kafka"
	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/pkg/metrics"
)

// KafkaProducer — минимальный контракт публикации, который нужен воркеру.
// В unit-тестах подменяется моком вместо настоящего kafka.Producer.
type KafkaProducer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// WorkerConfig — настройки Outbox Worker.
type WorkerConfig struct {
	// PollInterval — период опроса таблицы outbox.
	PollInterval time.Duration

	// BatchSize — сколько записей забирается за один опрос.
	BatchSize int

	// MaxRetries — предел попыток публикации одной записи. Запись,
	// исчерпавшая лимит, выводится из очереди как dead letter.
	MaxRetries int
}

// DefaultWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 1 * time.Second,
		BatchSize:    100,
		MaxRetries:   5,
	}
}

// OutboxWorker перекладывает записи из таблицы outbox в Kafka.
// Вместе с транзакционной записью (см. tx.go) даёт at-least-once
// доставку доменных событий: дубликаты возможны, потери — нет.
type OutboxWorker struct {
	repo     OutboxRepository
	producer KafkaProducer
	cfg      WorkerConfig
	name     string // Имя для идентификации в логах
}

// NewOutboxWorker создаёт воркер. name попадает во все его логи
// (например, "coordinator").
func NewOutboxWorker(repo OutboxRepository, producer KafkaProducer, cfg WorkerConfig, name string) *OutboxWorker {
	return &OutboxWorker{
		repo:     repo,
		producer: producer,
		cfg:      cfg,
		name:     name,
	}
}

// cleanupInterval — период запуска очистки опубликованных записей.
const cleanupInterval = 1 * time.Hour

// cleanupRetention — сколько опубликованные записи хранятся до удаления.
const cleanupRetention = 7 * 24 * time.Hour

// Run запускает циклы опроса и очистки. Блокирует до отмены контекста.
func (w *OutboxWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Str("name", w.name).
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("name", w.name).Msg("Остановка Outbox Worker")
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		case <-cleanupTicker.C:
			w.cleanupProcessed(ctx)
		}
	}
}

func (w *OutboxWorker) cleanupProcessed(ctx context.Context) {
	log := logger.FromContext(ctx)

	deleted, err := w.repo.DeleteProcessedBefore(ctx, time.Now().Add(-cleanupRetention))
	if err != nil {
		log.Error().Err(err).Str("name", w.name).Msg("Ошибка очистки outbox")
		return
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Str("name", w.name).Msg("Очистка обработанных записей outbox")
	}
}

// processOutbox забирает пачку неопубликованных записей и публикует их
// по одной. Ошибка публикации одной записи не останавливает пачку.
func (w *OutboxWorker) processOutbox(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Str("name", w.name).Msg("Ошибка чтения outbox")
		return
	}

	metrics.OutboxPendingRecords.Set(float64(len(records)))
	if len(records) == 0 {
		return
	}

	log.Debug().Int("count", len(records)).Str("name", w.name).Msg("Обработка записей outbox")

	for _, record := range records {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if record.RetryCount >= w.cfg.MaxRetries {
			w.deadLetter(ctx, record)
			continue
		}

		w.sendToKafka(ctx, record)
	}
}

// deadLetter выводит запись из очереди после исчерпания попыток.
// Payload остаётся в таблице до очистки по retention — можно разобрать
// инцидент и переотправить вручную.
func (w *OutboxWorker) deadLetter(ctx context.Context, record *Outbox) {
	log := logger.FromContext(ctx)
	log.Warn().
		Str("outbox_id", record.ID).
		Str("event_type", record.EventType).
		Str("aggregate_id", record.AggregateID).
		Int("retry_count", record.RetryCount).
		Msg("Dead letter: превышен лимит попыток, запись выведена из очереди")

	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки dead letter")
	}
	metrics.OutboxPublishedTotal.WithLabelValues("dead_letter").Inc()
}

func (w *OutboxWorker) sendToKafka(ctx context.Context, record *Outbox) {
	log := logger.FromContext(ctx)

	msg := &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: record.Headers,
	}

	if err := w.producer.SendMessage(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("outbox_id", record.ID).
			Str("topic", record.Topic).
			Msg("Ошибка отправки в Kafka")

		if markErr := w.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			log.Error().Err(markErr).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как failed")
		}
		metrics.OutboxPublishedTotal.WithLabelValues("failed").Inc()
		return
	}

	// MarkProcessed после успешной публикации; упавшая пометка означает
	// повторную публикацию на следующем опросе — консьюмеры обязаны
	// быть идемпотентными.
	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		log.Error().
			Err(err).
			Str("outbox_id", record.ID).
			Msg("Ошибка пометки outbox как обработанной")
		return
	}

	metrics.OutboxPublishedTotal.WithLabelValues("published").Inc()

	log.Debug().
		Str("outbox_id", record.ID).
		Str("topic", record.Topic).
		Str("event_type", record.EventType).
		Msg("Событие опубликовано в Kafka")
}

// ProcessSingle публикует одну запись синхронно. Используется в тестах.
func (w *OutboxWorker) ProcessSingle(ctx context.Context, record *Outbox) error {
	msg := &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: record.Headers,
	}

	if err := w.producer.SendMessage(ctx, msg); err != nil {
		_ = w.repo.MarkFailed(ctx, record.ID, err)
		return err
	}

	return w.repo.MarkProcessed(ctx, record.ID)
}
