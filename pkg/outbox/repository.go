package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrOutboxNotFound — запись outbox не найдена.
var ErrOutboxNotFound = errors.New("запись outbox не найдена")

// deleteBatchSize ограничивает размер пачки при очистке, чтобы DELETE
// не держал длинные блокировки на таблице.
const deleteBatchSize = 1000

// OutboxRepository — доступ к таблице outbox. Интерфейс нужен воркеру
// и тестам: в unit-тестах воркера он подменяется моком.
type OutboxRepository interface {
	// Create добавляет запись в очередь публикации.
	Create(ctx context.Context, record *Outbox) error

	// GetUnprocessed возвращает ещё не опубликованные записи.
	GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error)

	// MarkProcessed выводит запись из очереди публикации.
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed инкрементирует retry_count и сохраняет текст ошибки.
	MarkFailed(ctx context.Context, id string, err error) error

	// DeleteProcessedBefore удаляет опубликованные записи старше before
	// и возвращает число удалённых.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// outboxRepository — GORM реализация OutboxRepository.
// Координатор публикует события всех агрегатов (payment / transaction / saga)
// из одного сервиса, поэтому записи не фильтруются по типу агрегата.
type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository создаёт репозиторий outbox.
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Create(ctx context.Context, record *Outbox) error {
	model := ModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	record.CreatedAt = model.CreatedAt
	return nil
}

// GetUnprocessed отдаёт записи в порядке retry_count, затем created_at:
// свежие записи уходят раньше тех, что уже падали (простой backoff без
// отдельной колонки next_attempt_at).
func (r *outboxRepository) GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error) {
	var models []OutboxModel

	if err := r.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*Outbox, len(models))
	for i := range models {
		result[i] = models[i].ToDomain()
	}
	return result, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Update("processed_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, err error) error {
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  err.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ?", before).
		Limit(deleteBatchSize).
		Delete(&OutboxModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
