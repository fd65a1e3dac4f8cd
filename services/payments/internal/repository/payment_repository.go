// Package repository содержит GORM репозиторий платежей.
// Сохранение атомарно с записью доменных событий в outbox: платёж и его
// события попадают в БД одной транзакцией, воркер outbox публикует их
// в Kafka асинхронно (at-least-once).
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/payments-platform/pkg/outbox"
	"example.com/payments-platform/services/payments/internal/domain"
)

// PaymentRepository определяет интерфейс хранилища платежей.
// Все выборки ограничены контекстом арендатора — чтение чужих платежей
// невозможно на уровне запроса.
type PaymentRepository interface {
	// Create сохраняет новый платёж с событиями в outbox.
	// Дубликат idempotency_key в рамках арендатора — ErrDuplicatePayment.
	Create(ctx context.Context, payment *domain.Payment) error

	// Save сохраняет изменения платежа с проверкой версии (Optimistic
	// Locking). Конфликт версий — ErrConcurrentUpdate.
	Save(ctx context.Context, payment *domain.Payment) error

	// GetByID возвращает платёж арендатора по идентификатору.
	GetByID(ctx context.Context, tenant domain.TenantContext, id domain.PaymentID) (*domain.Payment, error)

	// GetByIdempotencyKey возвращает платёж арендатора по ключу
	// идемпотентности (fallback пути идемпотентной инициации).
	GetByIdempotencyKey(ctx context.Context, tenant domain.TenantContext, key string) (*domain.Payment, error)
}

// =============================================================================
// GORM модель
// =============================================================================

// PaymentModel — GORM модель для таблицы payments.
// Ключ идемпотентности уникален в рамках арендатора.
type PaymentModel struct {
	ID                 string    `gorm:"column:id;type:varchar(36);primaryKey"`
	TenantID           string    `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_payments_tenant;uniqueIndex:idx_payments_idempotency"`
	BusinessUnitID     string    `gorm:"column:business_unit_id;type:varchar(64);index:idx_payments_tenant"`
	SourceAccount      string    `gorm:"column:source_account;type:varchar(34);not null"`
	DestinationAccount string    `gorm:"column:destination_account;type:varchar(34);not null"`
	Amount             string    `gorm:"column:amount;type:decimal(19,4);not null"`
	Currency           string    `gorm:"column:currency;type:varchar(3);not null"`
	Reference          string    `gorm:"column:reference;type:varchar(140)"`
	Type               string    `gorm:"column:type;type:varchar(16);not null"`
	Priority           string    `gorm:"column:priority;type:varchar(16);not null"`
	Status             string    `gorm:"column:status;type:varchar(20);not null;index"`
	ClearingSystem     string    `gorm:"column:clearing_system;type:varchar(64)"`
	FailureReason      *string   `gorm:"column:failure_reason;type:text"`
	InitiatedBy        string    `gorm:"column:initiated_by;type:varchar(64)"`
	InitiatedAt        time.Time `gorm:"column:initiated_at;not null"`
	IdempotencyKey     string    `gorm:"column:idempotency_key;type:varchar(64);not null;uniqueIndex:idx_payments_idempotency"`
	Version            int64     `gorm:"column:version;not null;default:1"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *PaymentModel) toDomain() (*domain.Payment, error) {
	amount, err := domain.NewMoney(m.Amount, m.Currency)
	if err != nil {
		return nil, err
	}

	return &domain.Payment{
		ID:                 domain.PaymentID(m.ID),
		Tenant:             domain.TenantContext{TenantID: m.TenantID, BusinessUnitID: m.BusinessUnitID},
		SourceAccount:      domain.AccountNumber(m.SourceAccount),
		DestinationAccount: domain.AccountNumber(m.DestinationAccount),
		Amount:             amount,
		Reference:          m.Reference,
		Type:               domain.PaymentType(m.Type),
		Priority:           domain.Priority(m.Priority),
		Status:             domain.PaymentStatus(m.Status),
		ClearingSystem:     m.ClearingSystem,
		FailureReason:      m.FailureReason,
		InitiatedBy:        m.InitiatedBy,
		InitiatedAt:        m.InitiatedAt,
		IdempotencyKey:     m.IdempotencyKey,
		Version:            m.Version,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}, nil
}

// paymentModelFromDomain конвертирует доменную сущность в GORM модель.
func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:                 p.ID.String(),
		TenantID:           p.Tenant.TenantID,
		BusinessUnitID:     p.Tenant.BusinessUnitID,
		SourceAccount:      p.SourceAccount.String(),
		DestinationAccount: p.DestinationAccount.String(),
		Amount:             p.Amount.Amount.String(),
		Currency:           p.Amount.Currency,
		Reference:          p.Reference,
		Type:               string(p.Type),
		Priority:           string(p.Priority),
		Status:             string(p.Status),
		ClearingSystem:     p.ClearingSystem,
		FailureReason:      p.FailureReason,
		InitiatedBy:        p.InitiatedBy,
		InitiatedAt:        p.InitiatedAt,
		IdempotencyKey:     p.IdempotencyKey,
		Version:            p.Version,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// paymentRepository — GORM реализация PaymentRepository.
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт репозиторий платежей.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create сохраняет новый платёж атомарно с событиями в outbox.
func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	if payment.Version == 0 {
		payment.Version = 1
	}
	model := paymentModelFromDomain(payment)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return outbox.InsertEnvelopesTx(tx, payment.DrainEvents())
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicatePayment
		}
		return err
	}

	payment.CreatedAt = model.CreatedAt
	payment.UpdatedAt = model.UpdatedAt
	return nil
}

// Save сохраняет изменения платежа с проверкой версии.
func (r *paymentRepository) Save(ctx context.Context, payment *domain.Payment) error {
	loadedVersion := payment.Version

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":          string(payment.Status),
			"clearing_system": payment.ClearingSystem,
			"failure_reason":  payment.FailureReason,
			"version":         loadedVersion + 1,
			"updated_at":      time.Now(),
		}

		result := tx.Model(&PaymentModel{}).
			Where("id = ? AND version = ?", payment.ID.String(), loadedVersion).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConcurrentUpdate
		}
		payment.Version = loadedVersion + 1

		return outbox.InsertEnvelopesTx(tx, payment.DrainEvents())
	})
}

// GetByID возвращает платёж арендатора по идентификатору.
func (r *paymentRepository) GetByID(ctx context.Context, tenant domain.TenantContext, id domain.PaymentID) (*domain.Payment, error) {
	return r.getOne(ctx, "id = ? AND tenant_id = ?", id.String(), tenant.TenantID)
}

// GetByIdempotencyKey возвращает платёж арендатора по ключу идемпотентности.
func (r *paymentRepository) GetByIdempotencyKey(ctx context.Context, tenant domain.TenantContext, key string) (*domain.Payment, error) {
	return r.getOne(ctx, "idempotency_key = ? AND tenant_id = ?", key, tenant.TenantID)
}

func (r *paymentRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Payment, error) {
	var model PaymentModel

	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain()
}

// isDuplicateKeyError распознаёт нарушение уникального индекса.
// MySQL возвращает ошибку 1062; GORM с включённым TranslateError —
// gorm.ErrDuplicatedKey.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}
