package validation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/payments-platform/services/payments/internal/domain"
)

// ErrResultNotFound — результат валидации не найден.
var ErrResultNotFound = errors.New("результат валидации не найден")

// ResultRepository определяет хранилище результатов валидации.
// Результат неизменяем после записи — только Create и чтение.
type ResultRepository interface {
	// Create сохраняет результат валидации платежа.
	Create(ctx context.Context, result *Result) error

	// GetByPaymentID возвращает последний результат валидации платежа.
	GetByPaymentID(ctx context.Context, tenant domain.TenantContext, paymentID string) (*Result, error)
}

// ResultModel — GORM модель для таблицы validation_results.
// Списки правил хранятся JSON-колонками: по ним не фильтруют,
// они нужны целиком как аудиторский след.
type ResultModel struct {
	ID             string    `gorm:"column:id;type:varchar(36);primaryKey"`
	PaymentID      string    `gorm:"column:payment_id;type:varchar(36);not null;index"`
	TenantID       string    `gorm:"column:tenant_id;type:varchar(64);not null;index"`
	BusinessUnitID string    `gorm:"column:business_unit_id;type:varchar(64)"`
	Status         string    `gorm:"column:status;type:varchar(10);not null"`
	RiskLevel      string    `gorm:"column:risk_level;type:varchar(10);not null"`
	FraudScore     int       `gorm:"column:fraud_score;not null"`
	RiskScore      int       `gorm:"column:risk_score;not null"`
	AppliedRules   []byte    `gorm:"column:applied_rules;type:json"`
	FailedRules    []byte    `gorm:"column:failed_rules;type:json"`
	ValidatedAt    time.Time `gorm:"column:validated_at;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (ResultModel) TableName() string {
	return "validation_results"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *ResultModel) toDomain() (*Result, error) {
	result := &Result{
		ValidationID: m.ID,
		PaymentID:    m.PaymentID,
		Tenant:       domain.TenantContext{TenantID: m.TenantID, BusinessUnitID: m.BusinessUnitID},
		Status:       Status(m.Status),
		RiskLevel:    RiskLevel(m.RiskLevel),
		FraudScore:   m.FraudScore,
		RiskScore:    m.RiskScore,
		ValidatedAt:  m.ValidatedAt,
	}

	if len(m.AppliedRules) > 0 {
		if err := json.Unmarshal(m.AppliedRules, &result.AppliedRules); err != nil {
			return nil, err
		}
	}
	if len(m.FailedRules) > 0 {
		if err := json.Unmarshal(m.FailedRules, &result.FailedRules); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// modelFromResult конвертирует доменную сущность в GORM модель.
func modelFromResult(r *Result) (*ResultModel, error) {
	applied, err := json.Marshal(r.AppliedRules)
	if err != nil {
		return nil, err
	}
	failed, err := json.Marshal(r.FailedRules)
	if err != nil {
		return nil, err
	}

	return &ResultModel{
		ID:             r.ValidationID,
		PaymentID:      r.PaymentID,
		TenantID:       r.Tenant.TenantID,
		BusinessUnitID: r.Tenant.BusinessUnitID,
		Status:         string(r.Status),
		RiskLevel:      string(r.RiskLevel),
		FraudScore:     r.FraudScore,
		RiskScore:      r.RiskScore,
		AppliedRules:   applied,
		FailedRules:    failed,
		ValidatedAt:    r.ValidatedAt,
	}, nil
}

// resultRepository — GORM реализация ResultRepository.
type resultRepository struct {
	db *gorm.DB
}

// NewResultRepository создаёт репозиторий результатов валидации.
func NewResultRepository(db *gorm.DB) ResultRepository {
	return &resultRepository{db: db}
}

// Create сохраняет результат валидации.
func (r *resultRepository) Create(ctx context.Context, result *Result) error {
	model, err := modelFromResult(result)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

// GetByPaymentID возвращает последний результат валидации платежа.
func (r *resultRepository) GetByPaymentID(ctx context.Context, tenant domain.TenantContext, paymentID string) (*Result, error) {
	var model ResultModel

	if err := r.db.WithContext(ctx).
		Where("payment_id = ? AND tenant_id = ?", paymentID, tenant.TenantID).
		Order("validated_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}

	return model.toDomain()
}
