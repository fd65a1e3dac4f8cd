package saga

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/payments-platform/pkg/outbox"
	"example.com/payments-platform/services/payments/internal/domain"
)

// SagaRepository определяет интерфейс хранилища саг.
// Состояние саги сохраняется после каждого изменения; шаги, журнал
// и записи outbox пишутся атомарно с сагой.
type SagaRepository interface {
	// Create сохраняет новую сагу с шагами, журналом и записями outbox.
	Create(ctx context.Context, s *Saga) error

	// Save сохраняет изменения саги с проверкой версии (Optimistic Locking).
	// Конфликт версий — ErrConcurrentUpdate: сагу параллельно продвинул
	// другой воркер, отказ чистый и без побочных эффектов.
	Save(ctx context.Context, s *Saga) error

	// GetByID возвращает сагу с шагами и журналом.
	GetByID(ctx context.Context, id string) (*Saga, error)

	// GetByBusinessKey возвращает сагу по бизнес-ключу (paymentId).
	GetByBusinessKey(ctx context.Context, tenant domain.TenantContext, businessKey string) (*Saga, error)

	// ListNonTerminalIDs возвращает идентификаторы незавершённых саг —
	// восстановление после рестарта ставит их обратно в очередь.
	ListNonTerminalIDs(ctx context.Context, limit int) ([]string, error)

	// ListExpiredIDs возвращает незавершённые саги с истёкшим предельным
	// временем жизни — воркер таймаутов инъецирует в них сбой.
	ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// =============================================================================
// GORM модели
// =============================================================================

// SagaModel — GORM модель для таблицы sagas.
type SagaModel struct {
	ID                   string           `gorm:"column:id;type:varchar(36);primaryKey"`
	TemplateName         string           `gorm:"column:template_name;type:varchar(64);not null"`
	BusinessKey          string           `gorm:"column:business_key;type:varchar(64);not null;index"`
	TenantID             string           `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_sagas_tenant"`
	BusinessUnitID       string           `gorm:"column:business_unit_id;type:varchar(64);index:idx_sagas_tenant"`
	Status               string           `gorm:"column:status;type:varchar(20);not null;index"`
	CompletedSteps       int              `gorm:"column:completed_steps;not null;default:0"`
	CompensationFailures int              `gorm:"column:compensation_failures;not null;default:0"`
	FailureReason        *string          `gorm:"column:failure_reason;type:text"`
	Payload              []byte           `gorm:"column:payload;type:json"`
	StartedAt            time.Time        `gorm:"column:started_at;not null"`
	Deadline             time.Time        `gorm:"column:deadline;not null;index"`
	CompletedAt          *time.Time       `gorm:"column:completed_at"`
	Version              int64            `gorm:"column:version;not null;default:1"`
	CreatedAt            time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	Steps                []SagaStepModel  `gorm:"foreignKey:SagaID;references:ID"`
	Events               []SagaEventModel `gorm:"foreignKey:SagaID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (SagaModel) TableName() string {
	return "sagas"
}

// SagaStepModel — GORM модель для таблицы saga_steps.
type SagaStepModel struct {
	ID                 string     `gorm:"column:id;type:varchar(36);primaryKey"`
	SagaID             string     `gorm:"column:saga_id;type:varchar(36);not null;index"`
	Name               string     `gorm:"column:name;type:varchar(64);not null"`
	Service            string     `gorm:"column:service;type:varchar(32);not null"`
	Action             string     `gorm:"column:action;type:varchar(64);not null"`
	CompensationAction string     `gorm:"column:compensation_action;type:varchar(64)"`
	StepOrder          int        `gorm:"column:step_order;not null"`
	Status             string     `gorm:"column:status;type:varchar(20);not null"`
	Result             *string    `gorm:"column:result;type:json"`
	FailureReason      *string    `gorm:"column:failure_reason;type:text"`
	Attempts           int        `gorm:"column:attempts;not null;default:0"`
	TimeoutMs          int64      `gorm:"column:timeout_ms;not null;default:0"`
	StartedAt          *time.Time `gorm:"column:started_at"`
	CompletedAt        *time.Time `gorm:"column:completed_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (SagaStepModel) TableName() string {
	return "saga_steps"
}

// SagaEventModel — GORM модель для таблицы saga_events.
type SagaEventModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	SagaID    string    `gorm:"column:saga_id;type:varchar(36);not null;index:idx_saga_events,unique"`
	Sequence  int       `gorm:"column:sequence;not null;index:idx_saga_events,unique"`
	EventType string    `gorm:"column:event_type;type:varchar(64);not null"`
	StepName  string    `gorm:"column:step_name;type:varchar(64)"`
	Reason    string    `gorm:"column:reason;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (SagaEventModel) TableName() string {
	return "saga_events"
}

// toDomain конвертирует GORM модель саги в доменную сущность.
func (m *SagaModel) toDomain() *Saga {
	s := &Saga{
		ID:                   m.ID,
		TemplateName:         m.TemplateName,
		BusinessKey:          m.BusinessKey,
		Tenant:               domain.TenantContext{TenantID: m.TenantID, BusinessUnitID: m.BusinessUnitID},
		Status:               Status(m.Status),
		CompletedSteps:       m.CompletedSteps,
		CompensationFailures: m.CompensationFailures,
		FailureReason:        m.FailureReason,
		Payload:              m.Payload,
		StartedAt:            m.StartedAt,
		Deadline:             m.Deadline,
		CompletedAt:          m.CompletedAt,
		Version:              m.Version,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
		Steps:                make([]Step, len(m.Steps)),
		Events:               make([]SagaEvent, len(m.Events)),
	}

	for i, sm := range m.Steps {
		s.Steps[i] = Step{
			ID:                 sm.ID,
			SagaID:             sm.SagaID,
			Name:               sm.Name,
			Service:            sm.Service,
			Action:             sm.Action,
			CompensationAction: sm.CompensationAction,
			Order:              sm.StepOrder,
			Status:             StepStatus(sm.Status),
			Result:             sm.Result,
			FailureReason:      sm.FailureReason,
			Attempts:           sm.Attempts,
			Timeout:            time.Duration(sm.TimeoutMs) * time.Millisecond,
			StartedAt:          sm.StartedAt,
			CompletedAt:        sm.CompletedAt,
			CreatedAt:          sm.CreatedAt,
			UpdatedAt:          sm.UpdatedAt,
		}
	}

	for i, em := range m.Events {
		s.Events[i] = SagaEvent{
			ID:        em.ID,
			SagaID:    em.SagaID,
			Sequence:  em.Sequence,
			EventType: em.EventType,
			StepName:  em.StepName,
			Reason:    em.Reason,
			CreatedAt: em.CreatedAt,
		}
	}

	return s
}

// modelFromDomain конвертирует доменную сущность в GORM модель (без связей).
func modelFromDomain(s *Saga) *SagaModel {
	return &SagaModel{
		ID:                   s.ID,
		TemplateName:         s.TemplateName,
		BusinessKey:          s.BusinessKey,
		TenantID:             s.Tenant.TenantID,
		BusinessUnitID:       s.Tenant.BusinessUnitID,
		Status:               string(s.Status),
		CompletedSteps:       s.CompletedSteps,
		CompensationFailures: s.CompensationFailures,
		FailureReason:        s.FailureReason,
		Payload:              s.Payload,
		StartedAt:            s.StartedAt,
		Deadline:             s.Deadline,
		CompletedAt:          s.CompletedAt,
		Version:              s.Version,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

// stepModelFromDomain конвертирует шаг в GORM модель.
func stepModelFromDomain(step *Step) *SagaStepModel {
	return &SagaStepModel{
		ID:                 step.ID,
		SagaID:             step.SagaID,
		Name:               step.Name,
		Service:            step.Service,
		Action:             step.Action,
		CompensationAction: step.CompensationAction,
		StepOrder:          step.Order,
		Status:             string(step.Status),
		Result:             step.Result,
		FailureReason:      step.FailureReason,
		Attempts:           step.Attempts,
		TimeoutMs:          step.Timeout.Milliseconds(),
		StartedAt:          step.StartedAt,
		CompletedAt:        step.CompletedAt,
		CreatedAt:          step.CreatedAt,
		UpdatedAt:          step.UpdatedAt,
	}
}

// eventModelFromDomain конвертирует запись журнала в GORM модель.
func eventModelFromDomain(e *SagaEvent) *SagaEventModel {
	return &SagaEventModel{
		ID:        e.ID,
		SagaID:    e.SagaID,
		Sequence:  e.Sequence,
		EventType: e.EventType,
		StepName:  e.StepName,
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt,
	}
}

// =============================================================================
// GORM реализация
// =============================================================================

// sagaRepository — GORM реализация SagaRepository.
type sagaRepository struct {
	db *gorm.DB
}

// NewSagaRepository создаёт репозиторий саг.
func NewSagaRepository(db *gorm.DB) SagaRepository {
	return &sagaRepository{db: db}
}

// Create сохраняет новую сагу атомарно: сага + шаги + журнал + outbox.
func (r *sagaRepository) Create(ctx context.Context, s *Saga) error {
	if s.Version == 0 {
		s.Version = 1
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(modelFromDomain(s)).Error; err != nil {
			return err
		}
		for i := range s.Steps {
			if err := tx.Create(stepModelFromDomain(&s.Steps[i])).Error; err != nil {
				return err
			}
		}
		for i := range s.Events {
			if err := tx.Create(eventModelFromDomain(&s.Events[i])).Error; err != nil {
				return err
			}
		}
		return outbox.InsertEnvelopesTx(tx, s.DrainEvents())
	})
}

// Save сохраняет изменения саги с проверкой версии.
// Шаги обновляются целиком (upsert по первичному ключу), новые записи
// журнала добавляются идемпотентно.
func (r *sagaRepository) Save(ctx context.Context, s *Saga) error {
	loadedVersion := s.Version

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":                string(s.Status),
			"completed_steps":       s.CompletedSteps,
			"compensation_failures": s.CompensationFailures,
			"completed_at":          s.CompletedAt,
			"version":               loadedVersion + 1,
			"updated_at":            time.Now(),
		}
		if s.FailureReason != nil {
			updates["failure_reason"] = *s.FailureReason
		}

		result := tx.Model(&SagaModel{}).
			Where("id = ? AND version = ?", s.ID, loadedVersion).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConcurrentUpdate
		}
		s.Version = loadedVersion + 1

		for i := range s.Steps {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
				Create(stepModelFromDomain(&s.Steps[i])).Error; err != nil {
				return err
			}
		}
		for i := range s.Events {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(eventModelFromDomain(&s.Events[i])).Error; err != nil {
				return err
			}
		}

		return outbox.InsertEnvelopesTx(tx, s.DrainEvents())
	})
}

// GetByID возвращает сагу с шагами и журналом.
func (r *sagaRepository) GetByID(ctx context.Context, id string) (*Saga, error) {
	return r.getOne(ctx, r.db.WithContext(ctx).Where("id = ?", id))
}

// GetByBusinessKey возвращает сагу по бизнес-ключу.
func (r *sagaRepository) GetByBusinessKey(ctx context.Context, tenant domain.TenantContext, businessKey string) (*Saga, error) {
	return r.getOne(ctx, r.db.WithContext(ctx).
		Where("business_key = ? AND tenant_id = ?", businessKey, tenant.TenantID).
		Order("created_at DESC"))
}

func (r *sagaRepository) getOne(_ context.Context, query *gorm.DB) (*Saga, error) {
	var model SagaModel

	if err := query.
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSagaNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// terminalStatuses — список терминальных статусов для выборок.
var terminalStatuses = []string{
	string(StatusCompleted),
	string(StatusCompensated),
	string(StatusFailed),
}

// ListNonTerminalIDs возвращает идентификаторы незавершённых саг.
func (r *sagaRepository) ListNonTerminalIDs(ctx context.Context, limit int) ([]string, error) {
	var ids []string

	if err := r.db.WithContext(ctx).
		Model(&SagaModel{}).
		Where("status NOT IN ?", terminalStatuses).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListExpiredIDs возвращает незавершённые саги с истёкшим дедлайном.
func (r *sagaRepository) ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string

	if err := r.db.WithContext(ctx).
		Model(&SagaModel{}).
		Where("status NOT IN ? AND deadline < ?", terminalStatuses, now).
		Order("deadline ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
