package routing

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"example.com/payments-platform/services/payments/internal/domain"
)

// RuleModel — GORM модель для таблицы routing_rules.
// Отделена от доменной сущности для гибкости.
type RuleModel struct {
	ID             string           `gorm:"column:id;type:varchar(36);primaryKey"`
	Name           string           `gorm:"column:name;type:varchar(255);not null"`
	TenantID       string           `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_rules_tenant"`
	BusinessUnitID *string          `gorm:"column:business_unit_id;type:varchar(64);index:idx_rules_tenant"`
	RuleType       string           `gorm:"column:rule_type;type:varchar(32);not null"`
	Status         string           `gorm:"column:status;type:varchar(16);not null;index"`
	Priority       int              `gorm:"column:priority;not null"`
	EffectiveFrom  *time.Time       `gorm:"column:effective_from"`
	EffectiveTo    *time.Time       `gorm:"column:effective_to"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	Conditions     []ConditionModel `gorm:"foreignKey:RuleID;references:ID"`
	Actions        []ActionModel    `gorm:"foreignKey:RuleID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (RuleModel) TableName() string {
	return "routing_rules"
}

// ConditionModel — GORM модель для таблицы routing_conditions.
type ConditionModel struct {
	ID              string `gorm:"column:id;type:varchar(36);primaryKey"`
	RuleID          string `gorm:"column:rule_id;type:varchar(36);not null;index"`
	FieldName       string `gorm:"column:field_name;type:varchar(128);not null"`
	Operator        string `gorm:"column:operator;type:varchar(32);not null"`
	Value           string `gorm:"column:value;type:text"`
	ValueType       string `gorm:"column:value_type;type:varchar(16)"`
	LogicalOperator string `gorm:"column:logical_operator;type:varchar(8);not null;default:AND"`
	Negated         bool   `gorm:"column:negated;not null;default:false"`
	ConditionOrder  int    `gorm:"column:condition_order;not null"`
}

// TableName возвращает имя таблицы в БД.
func (ConditionModel) TableName() string {
	return "routing_conditions"
}

// ActionModel — GORM модель для таблицы routing_actions.
// Параметры действия хранятся JSON-строкой.
type ActionModel struct {
	ID              string  `gorm:"column:id;type:varchar(36);primaryKey"`
	RuleID          string  `gorm:"column:rule_id;type:varchar(36);not null;index"`
	ActionType      string  `gorm:"column:action_type;type:varchar(32);not null"`
	ClearingSystem  *string `gorm:"column:clearing_system;type:varchar(64)"`
	RoutingPriority *string `gorm:"column:routing_priority;type:varchar(16)"`
	Parameters      *string `gorm:"column:parameters;type:json"`
	IsPrimary       bool    `gorm:"column:is_primary;not null;default:false"`
}

// TableName возвращает имя таблицы в БД.
func (ActionModel) TableName() string {
	return "routing_actions"
}

// toDomain конвертирует GORM модель правила в доменную сущность.
func (m *RuleModel) toDomain() Rule {
	rule := Rule{
		ID:            m.ID,
		Name:          m.Name,
		TenantID:      m.TenantID,
		Type:          m.RuleType,
		Status:        RuleStatus(m.Status),
		Priority:      m.Priority,
		EffectiveFrom: m.EffectiveFrom,
		EffectiveTo:   m.EffectiveTo,
		Conditions:    make([]Condition, len(m.Conditions)),
		Actions:       make([]Action, len(m.Actions)),
	}

	if m.BusinessUnitID != nil {
		rule.BusinessUnitID = *m.BusinessUnitID
	}

	for i, c := range m.Conditions {
		rule.Conditions[i] = Condition{
			FieldName:       c.FieldName,
			Operator:        Operator(c.Operator),
			Value:           c.Value,
			ValueType:       c.ValueType,
			LogicalOperator: LogicalOperator(c.LogicalOperator),
			Negated:         c.Negated,
			ConditionOrder:  c.ConditionOrder,
		}
	}

	for i, a := range m.Actions {
		action := Action{
			Type:      ActionType(a.ActionType),
			IsPrimary: a.IsPrimary,
		}
		if a.ClearingSystem != nil {
			action.ClearingSystem = *a.ClearingSystem
		}
		if a.RoutingPriority != nil {
			action.RoutingPriority = *a.RoutingPriority
		}
		if a.Parameters != nil && *a.Parameters != "" {
			// Битый JSON параметров не валит загрузку набора:
			// действие остаётся без параметров.
			_ = json.Unmarshal([]byte(*a.Parameters), &action.Parameters)
		}
		rule.Actions[i] = action
	}

	return rule
}

// ruleRepository — GORM реализация RulesPort.
type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository создаёт репозиторий правил маршрутизации.
// Правила авторятся вне ядра, репозиторий только читает.
func NewRuleRepository(db *gorm.DB) RulesPort {
	return &ruleRepository{db: db}
}

// LoadActive возвращает действующие правила арендатора: статус ACTIVE,
// момент at внутри окна действия, бизнес-подразделение совпадает либо
// правило действует на весь арендатор.
func (r *ruleRepository) LoadActive(ctx context.Context, tenant domain.TenantContext, at time.Time) ([]Rule, error) {
	var models []RuleModel

	query := r.db.WithContext(ctx).
		Preload("Conditions").
		Preload("Actions").
		Where("tenant_id = ?", tenant.TenantID).
		Where("status = ?", string(RuleStatusActive)).
		Where("effective_from IS NULL OR effective_from <= ?", at).
		Where("effective_to IS NULL OR effective_to >= ?", at)

	if tenant.BusinessUnitID != "" {
		query = query.Where("business_unit_id IS NULL OR business_unit_id = ?", tenant.BusinessUnitID)
	} else {
		query = query.Where("business_unit_id IS NULL")
	}

	if err := query.Order("priority ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	rules := make([]Rule, len(models))
	for i := range models {
		rules[i] = models[i].toDomain()
	}
	return rules, nil
}
