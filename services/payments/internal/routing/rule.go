// Package routing реализует движок принятия решений о маршрутизации платежей.
// Движок загружает активные правила арендатора, оценивает их конкурентно
// с таймаутом на правило, выбирает победителя по приоритету и исполняет
// его действия, выдавая RoutingDecision: целевая клиринговая система,
// приоритет, флаги отклонения/удержания, метаданные и уведомления.
package routing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"example.com/payments-platform/services/payments/internal/domain"
)

// RuleStatus — статус правила маршрутизации.
type RuleStatus string

const (
	RuleStatusActive   RuleStatus = "ACTIVE"
	RuleStatusInactive RuleStatus = "INACTIVE"
	RuleStatusDraft    RuleStatus = "DRAFT"
	RuleStatusArchived RuleStatus = "ARCHIVED"
)

// Operator — оператор сравнения условия маршрутизации.
type Operator string

const (
	OpEquals              Operator = "EQUALS"
	OpNotEquals           Operator = "NOT_EQUALS"
	OpGreaterThan         Operator = "GREATER_THAN"
	OpLessThan            Operator = "LESS_THAN"
	OpGreaterThanOrEquals Operator = "GREATER_THAN_OR_EQUALS"
	OpLessThanOrEquals    Operator = "LESS_THAN_OR_EQUALS"
	OpContains            Operator = "CONTAINS"
	OpNotContains         Operator = "NOT_CONTAINS"
	OpIn                  Operator = "IN"
	OpNotIn               Operator = "NOT_IN"
	OpRegex               Operator = "REGEX"
	OpNotRegex            Operator = "NOT_REGEX"
	OpIsNull              Operator = "IS_NULL"
	OpIsNotNull           Operator = "IS_NOT_NULL"
)

// LogicalOperator — связка условия с накопленным результатом слева.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ActionType — тип действия правила маршрутизации.
type ActionType string

const (
	ActionRouteToClearingSystem ActionType = "ROUTE_TO_CLEARING_SYSTEM"
	ActionSetPriority           ActionType = "SET_PRIORITY"
	ActionAddMetadata           ActionType = "ADD_METADATA"
	ActionRejectPayment         ActionType = "REJECT_PAYMENT"
	ActionHoldPayment           ActionType = "HOLD_PAYMENT"
	ActionNotify                ActionType = "NOTIFY"
)

// Condition — условие правила маршрутизации.
// Условия оцениваются слева направо в порядке conditionOrder
// с коротким замыканием.
type Condition struct {
	FieldName       string          // Поле запроса (amount, currency, metadata-ключ, ...)
	Operator        Operator        // Оператор сравнения
	Value           string          // Значение-литерал условия
	ValueType       string          // Подсказка типа (STRING / NUMBER / BOOLEAN)
	LogicalOperator LogicalOperator // Связка с накопленным результатом (AND / OR)
	Negated         bool            // Инвертировать результат условия
	ConditionOrder  int             // Порядок оценки
}

// Action — действие правила маршрутизации.
type Action struct {
	Type            ActionType        // Тип действия
	ClearingSystem  string            // Целевая клиринговая система (ROUTE_TO_CLEARING_SYSTEM)
	RoutingPriority string            // Переопределение приоритета (SET_PRIORITY)
	Parameters      map[string]string // Параметры действия (reason, ключи метаданных, каналы)
	IsPrimary       bool              // Основное действие маршрутизации
}

// Rule — правило маршрутизации платежей.
// Авторится вне ядра; движок только читает. Приоритет: меньше — предпочтительнее;
// уникальность приоритетов не требуется, ничьи разрешаются по id.
type Rule struct {
	ID             string     // Идентификатор правила (разрешение ничьих)
	Name           string     // Человекочитаемое имя
	TenantID       string     // Арендатор
	BusinessUnitID string     // Бизнес-подразделение (пустое = весь арендатор)
	Type           string     // Классификация правила (авторская)
	Status         RuleStatus // ACTIVE / INACTIVE / DRAFT / ARCHIVED
	Priority       int        // Меньше = предпочтительнее
	EffectiveFrom  *time.Time // Начало действия (nil = без ограничения)
	EffectiveTo    *time.Time // Конец действия (nil = без ограничения)
	Conditions     []Condition
	Actions        []Action
}

// SortedConditions возвращает условия в порядке оценки.
func (r *Rule) SortedConditions() []Condition {
	sorted := make([]Condition, len(r.Conditions))
	copy(sorted, r.Conditions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ConditionOrder < sorted[j].ConditionOrder
	})
	return sorted
}

// PrimaryClearingAction возвращает основное действие маршрутизации.
// Правило пригодно для выбора клиринговой системы, только если у него есть
// ровно одно основное действие ROUTE_TO_CLEARING_SYSTEM.
func (r *Rule) PrimaryClearingAction() *Action {
	for i := range r.Actions {
		a := &r.Actions[i]
		if a.Type == ActionRouteToClearingSystem && a.IsPrimary {
			return a
		}
	}
	return nil
}

// EffectiveAt возвращает true, если правило действует в указанный момент.
func (r *Rule) EffectiveAt(at time.Time) bool {
	if r.EffectiveFrom != nil && at.Before(*r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && at.After(*r.EffectiveTo) {
		return false
	}
	return true
}

// =============================================================================
// Запрос и решение маршрутизации
// =============================================================================

// Request — запрос на маршрутизацию платежа.
type Request struct {
	PaymentID          string               // Идентификатор платежа
	Tenant             domain.TenantContext // Арендатор
	Amount             decimal.Decimal      // Сумма
	Currency           string               // Валюта
	PaymentType        string               // Тип платежа (EFT, RTGS, INSTANT)
	SourceAccount      string               // Счёт списания
	DestinationAccount string               // Счёт зачисления
	Priority           string               // Приоритет платежа
	CreatedAt          time.Time            // Время создания платежа
	Metadata           map[string]string    // Произвольные метаданные для условий
}

// Decision — решение о маршрутизации платежа.
// Ровно одна из интерпретаций {обычная, rejected, held, fallback}
// авторитетна для потребителей ниже по потоку.
type Decision struct {
	PaymentID      string            // Идентификатор платежа
	RuleID         string            // Победившее правило (пустое при fallback)
	RuleName       string            // Имя победившего правила
	ClearingSystem string            // Целевая клиринговая система
	Priority       string            // Итоговый приоритет (после SET_PRIORITY)
	DecisionReason string            // Причина решения
	Rejected       bool              // Платёж отклонён правилом
	Held           bool              // Платёж удержан правилом
	Fallback       bool              // Система по умолчанию (правило не выбрано)
	Metadata       map[string]string // Метаданные, добавленные действиями
	Notifications  []string          // Цели уведомлений (NOTIFY)
	EvaluatedAt    time.Time         // Время принятия решения
}
