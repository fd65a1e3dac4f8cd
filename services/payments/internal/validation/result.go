// Package validation реализует движок правил валидации платежей.
// Движок прогоняет четыре группы правил по порядку — бизнес, комплаенс,
// фрод, риск — собирает сработавшие правила и выдаёт скоринговый
// ValidationResult. Сам движок не делает I/O: внешние данные (санкционные
// списки, счётчики скорости) приходят через порт RuleContext.
package validation

import (
	"time"

	"example.com/payments-platform/services/payments/internal/domain"
)

// Status — итог валидации. PASSED тогда и только тогда, когда ни одно
// правило не сработало. Валидация синхронна с точки зрения саги,
// промежуточного статуса PENDING нет.
type Status string

const (
	StatusPassed Status = "PASSED"
	StatusFailed Status = "FAILED"
)

// RiskLevel — уровень риска платежа, выводится из таксономии сработавших правил.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Group — группа правил валидации. Группы выполняются строго по порядку.
type Group string

const (
	GroupBusiness   Group = "BUSINESS"
	GroupCompliance Group = "COMPLIANCE"
	GroupFraud      Group = "FRAUD"
	GroupRisk       Group = "RISK"
)

// groupOrder — порядок выполнения групп. Правила внутри группы независимы;
// группы последовательны, чтобы фатальный сбой комплаенса мог не тащить
// за собой фрод- и риск-оценку.
var groupOrder = []Group{GroupBusiness, GroupCompliance, GroupFraud, GroupRisk}

// FailedRule — сработавшее правило валидации.
type FailedRule struct {
	RuleName string // Имя правила (аудиторский след)
	Group    Group  // Группа правила
	Reason   string // Причина срабатывания
}

// Result — результат валидации платежа. Неизменяем после записи.
type Result struct {
	ValidationID string               // UUID прогона валидации
	PaymentID    string               // Идентификатор платежа
	Tenant       domain.TenantContext // Арендатор
	Status       Status               // PASSED / FAILED
	RiskLevel    RiskLevel            // LOW / MEDIUM / HIGH / CRITICAL
	FraudScore   int                  // weight × |сработавших FRAUD правил|
	RiskScore    int                  // weight × |сработавших RISK правил|
	AppliedRules []string             // Все применённые правила в объявленном порядке
	FailedRules  []FailedRule         // Сработавшие правила
	ValidatedAt  time.Time            // Время прогона
}

// Passed возвращает true, если валидация пройдена.
func (r *Result) Passed() bool {
	return r.Status == StatusPassed
}

// FailureReason возвращает причину первого сработавшего правила.
// Используется сагой как failureReason при отказе валидации.
func (r *Result) FailureReason() string {
	if len(r.FailedRules) == 0 {
		return ""
	}
	return r.FailedRules[0].Reason
}
