package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payments-platform/pkg/fault"
	"example.com/payments-platform/services/payments/internal/domain"
)

// testThresholds — пороги по умолчанию из спецификации платформы.
func testThresholds() Thresholds {
	return Thresholds{
		AmountLimit:         decimal.RequireFromString("100000"),
		RiskAmountThreshold: decimal.RequireFromString("50000"),
		VelocityThreshold:   10,
		VelocityWindow:      time.Minute,
	}
}

func testEngine(rc RuleContext) *Engine {
	return NewEngine(
		NewStaticRulesPort(testThresholds()),
		rc,
		Config{FraudScoreWeight: 25, RiskScoreWeight: 20},
	)
}

func validRequest() domain.PaymentRequest {
	return domain.PaymentRequest{
		TenantID:           "T1",
		BusinessUnitID:     "B1",
		SourceAccount:      "12345678901",
		DestinationAccount: "98765432101",
		Amount:             "1000.00",
		Currency:           "ZAR",
		Reference:          "Invoice 42",
		Type:               domain.PaymentTypeEFT,
		Priority:           domain.PriorityNormal,
		InitiatedBy:        "user-1",
		IdempotencyKey:     "K-1",
	}
}

// =====================================
// Свойства валидации из спецификации
// =====================================

// Платёж с суммой ≤ лимита, непустым назначением и без фрод/риск-срабатываний:
// PASSED, fraudScore=0, riskScore=0, riskLevel=LOW.
func TestEngine_CleanPaymentPasses(t *testing.T) {
	engine := testEngine(NewStaticRuleContext())

	result, err := engine.Validate(context.Background(), "pay-1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, result.Status)
	assert.True(t, result.Passed())
	assert.Equal(t, 0, result.FraudScore)
	assert.Equal(t, 0, result.RiskScore)
	assert.Equal(t, RiskLow, result.RiskLevel)
	assert.Empty(t, result.FailedRules)
	assert.Len(t, result.AppliedRules, 6)
}

// Пустое назначение: FAILED, одно сработавшее COMPLIANCE правило.
func TestEngine_EmptyReferenceFails(t *testing.T) {
	engine := testEngine(NewStaticRuleContext())

	req := validRequest()
	req.Reference = ""

	result, err := engine.Validate(context.Background(), "pay-1", req)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.FailedRules, 1)
	assert.Equal(t, GroupCompliance, result.FailedRules[0].Group)
	assert.Equal(t, "Payment reference is required", result.FailedRules[0].Reason)
	assert.Equal(t, "Payment reference is required", result.FailureReason())
	// Срабатывание COMPLIANCE без FRAUD/RISK — уровень MEDIUM, скоринг нулевой.
	assert.Equal(t, RiskMedium, result.RiskLevel)
	assert.Equal(t, 0, result.FraudScore)
	assert.Equal(t, 0, result.RiskScore)
}

// Сумма сверх лимита: срабатывает BUSINESS правило.
func TestEngine_OverLimitFailsBusinessRule(t *testing.T) {
	engine := testEngine(NewStaticRuleContext())

	req := validRequest()
	req.Amount = "200000"

	result, err := engine.Validate(context.Background(), "pay-1", req)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.FailedRules, 1)
	assert.Equal(t, GroupBusiness, result.FailedRules[0].Group)
	assert.Equal(t, "Payment amount exceeds limit", result.FailedRules[0].Reason)
}

// riskLevel = CRITICAL тогда и только тогда, когда сработало FRAUD правило.
func TestEngine_FraudFailureIsCritical(t *testing.T) {
	rc := NewStaticRuleContext()
	rc.Counts["12345678901"] = 50 // Сильно выше velocity-порога

	engine := testEngine(rc)

	result, err := engine.Validate(context.Background(), "pay-1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, RiskCritical, result.RiskLevel)
	assert.Equal(t, 25, result.FraudScore)
	assert.Equal(t, 0, result.RiskScore)
}

// Крупный срочный платёж без фрода: уровень HIGH, riskScore = 20.
func TestEngine_HighValueUrgentIsHighRisk(t *testing.T) {
	engine := testEngine(NewStaticRuleContext())

	req := validRequest()
	req.Amount = "75000"
	req.Priority = domain.PriorityUrgent

	result, err := engine.Validate(context.Background(), "pay-1", req)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, RiskHigh, result.RiskLevel)
	assert.Equal(t, 0, result.FraudScore)
	assert.Equal(t, 20, result.RiskScore)
}

// Санкционный счёт: срабатывает COMPLIANCE правило через RuleContext.
func TestEngine_SanctionedAccountFails(t *testing.T) {
	rc := NewStaticRuleContext()
	rc.Sanctioned["98765432101"] = true

	engine := testEngine(rc)

	result, err := engine.Validate(context.Background(), "pay-1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.FailedRules, 1)
	assert.Equal(t, "Account is on the sanctions list", result.FailedRules[0].Reason)
}

// =====================================
// Семантика сбоев правил
// =====================================

// erroringRule — правило, всегда завершающееся ошибкой выполнения.
type erroringRule struct {
	name  string
	group Group
}

func (r erroringRule) Name() string { return r.name }
func (r erroringRule) Group() Group { return r.group }
func (r erroringRule) Apply(context.Context, domain.PaymentRequest, RuleContext) (string, error) {
	return "", errors.New("lookup service unavailable")
}

// panickingRule — правило, паникующее при выполнении.
type panickingRule struct{}

func (panickingRule) Name() string { return "panicking-rule" }
func (panickingRule) Group() Group { return GroupRisk }
func (panickingRule) Apply(context.Context, domain.PaymentRequest, RuleContext) (string, error) {
	panic("nil dereference in rule")
}

// passingRule — правило, всегда пропускающее платёж.
type passingRule struct {
	name  string
	group Group
}

func (r passingRule) Name() string { return r.name }
func (r passingRule) Group() Group { return r.group }
func (r passingRule) Apply(context.Context, domain.PaymentRequest, RuleContext) (string, error) {
	return "", nil
}

// fixedRulesPort — порт с фиксированным набором правил для тестов.
type fixedRulesPort struct {
	rules []Rule
}

func (p fixedRulesPort) Load(context.Context, domain.TenantContext) ([]Rule, error) {
	return p.rules, nil
}

// Ошибка одного правила фиксируется как срабатывание и не прерывает прогон.
func TestEngine_RuleErrorRecordedNotFatal(t *testing.T) {
	engine := NewEngine(
		fixedRulesPort{rules: []Rule{
			erroringRule{name: "broken-rule", group: GroupCompliance},
			passingRule{name: "working-rule", group: GroupCompliance},
		}},
		NewStaticRuleContext(),
		Config{FraudScoreWeight: 25, RiskScoreWeight: 20},
	)

	result, err := engine.Validate(context.Background(), "pay-1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.FailedRules, 1)
	assert.Equal(t, "broken-rule", result.FailedRules[0].RuleName)
	assert.Contains(t, result.FailedRules[0].Reason, "RULE_EXECUTION_ERROR:")
	assert.Contains(t, result.FailedRules[0].Reason, "lookup service unavailable")
}

// Panic в правиле перехватывается и фиксируется как ошибка выполнения.
func TestEngine_RulePanicRecovered(t *testing.T) {
	engine := NewEngine(
		fixedRulesPort{rules: []Rule{
			panickingRule{},
			passingRule{name: "working-rule", group: GroupRisk},
		}},
		NewStaticRuleContext(),
		Config{FraudScoreWeight: 25, RiskScoreWeight: 20},
	)

	result, err := engine.Validate(context.Background(), "pay-1", validRequest())
	require.NoError(t, err)

	require.Len(t, result.FailedRules, 1)
	assert.Contains(t, result.FailedRules[0].Reason, "RULE_EXECUTION_ERROR:")
	assert.Contains(t, result.FailedRules[0].Reason, "panic")
}

// Все правила группы упали — движок возвращает Permanent ошибку (фатально для саги).
func TestEngine_AllRulesInGroupFailing(t *testing.T) {
	engine := NewEngine(
		fixedRulesPort{rules: []Rule{
			erroringRule{name: "broken-1", group: GroupCompliance},
			erroringRule{name: "broken-2", group: GroupCompliance},
		}},
		NewStaticRuleContext(),
		Config{FraudScoreWeight: 25, RiskScoreWeight: 20},
	)

	_, err := engine.Validate(context.Background(), "pay-1", validRequest())
	require.Error(t, err)
	assert.True(t, fault.IsPermanent(err))
	assert.ErrorIs(t, err, ErrEngineFailure)
}

// Детерминизм: одинаковый вход и набор правил дают одинаковый результат.
func TestEngine_Deterministic(t *testing.T) {
	engine := testEngine(NewStaticRuleContext())
	req := validRequest()
	req.Reference = ""

	first, err := engine.Validate(context.Background(), "pay-1", req)
	require.NoError(t, err)

	second, err := engine.Validate(context.Background(), "pay-1", req)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.RiskLevel, second.RiskLevel)
	assert.Equal(t, first.FraudScore, second.FraudScore)
	assert.Equal(t, first.RiskScore, second.RiskScore)
	assert.Equal(t, first.AppliedRules, second.AppliedRules)
	assert.Equal(t, first.FailedRules, second.FailedRules)
}

// Порядок применения правил совпадает с объявленным — это аудиторский след.
func TestEngine_DeclaredOrderPreserved(t *testing.T) {
	engine := testEngine(NewStaticRuleContext())

	result, err := engine.Validate(context.Background(), "pay-1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"amount-positive",
		"amount-limit",
		"reference-required",
		"sanctions-screen",
		"velocity-check",
		"high-value-urgent",
	}, result.AppliedRules)
}
