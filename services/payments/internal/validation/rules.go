package validation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"example.com/payments-platform/services/payments/internal/domain"
)

// Rule — одно правило валидации.
// Apply возвращает причину срабатывания (пустая строка = платёж прошёл
// правило) либо ошибку выполнения. Ошибка выполнения не валит весь прогон:
// движок фиксирует её как сработавшее правило с причиной
// "RULE_EXECUTION_ERROR: <message>".
type Rule interface {
	// Name возвращает стабильное имя правила для аудиторского следа.
	Name() string

	// Group возвращает группу правила.
	Group() Group

	// Apply применяет правило к платежу.
	Apply(ctx context.Context, req domain.PaymentRequest, rc RuleContext) (string, error)
}

// RulesPort — порт загрузки набора правил для арендатора.
// Движок не знает, откуда берутся правила: статический реестр,
// БД или внешний сервис.
type RulesPort interface {
	Load(ctx context.Context, tenant domain.TenantContext) ([]Rule, error)
}

// =============================================================================
// Пороговые значения встроенного набора правил
// =============================================================================

// Thresholds — пороги встроенных правил. Значения по умолчанию заданы
// конфигурацией (VALIDATION_*), здесь они уже типизированы.
type Thresholds struct {
	AmountLimit         decimal.Decimal // Верхний предел суммы (BUSINESS)
	RiskAmountThreshold decimal.Decimal // Порог "крупного" платежа (RISK)
	VelocityThreshold   int             // Предел платежей со счёта за окно (FRAUD)
	VelocityWindow      time.Duration   // Окно velocity-контроля
}

// =============================================================================
// Встроенные правила
// Причины срабатывания — английские строки: это wire-контракт, они попадают
// в failureReason платежа и видны внешним потребителям.
// =============================================================================

// amountPositiveRule — сумма платежа строго положительна.
type amountPositiveRule struct{}

func (amountPositiveRule) Name() string { return "amount-positive" }
func (amountPositiveRule) Group() Group { return GroupBusiness }

func (amountPositiveRule) Apply(_ context.Context, req domain.PaymentRequest, _ RuleContext) (string, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return "", err
	}
	if !amount.IsPositive() {
		return "Payment amount must be positive", nil
	}
	return "", nil
}

// amountLimitRule — сумма платежа не превышает предел.
type amountLimitRule struct {
	limit decimal.Decimal
}

func (amountLimitRule) Name() string { return "amount-limit" }
func (amountLimitRule) Group() Group { return GroupBusiness }

func (r amountLimitRule) Apply(_ context.Context, req domain.PaymentRequest, _ RuleContext) (string, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return "", err
	}
	if amount.GreaterThan(r.limit) {
		return "Payment amount exceeds limit", nil
	}
	return "", nil
}

// referenceRequiredRule — назначение платежа обязательно.
type referenceRequiredRule struct{}

func (referenceRequiredRule) Name() string { return "reference-required" }
func (referenceRequiredRule) Group() Group { return GroupCompliance }

func (referenceRequiredRule) Apply(_ context.Context, req domain.PaymentRequest, _ RuleContext) (string, error) {
	if req.Reference == "" {
		return "Payment reference is required", nil
	}
	return "", nil
}

// sanctionsScreenRule — счета платежа проверяются по санкционному списку.
type sanctionsScreenRule struct{}

func (sanctionsScreenRule) Name() string { return "sanctions-screen" }
func (sanctionsScreenRule) Group() Group { return GroupCompliance }

func (sanctionsScreenRule) Apply(ctx context.Context, req domain.PaymentRequest, rc RuleContext) (string, error) {
	for _, account := range []string{req.SourceAccount, req.DestinationAccount} {
		hit, err := rc.IsSanctioned(ctx, domain.AccountNumber(account))
		if err != nil {
			return "", err
		}
		if hit {
			return "Account is on the sanctions list", nil
		}
	}
	return "", nil
}

// velocityRule — частота платежей со счёта списания за окно.
type velocityRule struct {
	threshold int
	window    time.Duration
}

func (velocityRule) Name() string { return "velocity-check" }
func (velocityRule) Group() Group { return GroupFraud }

func (r velocityRule) Apply(ctx context.Context, req domain.PaymentRequest, rc RuleContext) (string, error) {
	count, err := rc.CountRecentPayments(ctx, domain.AccountNumber(req.SourceAccount), r.window)
	if err != nil {
		return "", err
	}
	if count > r.threshold {
		return "Payment velocity exceeds threshold", nil
	}
	return "", nil
}

// highValueUrgentRule — крупный платёж с высоким приоритетом требует разбора.
type highValueUrgentRule struct {
	threshold decimal.Decimal
}

func (highValueUrgentRule) Name() string { return "high-value-urgent" }
func (highValueUrgentRule) Group() Group { return GroupRisk }

func (r highValueUrgentRule) Apply(_ context.Context, req domain.PaymentRequest, _ RuleContext) (string, error) {
	if req.Priority != domain.PriorityHigh && req.Priority != domain.PriorityUrgent {
		return "", nil
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return "", err
	}
	if amount.GreaterThan(r.threshold) {
		return "High-value urgent payment requires review", nil
	}
	return "", nil
}

// =============================================================================
// StaticRulesPort — встроенный набор правил платформы
// =============================================================================

// DefaultRules возвращает встроенный набор правил в объявленном порядке.
func DefaultRules(t Thresholds) []Rule {
	return []Rule{
		amountPositiveRule{},
		amountLimitRule{limit: t.AmountLimit},
		referenceRequiredRule{},
		sanctionsScreenRule{},
		velocityRule{threshold: t.VelocityThreshold, window: t.VelocityWindow},
		highValueUrgentRule{threshold: t.RiskAmountThreshold},
	}
}

// StaticRulesPort — реализация RulesPort со статическим набором правил.
// Один набор для всех арендаторов; пер-арендаторные наборы подключаются
// внешней реализацией порта.
type StaticRulesPort struct {
	rules []Rule
}

// NewStaticRulesPort создаёт порт со встроенным набором правил.
func NewStaticRulesPort(t Thresholds) *StaticRulesPort {
	return &StaticRulesPort{rules: DefaultRules(t)}
}

// Load возвращает набор правил для арендатора.
func (p *StaticRulesPort) Load(_ context.Context, _ domain.TenantContext) ([]Rule, error) {
	return p.rules, nil
}
