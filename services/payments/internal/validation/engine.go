package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/payments-platform/pkg/fault"
	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/pkg/metrics"
	"example.com/payments-platform/services/payments/internal/domain"
)

// ErrEngineFailure — все правила группы завершились ошибкой выполнения.
// Фатально для саги: результат валидации недостоверен, платёж уходит
// в компенсацию.
var ErrEngineFailure = errors.New("все правила группы завершились ошибкой выполнения")

// Config — настройки движка валидации.
// Веса скоринга зафиксированы исторически (25 за FRAUD, 20 за RISK),
// но вынесены в конфигурацию.
type Config struct {
	FraudScoreWeight int // Вес одного сработавшего FRAUD правила
	RiskScoreWeight  int // Вес одного сработавшего RISK правила
}

// Engine — движок правил валидации.
// Контракт: Validate(PaymentRequest) → Result. Детерминирован: одинаковый
// вход и набор правил дают одинаковый результат. Правила никогда не
// переупорядочиваются — их объявленный порядок и есть аудиторский след.
type Engine struct {
	rulesPort RulesPort
	ruleCtx   RuleContext
	cfg       Config
}

// NewEngine создаёт движок валидации.
func NewEngine(rulesPort RulesPort, ruleCtx RuleContext, cfg Config) *Engine {
	return &Engine{
		rulesPort: rulesPort,
		ruleCtx:   ruleCtx,
		cfg:       cfg,
	}
}

// Validate применяет правила к платежу и возвращает скоринговый результат.
// Группы выполняются по порядку BUSINESS → COMPLIANCE → FRAUD → RISK;
// правила внутри группы — последовательно в объявленном порядке.
// Ошибка выполнения правила фиксируется как срабатывание с причиной
// "RULE_EXECUTION_ERROR: <message>" и не прерывает прогон. Если все правила
// группы завершились ошибкой — результат недостоверен, возвращается
// ErrEngineFailure (Permanent: сага уходит в компенсацию).
func (e *Engine) Validate(ctx context.Context, paymentID domain.PaymentID, req domain.PaymentRequest) (*Result, error) {
	log := logger.FromContext(ctx)

	tenant, err := domain.NewTenantContext(req.TenantID, req.BusinessUnitID)
	if err != nil {
		return nil, fault.Permanent("валидация без контекста арендатора невозможна", err)
	}

	rules, err := e.rulesPort.Load(ctx, tenant)
	if err != nil {
		return nil, fault.Transient("ошибка загрузки правил валидации", err)
	}

	// Раскладываем правила по группам, сохраняя объявленный порядок внутри группы.
	byGroup := make(map[Group][]Rule, len(groupOrder))
	for _, rule := range rules {
		byGroup[rule.Group()] = append(byGroup[rule.Group()], rule)
	}

	result := &Result{
		ValidationID: uuid.NewString(),
		PaymentID:    paymentID.String(),
		Tenant:       tenant,
		ValidatedAt:  time.Now().UTC(),
	}

	for _, group := range groupOrder {
		groupRules := byGroup[group]
		if len(groupRules) == 0 {
			continue
		}

		executionErrors := 0
		for _, rule := range groupRules {
			result.AppliedRules = append(result.AppliedRules, rule.Name())

			reason, ruleErr := e.applyRule(ctx, rule, req)
			if ruleErr != nil {
				// Ошибка выполнения не прерывает прогон — фиксируем как срабатывание.
				executionErrors++
				reason = fmt.Sprintf("RULE_EXECUTION_ERROR: %s", ruleErr.Error())
				log.Warn().
					Err(ruleErr).
					Str("rule", rule.Name()).
					Str("group", string(group)).
					Msg("Ошибка выполнения правила валидации")
			}

			if reason != "" {
				result.FailedRules = append(result.FailedRules, FailedRule{
					RuleName: rule.Name(),
					Group:    group,
					Reason:   reason,
				})
				metrics.RecordValidationFailure(string(group), rule.Name())
			}
		}

		// Все правила группы упали — результат недостоверен.
		if executionErrors == len(groupRules) {
			log.Error().
				Str("group", string(group)).
				Int("rules", len(groupRules)).
				Msg("Все правила группы завершились ошибкой, валидация недостоверна")
			return nil, fault.Permanent(
				fmt.Sprintf("валидация недостоверна: группа %s", group),
				fmt.Errorf("%w: %s", ErrEngineFailure, group),
			)
		}
	}

	e.score(result)
	metrics.RecordValidation(string(result.Status))

	log.Info().
		Str("payment_id", result.PaymentID).
		Str("status", string(result.Status)).
		Str("risk_level", string(result.RiskLevel)).
		Int("fraud_score", result.FraudScore).
		Int("risk_score", result.RiskScore).
		Int("failed_rules", len(result.FailedRules)).
		Msg("Валидация платежа завершена")

	return result, nil
}

// applyRule выполняет одно правило, перехватывая panic как ошибку выполнения.
func (e *Engine) applyRule(ctx context.Context, rule Rule, req domain.PaymentRequest) (reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic в правиле %s: %v", rule.Name(), r)
		}
	}()

	return rule.Apply(ctx, req, e.ruleCtx)
}

// score вычисляет статус, скоринг и уровень риска по таксономии
// сработавших правил: любой FRAUD ⇒ CRITICAL; иначе любой RISK ⇒ HIGH;
// иначе любое срабатывание ⇒ MEDIUM; иначе LOW.
func (e *Engine) score(result *Result) {
	fraudFailures := 0
	riskFailures := 0
	for _, failed := range result.FailedRules {
		switch failed.Group {
		case GroupFraud:
			fraudFailures++
		case GroupRisk:
			riskFailures++
		}
	}

	result.FraudScore = e.cfg.FraudScoreWeight * fraudFailures
	result.RiskScore = e.cfg.RiskScoreWeight * riskFailures

	switch {
	case fraudFailures > 0:
		result.RiskLevel = RiskCritical
	case riskFailures > 0:
		result.RiskLevel = RiskHigh
	case len(result.FailedRules) > 0:
		result.RiskLevel = RiskMedium
	default:
		result.RiskLevel = RiskLow
	}

	if len(result.FailedRules) == 0 {
		result.Status = StatusPassed
	} else {
		result.Status = StatusFailed
	}
}
