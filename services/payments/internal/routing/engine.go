package routing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"example.com/payments-platform/pkg/fault"
	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/pkg/metrics"
	"example.com/payments-platform/services/payments/internal/domain"
)

var tracer = otel.Tracer("routing")

// FallbackReason — причина fallback-решения. Wire-контракт: строка
// попадает в decisionReason и видна внешним потребителям.
const FallbackReason = "No matching rule found"

// RulesPort — порт загрузки действующих правил арендатора.
// Движок не знает, откуда берутся правила: БД, кэш поверх БД
// или статический набор в тестах.
type RulesPort interface {
	LoadActive(ctx context.Context, tenant domain.TenantContext, at time.Time) ([]Rule, error)
}

// DecisionCache — кэш принятых решений по paymentId.
// Промах кэша (miss) и ошибка кэша неразличимы для движка: в обоих
// случаях решение вычисляется заново.
type DecisionCache interface {
	Get(ctx context.Context, paymentID string) (*Decision, bool)
	Put(ctx context.Context, decision *Decision)
	Invalidate(ctx context.Context, paymentID string) error
	InvalidateAll(ctx context.Context) error
}

// EngineConfig — настройки движка маршрутизации.
type EngineConfig struct {
	RuleTimeout            time.Duration // Таймаут оценки одного правила
	FallbackClearingSystem string        // Клиринговая система по умолчанию
}

// Engine — движок принятия решений о маршрутизации.
// Правила оцениваются конкурентно (горутина на правило) с таймаутом;
// правило, упавшее или не уложившееся в таймаут, пропускается и не
// влияет на решения остальных. Победитель — совпавшее правило с
// наименьшим priority, ничья разрешается лексикографически по id.
type Engine struct {
	rules RulesPort
	cache DecisionCache
	cfg   EngineConfig

	// evalFn подменяется в тестах для моделирования зависших правил.
	evalFn func(req Request, rule *Rule) (bool, error)
}

// NewEngine создаёт движок маршрутизации.
// cache может быть nil — тогда каждое решение вычисляется заново.
func NewEngine(rules RulesPort, cache DecisionCache, cfg EngineConfig) *Engine {
	return &Engine{
		rules:  rules,
		cache:  cache,
		cfg:    cfg,
		evalFn: matchRule,
	}
}

// ruleOutcome — результат оценки одного правила.
type ruleOutcome struct {
	rule    *Rule
	matched bool
}

// Decide принимает решение о маршрутизации платежа.
// Повторный вызов для того же paymentId отдаёт закэшированное решение —
// повторная доставка саговой команды не перерешивает маршрут.
func (e *Engine) Decide(ctx context.Context, req Request) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "routing.decide")
	span.SetAttributes(
		attribute.String("payment.id", req.PaymentID),
		attribute.String("tenant.id", req.Tenant.TenantID),
	)
	defer span.End()

	log := logger.FromContext(ctx)
	started := time.Now()

	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, req.PaymentID); ok {
			metrics.RecordRoutingDecision(cached.ClearingSystem, "cache", time.Since(started))
			return cached, nil
		}
	}

	rules, err := e.rules.LoadActive(ctx, req.Tenant, time.Now().UTC())
	if err != nil {
		return nil, fault.Transient("ошибка загрузки правил маршрутизации", err)
	}

	matched := e.evaluate(ctx, req, rules)
	winner := pickWinner(matched)

	var decision *Decision
	if winner == nil {
		decision = e.fallbackDecision(req)
		log.Info().
			Str("payment_id", req.PaymentID).
			Str("clearing_system", decision.ClearingSystem).
			Int("rules_evaluated", len(rules)).
			Msg("Правило маршрутизации не выбрано, применена система по умолчанию")
		metrics.RecordRoutingDecision(decision.ClearingSystem, "fallback", time.Since(started))
	} else {
		decision = e.applyActions(req, winner)
		log.Info().
			Str("payment_id", req.PaymentID).
			Str("rule_id", winner.ID).
			Str("rule_name", winner.Name).
			Int("priority", winner.Priority).
			Str("clearing_system", decision.ClearingSystem).
			Bool("rejected", decision.Rejected).
			Bool("held", decision.Held).
			Msg("Выбрано правило маршрутизации")
		metrics.RecordRoutingDecision(decision.ClearingSystem, "rule", time.Since(started))
	}

	if e.cache != nil {
		e.cache.Put(ctx, decision)
	}
	return decision, nil
}

// Invalidate сбрасывает закэшированное решение платежа.
// Вызывается при изменении правил, затрагивающих конкретный платёж.
func (e *Engine) Invalidate(ctx context.Context, paymentID string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Invalidate(ctx, paymentID)
}

// InvalidateAll сбрасывает весь кэш решений. Вызывается при публикации
// нового набора правил арендатора.
func (e *Engine) InvalidateAll(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.InvalidateAll(ctx)
}

// evaluate конкурентно оценивает правила и возвращает совпавшие.
// Каждое правило получает собственный таймаут; таймаут, ошибка или panic
// одного правила не затрагивают остальные — правило просто выбывает
// из числа кандидатов.
func (e *Engine) evaluate(ctx context.Context, req Request, rules []Rule) []*Rule {
	now := time.Now().UTC()
	outcomes := make(chan ruleOutcome, len(rules))
	launched := 0

	for i := range rules {
		rule := &rules[i]
		if rule.Status != RuleStatusActive || !rule.EffectiveAt(now) {
			continue
		}
		launched++

		go func() {
			matched := e.evaluateOne(ctx, req, rule)
			outcomes <- ruleOutcome{rule: rule, matched: matched}
		}()
	}

	matched := make([]*Rule, 0, launched)
	for i := 0; i < launched; i++ {
		outcome := <-outcomes
		if outcome.matched {
			matched = append(matched, outcome.rule)
		}
	}
	return matched
}

// evaluateOne оценивает одно правило с таймаутом и перехватом panic.
func (e *Engine) evaluateOne(ctx context.Context, req Request, rule *Rule) bool {
	type evalResult struct {
		matched bool
		err     error
	}

	resultCh := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- evalResult{err: fmt.Errorf("panic при оценке правила: %v", r)}
			}
		}()
		matched, err := e.evalFn(req, rule)
		resultCh <- evalResult{matched: matched, err: err}
	}()

	timer := time.NewTimer(e.cfg.RuleTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			metrics.RoutingRuleErrorsTotal.WithLabelValues("evaluation_error").Inc()
			lg := logger.FromContext(ctx)
			lg.Warn().
				Err(res.err).
				Str("rule_id", rule.ID).
				Str("rule_name", rule.Name).
				Msg("Ошибка оценки правила маршрутизации, правило пропущено")
			return false
		}
		return res.matched
	case <-timer.C:
		metrics.RoutingRuleErrorsTotal.WithLabelValues("timeout").Inc()
		lg := logger.FromContext(ctx)
		lg.Warn().
			Str("rule_id", rule.ID).
			Str("rule_name", rule.Name).
			Dur("timeout", e.cfg.RuleTimeout).
			Msg("Таймаут оценки правила маршрутизации, правило пропущено")
		return false
	case <-ctx.Done():
		return false
	}
}

// pickWinner выбирает победителя среди совпавших правил:
// наименьший priority, при равенстве — лексикографически меньший id.
func pickWinner(matched []*Rule) *Rule {
	if len(matched) == 0 {
		return nil
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})
	return matched[0]
}

// applyActions исполняет действия победившего правила и собирает решение.
func (e *Engine) applyActions(req Request, rule *Rule) *Decision {
	decision := &Decision{
		PaymentID:      req.PaymentID,
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		Priority:       req.Priority,
		DecisionReason: fmt.Sprintf("Matched rule %s", rule.Name),
		EvaluatedAt:    time.Now().UTC(),
	}

	for i := range rule.Actions {
		action := &rule.Actions[i]
		switch action.Type {
		case ActionRouteToClearingSystem:
			if action.IsPrimary {
				decision.ClearingSystem = action.ClearingSystem
			}
		case ActionSetPriority:
			if action.RoutingPriority != "" {
				decision.Priority = action.RoutingPriority
			} else if p, ok := action.Parameters["priority"]; ok {
				decision.Priority = p
			}
		case ActionAddMetadata:
			if decision.Metadata == nil {
				decision.Metadata = make(map[string]string, len(action.Parameters))
			}
			for k, v := range action.Parameters {
				decision.Metadata[k] = v
			}
		case ActionRejectPayment:
			decision.Rejected = true
			if reason, ok := action.Parameters["reason"]; ok && reason != "" {
				decision.DecisionReason = reason
			}
		case ActionHoldPayment:
			decision.Held = true
			if reason, ok := action.Parameters["reason"]; ok && reason != "" {
				decision.DecisionReason = reason
			}
		case ActionNotify:
			if target, ok := action.Parameters["target"]; ok && target != "" {
				decision.Notifications = append(decision.Notifications, target)
			} else if channel, ok := action.Parameters["channel"]; ok && channel != "" {
				decision.Notifications = append(decision.Notifications, channel)
			}
		}
	}

	// Правило совпало, но основного действия маршрутизации нет —
	// клиринговая система берётся по умолчанию. Отклонённым и удержанным
	// платежам система не нужна вовсе.
	if decision.ClearingSystem == "" && !decision.Rejected && !decision.Held {
		decision.ClearingSystem = e.cfg.FallbackClearingSystem
		decision.Fallback = true
	}
	return decision
}

// fallbackDecision собирает решение по умолчанию, когда ни одно правило
// не совпало.
func (e *Engine) fallbackDecision(req Request) *Decision {
	return &Decision{
		PaymentID:      req.PaymentID,
		ClearingSystem: e.cfg.FallbackClearingSystem,
		Priority:       req.Priority,
		DecisionReason: FallbackReason,
		Fallback:       true,
		EvaluatedAt:    time.Now().UTC(),
	}
}
