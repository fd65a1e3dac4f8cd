// Package service собирает ядро платежей в работающий сервис: привязывает
// действия саговых шаблонов к портам, синхронизирует статус платежа с итогом
// саги и реализует идемпотентную инициацию платежей.
package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"example.com/payments-platform/pkg/circuitbreaker"
	"example.com/payments-platform/pkg/fault"
	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/services/payments/internal/domain"
	"example.com/payments-platform/services/payments/internal/ledger"
	"example.com/payments-platform/services/payments/internal/repository"
	"example.com/payments-platform/services/payments/internal/routing"
	"example.com/payments-platform/services/payments/internal/saga"
	"example.com/payments-platform/services/payments/internal/validation"
)

// Ошибки привязки шагов. Причины (fault.Reason) уходят в failureReason саги,
// поэтому сами сентинелы несут машинные коды.
var (
	// ErrValidationRejected — платёж не прошёл валидацию.
	ErrValidationRejected = errors.New("VALIDATION_REJECTED")

	// ErrRouteRejected — правило маршрутизации отклонило платёж.
	ErrRouteRejected = errors.New("ROUTE_REJECTED")

	// ErrPaymentHeld — платёж удержан решением маршрутизации.
	ErrPaymentHeld = errors.New("PAYMENT_HELD")

	// ErrSettlementRejected — клиринговая система отклонила расчёт.
	ErrSettlementRejected = errors.New("SETTLEMENT_REJECTED")
)

// =============================================================================
// Полезная нагрузка саги
// =============================================================================

// sagaPayload — данные запроса, доступные действиям шагов через Payload.
// Сериализуется при старте саги и не меняется до её завершения.
type sagaPayload struct {
	PaymentID          string            `json:"paymentId"`
	TenantID           string            `json:"tenantId"`
	BusinessUnitID     string            `json:"businessUnitId,omitempty"`
	SourceAccount      string            `json:"sourceAccount"`
	DestinationAccount string            `json:"destinationAccount"`
	Amount             string            `json:"amount"`
	Currency           string            `json:"currency"`
	Reference          string            `json:"reference,omitempty"`
	Type               string            `json:"type"`
	Priority           string            `json:"priority"`
	InitiatedBy        string            `json:"initiatedBy,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// toRequest восстанавливает запрос платежа из полезной нагрузки.
func (p *sagaPayload) toRequest() domain.PaymentRequest {
	return domain.PaymentRequest{
		TenantID:           p.TenantID,
		BusinessUnitID:     p.BusinessUnitID,
		SourceAccount:      p.SourceAccount,
		DestinationAccount: p.DestinationAccount,
		Amount:             p.Amount,
		Currency:           p.Currency,
		Reference:          p.Reference,
		Type:               domain.PaymentType(p.Type),
		Priority:           domain.Priority(p.Priority),
		InitiatedBy:        p.InitiatedBy,
		Metadata:           p.Metadata,
	}
}

// parsePayload разбирает полезную нагрузку саги. Повреждённая нагрузка —
// нарушение инварианта: сага падает без компенсации на ручной разбор.
func parsePayload(raw json.RawMessage) (*sagaPayload, error) {
	var p sagaPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fault.Invariant("повреждена полезная нагрузка саги", err)
	}
	if p.PaymentID == "" {
		return nil, fault.Invariant("в полезной нагрузке саги нет paymentId", nil)
	}
	return &p, nil
}

// Результаты шагов. JSON попадает в saga_steps.result и читается
// зависимыми шагами и компенсациями через StepResults.
type validateResult struct {
	ValidationID string `json:"validationId"`
	RiskLevel    string `json:"riskLevel"`
	FraudScore   int    `json:"fraudScore"`
	RiskScore    int    `json:"riskScore"`
}

type decideResult struct {
	ClearingSystem string `json:"clearingSystem"`
	RuleID         string `json:"ruleId,omitempty"`
	Fallback       bool   `json:"fallback,omitempty"`
}

type createResult struct {
	TransactionID string `json:"transactionId"`
}

type submitResult struct {
	ClearingReference string `json:"clearingReference"`
}

type awaitResult struct {
	SettledAt string `json:"settledAt"`
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fault.Invariant("не удалось сериализовать результат шага", err)
	}
	return string(data), nil
}

// =============================================================================
// Привязка действий шагов
// =============================================================================

// StepHandlers привязывает действия шаблона PAYMENT_PROCESSING к портам.
// Вызовы внешних систем (клиринг, расчёт) обёрнуты в circuit breaker:
// открытый предохранитель возвращает transient-ошибку, и шаг уходит
// в обычный retry-цикл исполнителя.
type StepHandlers struct {
	payments          repository.PaymentRepository
	validator         *validation.Engine
	validationResults validation.ResultRepository
	router            *routing.Engine
	ledger            ledger.TransactionRepository
	accounts          saga.AccountAdapter
	clearing          saga.ClearingAdapter
	settlement        saga.SettlementPort
	notifier          saga.NotificationPort

	clearingBreaker   *circuitbreaker.Breaker
	settlementBreaker *circuitbreaker.Breaker
}

// NewStepHandlers создаёт привязку действий шагов к портам.
func NewStepHandlers(
	payments repository.PaymentRepository,
	validator *validation.Engine,
	validationResults validation.ResultRepository,
	router *routing.Engine,
	ledgerRepo ledger.TransactionRepository,
	accounts saga.AccountAdapter,
	clearing saga.ClearingAdapter,
	settlement saga.SettlementPort,
	notifier saga.NotificationPort,
) *StepHandlers {
	return &StepHandlers{
		payments:          payments,
		validator:         validator,
		validationResults: validationResults,
		router:            router,
		ledger:            ledgerRepo,
		accounts:          accounts,
		clearing:          clearing,
		settlement:        settlement,
		notifier:          notifier,
		clearingBreaker:   circuitbreaker.New("clearing"),
		settlementBreaker: circuitbreaker.New("settlement"),
	}
}

// Registry возвращает реестр обработчиков с привязанными действиями
// и компенсациями шаблона PAYMENT_PROCESSING.
func (h *StepHandlers) Registry() *saga.HandlerRegistry {
	r := saga.NewHandlerRegistry()

	r.RegisterAction(saga.ServiceValidation, "validate", h.validate)
	r.RegisterAction(saga.ServiceAccount, "reserve", h.reserve)
	r.RegisterCompensation(saga.ServiceAccount, "release", h.release)
	r.RegisterAction(saga.ServiceRouting, "decide", h.decide)
	r.RegisterAction(saga.ServiceLedger, "create", h.createTransaction)
	r.RegisterCompensation(saga.ServiceLedger, "fail", h.failTransaction)
	r.RegisterAction(saga.ServiceClearing, "submit", h.submit)
	r.RegisterCompensation(saga.ServiceClearing, "reverse", h.reverse)
	r.RegisterAction(saga.ServiceSettlement, "await", h.awaitSettlement)
	r.RegisterCompensation(saga.ServiceSettlement, "cancel", h.cancelSettlement)
	r.RegisterAction(saga.ServiceLedger, "complete", h.completeTransaction)
	r.RegisterCompensation(saga.ServiceLedger, "fail-completed", h.failCompletedTransaction)
	r.RegisterAction(saga.ServiceNotification, "send", h.notify)

	return r
}

// -----------------------------------------------------------------------------
// Validate
// -----------------------------------------------------------------------------

// validate прогоняет платёж через движок валидации и фиксирует результат.
// Отказ валидации — permanent: повторять бессмысленно, сага уходит
// в вырожденную компенсацию (завершённых шагов ещё нет).
func (h *StepHandlers) validate(ctx context.Context, req saga.StepRequest) (string, error) {
	p, err := parsePayload(req.Payload)
	if err != nil {
		return "", err
	}

	result, err := h.validator.Validate(ctx, domain.PaymentID(p.PaymentID), p.toRequest())
	if err != nil {
		return "", err
	}

	// Аудиторский след пишется и для пройденной, и для проваленной валидации.
	if err := h.validationResults.Create(ctx, result); err != nil {
		return "", fault.Transient("не удалось сохранить результат валидации", err)
	}

	if !result.Passed() {
		return "", fault.Permanent(result.FailureReason(), ErrValidationRejected)
	}

	if err := h.markValidated(ctx, req.Tenant, domain.PaymentID(p.PaymentID)); err != nil {
		return "", err
	}

	return marshalResult(validateResult{
		ValidationID: result.ValidationID,
		RiskLevel:    string(result.RiskLevel),
		FraudScore:   result.FraudScore,
		RiskScore:    result.RiskScore,
	})
}

// markValidated переводит платёж в VALIDATED. Повторная доставка шага
// застаёт платёж уже в VALIDATED — это не ошибка.
func (h *StepHandlers) markValidated(ctx context.Context, tenant domain.TenantContext, id domain.PaymentID) error {
	payment, err := h.payments.GetByID(ctx, tenant, id)
	if err != nil {
		return fault.Transient("не удалось загрузить платёж", err)
	}
	if payment.Status != domain.PaymentStatusInitiated {
		return nil
	}
	if err := payment.MarkValidated(); err != nil {
		return fault.Invariant("недопустимый переход статуса платежа", err)
	}
	if err := h.payments.Save(ctx, payment); err != nil {
		return fault.Transient("не удалось сохранить платёж", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// ReserveFunds
// -----------------------------------------------------------------------------

// reserve резервирует средства на счёте списания.
// Адаптер идемпотентен по (sagaID, stepID) — повторная доставка безопасна.
func (h *StepHandlers) reserve(ctx context.Context, req saga.StepRequest) (string, error) {
	p, err := parsePayload(req.Payload)
	if err != nil {
		return "", err
	}
	amount, err := domain.NewMoney(p.Amount, p.Currency)
	if err != nil {
		return "", fault.Invariant("некорректная сумма в полезной нагрузке", err)
	}

	if err := h.accounts.Reserve(ctx, domain.AccountNumber(p.SourceAccount), amount, req.SagaID, req.StepID); err != nil {
		return "", err
	}
	return "", nil
}

// release возвращает резерв. Компенсация может прийти и без прямого
// действия — адаптер обязан переживать Release без Reserve.
func (h *StepHandlers) release(ctx context.Context, req saga.StepRequest, _ string) error {
	p, err := parsePayload(req.Payload)
	if err != nil {
		return err
	}
	amount, err := domain.NewMoney(p.Amount, p.Currency)
	if err != nil {
		return fault.Invariant("некорректная сумма в полезной нагрузке", err)
	}

	return h.accounts.Release(ctx, domain.AccountNumber(p.SourceAccount), amount, req.SagaID, req.StepID)
}

// -----------------------------------------------------------------------------
// DetermineRoute
// -----------------------------------------------------------------------------

// decide запрашивает решение движка маршрутизации. REJECT — permanent-отказ,
// HOLD — платёж удерживается до ручного разбора (финализатор не перетирает
// статус HELD итогом саги).
func (h *StepHandlers) decide(ctx context.Context, req saga.StepRequest) (string, error) {
	p, err := parsePayload(req.Payload)
	if err != nil {
		return "", err
	}
	amount, err := domain.NewMoney(p.Amount, p.Currency)
	if err != nil {
		return "", fault.Invariant("некорректная сумма в полезной нагрузке", err)
	}

	decision, err := h.router.Decide(ctx, routing.Request{
		PaymentID:          p.PaymentID,
		Tenant:             req.Tenant,
		Amount:             amount.Amount,
		Currency:           amount.Currency,
		PaymentType:        p.Type,
		SourceAccount:      p.SourceAccount,
		DestinationAccount: p.DestinationAccount,
		Priority:           p.Priority,
		Metadata:           p.Metadata,
	})
	if err != nil {
		return "", err
	}

	if decision.Rejected {
		return "", fault.Permanent(decision.DecisionReason, ErrRouteRejected)
	}
	if decision.Held {
		if err := h.holdPayment(ctx, req.Tenant, domain.PaymentID(p.PaymentID), decision.DecisionReason); err != nil {
			return "", err
		}
		return "", fault.Permanent(decision.DecisionReason, ErrPaymentHeld)
	}

	if err := h.markClearing(ctx, req.Tenant, domain.PaymentID(p.PaymentID), decision.ClearingSystem); err != nil {
		return "", err
	}

	return marshalResult(decideResult{
		ClearingSystem: decision.ClearingSystem,
		RuleID:         decision.RuleID,
		Fallback:       decision.Fallback,
	})
}

// holdPayment переводит платёж в HELD. Статус сохраняется до ручного
// разбора, итог саги его не перетирает.
func (h *StepHandlers) holdPayment(ctx context.Context, tenant domain.TenantContext, id domain.PaymentID, reason string) error {
	payment, err := h.payments.GetByID(ctx, tenant, id)
	if err != nil {
		return fault.Transient("не удалось загрузить платёж", err)
	}
	if payment.Status == domain.PaymentStatusHeld {
		return nil
	}
	if err := payment.Hold(reason); err != nil {
		return fault.Invariant("недопустимый переход статуса платежа", err)
	}
	if err := h.payments.Save(ctx, payment); err != nil {
		return fault.Transient("не удалось сохранить платёж", err)
	}
	return nil
}

// markClearing фиксирует выбранную клиринговую систему на платеже.
func (h *StepHandlers) markClearing(ctx context.Context, tenant domain.TenantContext, id domain.PaymentID, clearingSystem string) error {
	payment, err := h.payments.GetByID(ctx, tenant, id)
	if err != nil {
		return fault.Transient("не удалось загрузить платёж", err)
	}
	if payment.Status == domain.PaymentStatusClearing {
		return nil
	}
	if err := payment.MarkClearing(clearingSystem); err != nil {
		return fault.Invariant("недопустимый переход статуса платежа", err)
	}
	if err := h.payments.Save(ctx, payment); err != nil {
		return fault.Transient("не удалось сохранить платёж", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// CreateTransaction
// -----------------------------------------------------------------------------

// createTransaction создаёт транзакцию двойной записи по платежу.
// Идемпотентность: на платёж приходится одна транзакция, повторная
// доставка шага возвращает идентификатор уже созданной.
func (h *StepHandlers) createTransaction(ctx context.Context, req saga.StepRequest) (string, error) {
	p, err := parsePayload(req.Payload)
	if err != nil {
		return "", err
	}

	existing, err := h.ledger.GetByPaymentID(ctx, req.Tenant, domain.PaymentID(p.PaymentID))
	if err == nil {
		return marshalResult(createResult{TransactionID: existing.ID})
	}
	if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return "", fault.Transient("не удалось проверить существующую транзакцию", err)
	}

	amount, err := domain.NewMoney(p.Amount, p.Currency)
	if err != nil {
		return "", fault.Invariant("некорректная сумма в полезной нагрузке", err)
	}

	txn, err := ledger.NewTransaction(
		uuid.NewString(),
		domain.PaymentID(p.PaymentID),
		req.Tenant,
		domain.AccountNumber(p.SourceAccount),
		domain.AccountNumber(p.DestinationAccount),
		amount,
	)
	if err != nil {
		return "", fault.Invariant("нарушены инварианты транзакции", err)
	}
	if err := txn.StartProcessing(); err != nil {
		return "", fault.Invariant("недопустимый переход статуса транзакции", err)
	}

	if err := h.ledger.Create(ctx, txn); err != nil {
		return "", fault.Transient("не удалось сохранить транзакцию", err)
	}

	return marshalResult(createResult{TransactionID: txn.ID})
}

// failTransaction — компенсация CreateTransaction. Проводки неизменяемы,
// поэтому транзакция не удаляется, а переводится в FAILED со следом в журнале.
func (h *StepHandlers) failTransaction(ctx context.Context, req saga.StepRequest, originalResult string) error {
	return h.failTxn(ctx, req, originalResult, "compensation")
}

// failCompletedTransaction — компенсация CompleteTransaction. COMPLETED —
// терминальный статус, в обычном потоке сюда не попасть (после завершения
// остаётся только best-effort уведомление); разворот проведённой транзакции
// делается отдельной сагой TRANSACTION_REVERSAL.
func (h *StepHandlers) failCompletedTransaction(ctx context.Context, req saga.StepRequest, originalResult string) error {
	err := h.failTxn(ctx, req, originalResult, "post-complete-compensate")
	if err != nil && fault.IsInvariantViolation(err) {
		lg := logger.FromContext(ctx)
		lg.Warn().
			Str("saga_id", req.SagaID).
			Msg("Транзакция уже терминальна, требуется разворот отдельной сагой")
		return nil
	}
	return err
}

func (h *StepHandlers) failTxn(ctx context.Context, req saga.StepRequest, originalResult, reason string) error {
	txnID := transactionIDFrom(req, originalResult)
	if txnID == "" {
		return nil // Транзакция не создавалась — компенсировать нечего
	}

	txn, err := h.ledger.GetByID(ctx, req.Tenant, txnID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return nil
		}
		return fault.Transient("не удалось загрузить транзакцию", err)
	}
	if txn.Status == ledger.StatusFailed {
		return nil
	}
	if err := txn.Fail(reason); err != nil {
		return fault.Invariant("недопустимый переход статуса транзакции", err)
	}
	if err := h.ledger.Save(ctx, txn); err != nil {
		return fault.Transient("не удалось сохранить транзакцию", err)
	}
	return nil
}

// transactionIDFrom достаёт идентификатор транзакции из результата прямого
// действия либо из результатов шагов саги.
func transactionIDFrom(req saga.StepRequest, originalResult string) string {
	for _, raw := range []string{originalResult, req.StepResults[saga.StepCreateTransaction]} {
		if raw == "" {
			continue
		}
		var res createResult
		if json.Unmarshal([]byte(raw), &res) == nil && res.TransactionID != "" {
			return res.TransactionID
		}
	}
	return ""
}

// -----------------------------------------------------------------------------
// SubmitToClearing
// -----------------------------------------------------------------------------

// submit передаёт заявку в клиринговую систему через предохранитель.
// Открытый предохранитель — transient: шаг повторяется исполнителем.
func (h *StepHandlers) submit(ctx context.Context, req saga.StepRequest) (string, error) {
	p, err := parsePayload(req.Payload)
	if err != nil {
		return "", err
	}
	amount, err := domain.NewMoney(p.Amount, p.Currency)
	if err != nil {
		return "", fault.Invariant("некорректная сумма в полезной нагрузке", err)
	}

	var route decideResult
	if raw := req.StepResults[saga.StepDetermineRoute]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &route); err != nil {
			return "", fault.Invariant("повреждён результат шага маршрутизации", err)
		}
	}
	if route.ClearingSystem == "" {
		return "", fault.Invariant("нет клиринговой системы в результатах шагов", nil)
	}
	txnID := transactionIDFrom(req, "")
	if txnID == "" {
		return "", fault.Invariant("нет идентификатора транзакции в результатах шагов", nil)
	}

	ref, err := circuitbreaker.Do(ctx, h.clearingBreaker, func(ctx context.Context) (string, error) {
		return h.clearing.Submit(ctx, saga.ClearingSubmission{
			TransactionID:  txnID,
			PaymentID:      p.PaymentID,
			TenantID:       req.Tenant.TenantID,
			ClearingSystem: route.ClearingSystem,
			Amount:         amount,
			SagaID:         req.SagaID,
			StepID:         req.StepID,
		})
	})
	if err != nil {
		return "", err
	}

	if err := h.markTxnCleared(ctx, req.Tenant, txnID, route.ClearingSystem, ref); err != nil {
		return "", err
	}

	return marshalResult(submitResult{ClearingReference: ref})
}

// markTxnCleared фиксирует ссылку клиринговой системы на транзакции.
func (h *StepHandlers) markTxnCleared(ctx context.Context, tenant domain.TenantContext, txnID, clearingSystem, ref string) error {
	txn, err := h.ledger.GetByID(ctx, tenant, txnID)
	if err != nil {
		return fault.Transient("не удалось загрузить транзакцию", err)
	}
	if txn.Status == ledger.StatusClearing {
		return nil
	}
	if err := txn.MarkCleared(clearingSystem, ref); err != nil {
		return fault.Invariant("недопустимый переход статуса транзакции", err)
	}
	if err := h.ledger.Save(ctx, txn); err != nil {
		return fault.Transient("не удалось сохранить транзакцию", err)
	}
	return nil
}

// reverse — компенсация SubmitToClearing. Разворачивает заявку только если
// прямое действие успело получить clearingReference.
func (h *StepHandlers) reverse(ctx context.Context, req saga.StepRequest, originalResult string) error {
	ref := clearingReferenceFrom(originalResult)
	if ref == "" {
		return nil
	}

	_, err := circuitbreaker.Do(ctx, h.clearingBreaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.clearing.Reverse(ctx, ref, req.SagaID, req.StepID)
	})
	return err
}

func clearingReferenceFrom(raw string) string {
	if raw == "" {
		return ""
	}
	var res submitResult
	if json.Unmarshal([]byte(raw), &res) != nil {
		return ""
	}
	return res.ClearingReference
}

// -----------------------------------------------------------------------------
// AwaitSettlement
// -----------------------------------------------------------------------------

// awaitSettlement блокируется до подтверждения расчёта по clearingReference.
// Таймаут ожидания — transient: подтверждение может прийти на повторной
// попытке (трекер буферизует ранние ответы). Отказ клиринга — permanent.
func (h *StepHandlers) awaitSettlement(ctx context.Context, req saga.StepRequest) (string, error) {
	ref := clearingReferenceFrom(req.StepResults[saga.StepSubmitToClearing])
	if ref == "" {
		return "", fault.Invariant("нет clearingReference в результатах шагов", nil)
	}

	result, err := circuitbreaker.Do(ctx, h.settlementBreaker, func(ctx context.Context) (*saga.SettlementResult, error) {
		return h.settlement.WaitFor(ctx, ref, req.Timeout)
	})
	if err != nil {
		// Неклассифицированный таймаут ожидания — transient: подтверждение
		// может прийти на повторной попытке.
		if !isFault(err) {
			return "", fault.Transient("SETTLEMENT_TIMEOUT", err)
		}
		return "", err
	}

	if !result.Settled {
		reason := result.Reason
		if reason == "" {
			reason = ErrSettlementRejected.Error()
		}
		return "", fault.Permanent(reason, ErrSettlementRejected)
	}

	return marshalResult(awaitResult{SettledAt: result.SettledAt.UTC().Format("2006-01-02T15:04:05Z07:00")})
}

// isFault сообщает, классифицирована ли ошибка таксономией fault.
func isFault(err error) bool {
	var f *fault.Error
	return errors.As(err, &f)
}

// cancelSettlement — компенсация AwaitSettlement: снимает ожидание.
func (h *StepHandlers) cancelSettlement(ctx context.Context, req saga.StepRequest, _ string) error {
	ref := clearingReferenceFrom(req.StepResults[saga.StepSubmitToClearing])
	if ref == "" {
		return nil
	}
	return h.settlement.Cancel(ctx, ref)
}

// -----------------------------------------------------------------------------
// CompleteTransaction
// -----------------------------------------------------------------------------

// completeTransaction завершает транзакцию двойной записи.
func (h *StepHandlers) completeTransaction(ctx context.Context, req saga.StepRequest) (string, error) {
	txnID := transactionIDFrom(req, "")
	if txnID == "" {
		return "", fault.Invariant("нет идентификатора транзакции в результатах шагов", nil)
	}

	txn, err := h.ledger.GetByID(ctx, req.Tenant, txnID)
	if err != nil {
		return "", fault.Transient("не удалось загрузить транзакцию", err)
	}
	if txn.Status == ledger.StatusCompleted {
		return "", nil // Повторная доставка
	}
	if err := txn.Complete(); err != nil {
		return "", fault.Invariant("недопустимый переход статуса транзакции", err)
	}
	if err := h.ledger.Save(ctx, txn); err != nil {
		return "", fault.Transient("не удалось сохранить транзакцию", err)
	}
	return "", nil
}

// -----------------------------------------------------------------------------
// Notify
// -----------------------------------------------------------------------------

// notify отправляет уведомление о завершении платежа. Best-effort:
// отказ канала уведомлений не валит завершённый платёж в компенсацию.
func (h *StepHandlers) notify(ctx context.Context, req saga.StepRequest) (string, error) {
	if err := h.notifier.Send(ctx, req.BusinessKey, "PAYMENT_COMPLETED"); err != nil {
		lg := logger.FromContext(ctx)
		lg.Warn().
			Err(err).
			Str("payment_id", req.BusinessKey).
			Msg("Не удалось отправить уведомление о платеже")
	}
	return "", nil
}
