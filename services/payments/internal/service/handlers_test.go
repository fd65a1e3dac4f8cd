package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payments-platform/pkg/fault"
	"example.com/payments-platform/services/payments/internal/domain"
	"example.com/payments-platform/services/payments/internal/ledger"
	"example.com/payments-platform/services/payments/internal/saga"
)

// newHandlersEnv собирает окружение и создаёт платёж, по которому
// работают обработчики шагов.
func newHandlersEnv(t *testing.T) (*testEnv, *StepHandlers, saga.StepRequest) {
	t.Helper()

	env := newTestEnv(t, nil)

	req := testRequest()
	payment, err := domain.NewPayment(
		"payment-1",
		testTenant(),
		domain.AccountNumber(req.SourceAccount),
		domain.AccountNumber(req.DestinationAccount),
		domain.MustMoney(req.Amount, req.Currency),
		req.Reference,
		req.Type,
		req.Priority,
		req.InitiatedBy,
		req.IdempotencyKey,
	)
	require.NoError(t, err)
	require.NoError(t, env.payments.Create(context.Background(), payment))

	payload, err := json.Marshal(sagaPayload{
		PaymentID:          "payment-1",
		TenantID:           req.TenantID,
		BusinessUnitID:     req.BusinessUnitID,
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Reference:          req.Reference,
		Type:               string(req.Type),
		Priority:           string(req.Priority),
	})
	require.NoError(t, err)

	handlers := env.handlers
	stepReq := saga.StepRequest{
		SagaID:      "saga-1",
		StepID:      "step-1",
		BusinessKey: "payment-1",
		Tenant:      testTenant(),
		Payload:     payload,
		StepResults: map[string]string{},
		Timeout:     time.Second,
	}
	return env, handlers, stepReq
}

func TestHandlers_ValidateRecordsResultAndMarksPayment(t *testing.T) {
	env, h, req := newHandlersEnv(t)
	ctx := context.Background()

	result, err := h.validate(ctx, req)
	require.NoError(t, err)

	var res validateResult
	require.NoError(t, json.Unmarshal([]byte(result), &res))
	assert.NotEmpty(t, res.ValidationID)

	// Аудиторский след записан, платёж переведён в VALIDATED.
	stored, err := env.results.GetByPaymentID(ctx, testTenant(), "payment-1")
	require.NoError(t, err)
	assert.True(t, stored.Passed())

	payment, err := env.payments.GetByID(ctx, testTenant(), "payment-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusValidated, payment.Status)

	// Повторная доставка шага не ломается об уже переведённый статус.
	_, err = h.validate(ctx, req)
	require.NoError(t, err)
}

func TestHandlers_CreateTransactionIdempotent(t *testing.T) {
	env, h, req := newHandlersEnv(t)
	ctx := context.Background()

	first, err := h.createTransaction(ctx, req)
	require.NoError(t, err)

	second, err := h.createTransaction(ctx, req)
	require.NoError(t, err)

	// Повторная доставка возвращает ту же транзакцию.
	assert.Equal(t, first, second)

	var res createResult
	require.NoError(t, json.Unmarshal([]byte(first), &res))
	txn, err := env.ledger.GetByID(ctx, testTenant(), res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusProcessing, txn.Status)
	assert.Len(t, txn.Entries, 2)
}

func TestHandlers_SubmitRequiresStepResults(t *testing.T) {
	_, h, req := newHandlersEnv(t)

	// Нет результата маршрутизации — нарушение инварианта, не retry.
	_, err := h.submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, fault.IsInvariantViolation(err))
}

func TestHandlers_SubmitMarksTransactionCleared(t *testing.T) {
	env, h, req := newHandlersEnv(t)
	ctx := context.Background()

	createRes, err := h.createTransaction(ctx, req)
	require.NoError(t, err)
	req.StepResults[saga.StepCreateTransaction] = createRes
	req.StepResults[saga.StepDetermineRoute] = `{"clearingSystem":"BANKSERV_RTC"}`

	result, err := h.submit(ctx, req)
	require.NoError(t, err)

	var sub submitResult
	require.NoError(t, json.Unmarshal([]byte(result), &sub))
	assert.Equal(t, "clr-saga-1", sub.ClearingReference)

	var created createResult
	require.NoError(t, json.Unmarshal([]byte(createRes), &created))
	txn, err := env.ledger.GetByID(ctx, testTenant(), created.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClearing, txn.Status)
	assert.Equal(t, "BANKSERV_RTC", txn.ClearingSystem)
	assert.Equal(t, "clr-saga-1", txn.ClearingReference)
}

func TestHandlers_FailTransactionWithoutOriginalResultIsNoop(t *testing.T) {
	_, h, req := newHandlersEnv(t)

	// Прямое действие не успело создать транзакцию — компенсировать нечего.
	require.NoError(t, h.failTransaction(context.Background(), req, ""))
}

func TestHandlers_FailTransactionLeavesTrace(t *testing.T) {
	env, h, req := newHandlersEnv(t)
	ctx := context.Background()

	createRes, err := h.createTransaction(ctx, req)
	require.NoError(t, err)

	require.NoError(t, h.failTransaction(ctx, req, createRes))
	// Повтор компенсации — no-op.
	require.NoError(t, h.failTransaction(ctx, req, createRes))

	var created createResult
	require.NoError(t, json.Unmarshal([]byte(createRes), &created))
	txn, err := env.ledger.GetByID(ctx, testTenant(), created.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, txn.Status)
	require.NotNil(t, txn.FailureReason)
	assert.Equal(t, "compensation", *txn.FailureReason)
}

func TestHandlers_FailCompletedTransactionReasonIsDistinct(t *testing.T) {
	env, h, req := newHandlersEnv(t)
	ctx := context.Background()

	createRes, err := h.createTransaction(ctx, req)
	require.NoError(t, err)

	require.NoError(t, h.failCompletedTransaction(ctx, req, createRes))

	// Пост-завершающая компенсация оставляет собственную причину —
	// в журнале она отличима от обычной компенсации CreateTransaction.
	var created createResult
	require.NoError(t, json.Unmarshal([]byte(createRes), &created))
	txn, err := env.ledger.GetByID(ctx, testTenant(), created.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, txn.Status)
	require.NotNil(t, txn.FailureReason)
	assert.Equal(t, "post-complete-compensate", *txn.FailureReason)
}

func TestHandlers_ReverseWithoutReferenceIsNoop(t *testing.T) {
	env, h, req := newHandlersEnv(t)

	// Заявка не была подтверждена — разворачивать нечего.
	require.NoError(t, h.reverse(context.Background(), req, ""))
	assert.Empty(t, env.clearing.reversals)
}

func TestHandlers_AwaitSettlementTimeoutIsTransient(t *testing.T) {
	env, h, req := newHandlersEnv(t)
	env.settlement.waitErr = errors.New("ожидание истекло")
	req.StepResults[saga.StepSubmitToClearing] = `{"clearingReference":"clr-1"}`

	_, err := h.awaitSettlement(context.Background(), req)
	require.Error(t, err)

	// Подтверждение может прийти на повторной попытке.
	assert.True(t, fault.IsTransient(err))
	assert.Equal(t, "SETTLEMENT_TIMEOUT", fault.Reason(err))
}

func TestHandlers_CancelSettlementUsesClearingReference(t *testing.T) {
	env, h, req := newHandlersEnv(t)
	req.StepResults[saga.StepSubmitToClearing] = `{"clearingReference":"clr-9"}`

	require.NoError(t, h.cancelSettlement(context.Background(), req, ""))
	assert.Equal(t, []string{"clr-9"}, env.settlement.cancelled)
}

func TestHandlers_NotifyIsBestEffort(t *testing.T) {
	env, h, req := newHandlersEnv(t)
	env.notifier.sendErr = errors.New("канал уведомлений недоступен")

	// Сбой уведомления не заваливает завершённый платёж.
	_, err := h.notify(context.Background(), req)
	require.NoError(t, err)
}

func TestHandlers_CorruptPayloadIsInvariantViolation(t *testing.T) {
	_, h, req := newHandlersEnv(t)
	req.Payload = json.RawMessage(`{broken`)

	_, err := h.validate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, fault.IsInvariantViolation(err))
}
