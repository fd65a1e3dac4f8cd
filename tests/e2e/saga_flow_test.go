//go:build e2e

// Package e2e — E2E тесты потока обработки платежа.
// Требует поднятого окружения (MySQL, Redis, Kafka):
// запуск: go test -tags=e2e -v ./tests/e2e/...
package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payments-platform/pkg/config"
	dbpkg "example.com/payments-platform/pkg/db"
	"example.com/payments-platform/pkg/kafka"
	"example.com/payments-platform/pkg/logger"
	"example.com/payments-platform/pkg/outbox"
	"example.com/payments-platform/services/payments/internal/account"
	"example.com/payments-platform/services/payments/internal/clearing"
	"example.com/payments-platform/services/payments/internal/domain"
	"example.com/payments-platform/services/payments/internal/ledger"
	"example.com/payments-platform/services/payments/internal/notification"
	"example.com/payments-platform/services/payments/internal/repository"
	"example.com/payments-platform/services/payments/internal/routing"
	"example.com/payments-platform/services/payments/internal/saga"
	"example.com/payments-platform/services/payments/internal/service"
	"example.com/payments-platform/services/payments/internal/settlement"
	"example.com/payments-platform/services/payments/internal/validation"
)

const (
	sagaTimeout  = 30 * time.Second
	pollInterval = 200 * time.Millisecond
)

// stack — полный конвейер обработки платежей поверх живого окружения.
type stack struct {
	svc        service.PaymentService
	ledgerRepo ledger.TransactionRepository
}

// newStack собирает конвейер так же, как cmd/main.go: loopback-адаптеры
// клиринга и счетов, настоящие репозитории, диспетчер и консьюмер
// подтверждений расчёта. Недоступное окружение пропускает тест.
func newStack(t *testing.T) *stack {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)
	logger.Init(logger.Config{Level: "warn"})

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, false)
	if err != nil {
		t.Skipf("MySQL недоступен: %v", err)
	}
	require.NoError(t, db.AutoMigrate(
		&repository.PaymentModel{},
		&saga.SagaModel{},
		&saga.SagaStepModel{},
		&saga.SagaEventModel{},
		&ledger.TransactionModel{},
		&ledger.LedgerEntryModel{},
		&ledger.TransactionEventModel{},
		&validation.ResultModel{},
		&routing.RuleModel{},
		&routing.ConditionModel{},
		&routing.ActionModel{},
		&outbox.OutboxModel{},
	))

	rdb := dbpkg.ConnectRedis(cfg.Redis)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		t.Skipf("Redis недоступен: %v", err)
	}

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		t.Skipf("Kafka недоступна: %v", err)
	}
	consumer, err := kafka.NewConsumer(
		kafka.Config{Brokers: cfg.Kafka.Brokers},
		kafka.TopicClearingReplies,
		"e2e-clearing-replies-"+uuid.NewString(),
	)
	require.NoError(t, err)

	paymentRepo := repository.NewPaymentRepository(db)
	sagaRepo := saga.NewSagaRepository(db)
	ledgerRepo := ledger.NewTransactionRepository(db)

	validator := validation.NewEngine(
		validation.NewStaticRulesPort(validation.Thresholds{
			AmountLimit:         decimal.RequireFromString("1000000"),
			RiskAmountThreshold: decimal.RequireFromString("500000"),
			VelocityThreshold:   1000,
			VelocityWindow:      time.Hour,
		}),
		validation.NewStaticRuleContext(),
		validation.Config{FraudScoreWeight: 25, RiskScoreWeight: 20},
	)
	router := routing.NewEngine(
		routing.NewRuleRepository(db),
		nil,
		routing.EngineConfig{
			RuleTimeout:            time.Second,
			FallbackClearingSystem: "BANKSERV_EFT",
		},
	)

	tracker := settlement.NewTracker()
	handlers := service.NewStepHandlers(
		paymentRepo,
		validator,
		validation.NewResultRepository(db),
		router,
		ledgerRepo,
		account.NewLoopbackAdapter(),
		clearing.NewLoopbackAdapter(producer, 100*time.Millisecond),
		tracker,
		notification.NewLogAdapter(),
	)

	executor := saga.NewExecutor(handlers.Registry(), 10*time.Second, saga.RetryPolicy{
		Base:        100 * time.Millisecond,
		Factor:      2,
		Cap:         time.Second,
		MaxAttempts: 3,
	})
	orch := saga.NewOrchestrator(
		sagaRepo,
		saga.NewRegistry(),
		executor,
		service.NewPaymentFinalizer(paymentRepo),
		5*time.Minute,
	)
	dispatcher := saga.NewDispatcher(orch, saga.DefaultDispatcherConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = dispatcher.Run(ctx) }()
	go func() { _ = settlement.NewRepliesConsumer(consumer, tracker).Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = consumer.Close()
		_ = producer.Close()
	})

	return &stack{
		svc:        service.NewPaymentService(paymentRepo, sagaRepo, orch, dispatcher, rdb),
		ledgerRepo: ledgerRepo,
	}
}

func paymentRequest(tenantID string) domain.PaymentRequest {
	return domain.PaymentRequest{
		TenantID:           tenantID,
		BusinessUnitID:     "bu-e2e",
		SourceAccount:      "ZA" + uuid.NewString()[:10],
		DestinationAccount: "ZA" + uuid.NewString()[:10],
		Amount:             "2500.00",
		Currency:           "ZAR",
		Reference:          "E2E payment",
		Type:               domain.PaymentTypeEFT,
		Priority:           domain.PriorityNormal,
		InitiatedBy:        "e2e",
		IdempotencyKey:     uuid.NewString(),
	}
}

// waitForStatus опрашивает платёж до достижения нужного статуса.
func waitForStatus(t *testing.T, s *stack, tenant domain.TenantContext, id domain.PaymentID, want domain.PaymentStatus) *domain.PaymentStatusView {
	t.Helper()

	deadline := time.Now().Add(sagaTimeout)
	for time.Now().Before(deadline) {
		view, err := s.svc.GetPayment(context.Background(), tenant, id)
		require.NoError(t, err)
		if view.Status == want {
			return view
		}
		if view.Status.IsTerminal() {
			t.Fatalf("платёж достиг %s вместо %s (причина: %s)", view.Status, want, view.Reason)
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("платёж не достиг статуса %s за %s", want, sagaTimeout)
	return nil
}

func TestPaymentFlow_EndToEnd(t *testing.T) {
	s := newStack(t)
	tenantID := "e2e-" + uuid.NewString()[:8]
	tenant := domain.TenantContext{TenantID: tenantID, BusinessUnitID: "bu-e2e"}
	ctx := context.Background()

	req := paymentRequest(tenantID)
	id, err := s.svc.InitiatePayment(ctx, req)
	require.NoError(t, err)

	// Сага проходит все восемь шагов: loopback-клиринг подтверждает расчёт
	// через clearing.replies, трекер будит шаг AwaitSettlement.
	waitForStatus(t, s, tenant, id, domain.PaymentStatusCompleted)

	txn, err := s.ledgerRepo.GetByPaymentID(ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, txn.Status)
	assert.Len(t, txn.Entries, 2)

	// Повторная инициация с тем же ключом идемпотентна.
	again, err := s.svc.InitiatePayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestPaymentFlow_ValidationRejection(t *testing.T) {
	s := newStack(t)
	tenantID := "e2e-" + uuid.NewString()[:8]
	tenant := domain.TenantContext{TenantID: tenantID, BusinessUnitID: "bu-e2e"}

	req := paymentRequest(tenantID)
	req.Reference = ""

	id, err := s.svc.InitiatePayment(context.Background(), req)
	require.NoError(t, err)

	view := waitForStatus(t, s, tenant, id, domain.PaymentStatusFailed)
	assert.Equal(t, "Payment reference is required", view.Reason)
}

func TestPaymentFlow_CancelBeforeCompletion(t *testing.T) {
	s := newStack(t)
	tenantID := "e2e-" + uuid.NewString()[:8]
	tenant := domain.TenantContext{TenantID: tenantID, BusinessUnitID: "bu-e2e"}
	ctx := context.Background()

	id, err := s.svc.InitiatePayment(ctx, paymentRequest(tenantID))
	require.NoError(t, err)

	// Отмена гонится с обработкой: до завершения она допустима,
	// после — платёж уже терминален.
	err = s.svc.CancelPayment(ctx, tenant, id, "CUSTOMER_REQUEST")
	if err != nil {
		require.ErrorIs(t, err, domain.ErrPaymentNotCancellable)
		return
	}

	view := waitForStatus(t, s, tenant, id, domain.PaymentStatusFailed)
	assert.Equal(t, "CUSTOMER_REQUEST", view.Reason)
}
