// Тестовые двойники пакета service: in-memory репозитории и сборка
// полного сервиса платежей с настоящими движками валидации, маршрутизации
// и оркестрации.
package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"example.com/payments-platform/services/payments/internal/domain"
	"example.com/payments-platform/services/payments/internal/ledger"
	"example.com/payments-platform/services/payments/internal/routing"
	"example.com/payments-platform/services/payments/internal/saga"
	"example.com/payments-platform/services/payments/internal/validation"
)

// =============================================================================
// In-memory репозитории
// =============================================================================

type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*domain.Payment
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{payments: make(map[string]*domain.Payment)}
}

func copyPayment(p *domain.Payment) *domain.Payment {
	copied := *p
	if p.FailureReason != nil {
		reason := *p.FailureReason
		copied.FailureReason = &reason
	}
	return &copied
}

func (r *memPaymentRepo) Create(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.Tenant.TenantID == p.Tenant.TenantID && existing.IdempotencyKey == p.IdempotencyKey {
			return domain.ErrDuplicatePayment
		}
	}
	if p.Version == 0 {
		p.Version = 1
	}
	p.DrainEvents()
	r.payments[p.ID.String()] = copyPayment(p)
	return nil
}

func (r *memPaymentRepo) Save(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.payments[p.ID.String()]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if stored.Version != p.Version {
		return domain.ErrConcurrentUpdate
	}
	p.Version++
	p.DrainEvents()
	r.payments[p.ID.String()] = copyPayment(p)
	return nil
}

func (r *memPaymentRepo) GetByID(_ context.Context, tenant domain.TenantContext, id domain.PaymentID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id.String()]
	if !ok || p.Tenant.TenantID != tenant.TenantID {
		return nil, domain.ErrPaymentNotFound
	}
	return copyPayment(p), nil
}

func (r *memPaymentRepo) GetByIdempotencyKey(_ context.Context, tenant domain.TenantContext, key string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.Tenant.TenantID == tenant.TenantID && p.IdempotencyKey == key {
			return copyPayment(p), nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

type memSagaRepo struct {
	mu    sync.Mutex
	sagas map[string]*saga.Saga
}

func newMemSagaRepo() *memSagaRepo {
	return &memSagaRepo{sagas: make(map[string]*saga.Saga)}
}

func copySaga(s *saga.Saga) *saga.Saga {
	copied := *s
	copied.Steps = make([]saga.Step, len(s.Steps))
	copy(copied.Steps, s.Steps)
	copied.Events = make([]saga.SagaEvent, len(s.Events))
	copy(copied.Events, s.Events)
	return &copied
}

func (r *memSagaRepo) Create(_ context.Context, s *saga.Saga) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Version == 0 {
		s.Version = 1
	}
	s.DrainEvents()
	r.sagas[s.ID] = copySaga(s)
	return nil
}

func (r *memSagaRepo) Save(_ context.Context, s *saga.Saga) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sagas[s.ID]
	if !ok {
		return saga.ErrSagaNotFound
	}
	if stored.Version != s.Version {
		return domain.ErrConcurrentUpdate
	}
	s.Version++
	s.DrainEvents()
	r.sagas[s.ID] = copySaga(s)
	return nil
}

func (r *memSagaRepo) GetByID(_ context.Context, id string) (*saga.Saga, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sagas[id]
	if !ok {
		return nil, saga.ErrSagaNotFound
	}
	return copySaga(s), nil
}

func (r *memSagaRepo) GetByBusinessKey(_ context.Context, tenant domain.TenantContext, businessKey string) (*saga.Saga, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sagas {
		if s.BusinessKey == businessKey && s.Tenant.TenantID == tenant.TenantID {
			return copySaga(s), nil
		}
	}
	return nil, saga.ErrSagaNotFound
}

func (r *memSagaRepo) ListNonTerminalIDs(_ context.Context, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, s := range r.sagas {
		if !s.Status.IsTerminal() && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memSagaRepo) ListExpiredIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, s := range r.sagas {
		if s.IsExpired(now) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memLedgerRepo struct {
	mu   sync.Mutex
	txns map[string]*ledger.Transaction
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{txns: make(map[string]*ledger.Transaction)}
}

func copyTxn(t *ledger.Transaction) *ledger.Transaction {
	copied := *t
	copied.Entries = make([]ledger.LedgerEntry, len(t.Entries))
	copy(copied.Entries, t.Entries)
	copied.Events = make([]ledger.TransactionEvent, len(t.Events))
	copy(copied.Events, t.Events)
	return &copied
}

func (r *memLedgerRepo) Create(_ context.Context, t *ledger.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Version == 0 {
		t.Version = 1
	}
	t.DrainEvents()
	r.txns[t.ID] = copyTxn(t)
	return nil
}

func (r *memLedgerRepo) Save(_ context.Context, t *ledger.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.txns[t.ID]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	if stored.Version != t.Version {
		return domain.ErrConcurrentUpdate
	}
	t.Version++
	t.DrainEvents()
	r.txns[t.ID] = copyTxn(t)
	return nil
}

func (r *memLedgerRepo) GetByID(_ context.Context, tenant domain.TenantContext, id string) (*ledger.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[id]
	if !ok || t.Tenant.TenantID != tenant.TenantID {
		return nil, ledger.ErrTransactionNotFound
	}
	return copyTxn(t), nil
}

func (r *memLedgerRepo) AccountBalance(_ context.Context, tenant domain.TenantContext, account domain.AccountNumber) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance := decimal.Zero
	for _, t := range r.txns {
		if t.Tenant.TenantID != tenant.TenantID {
			continue
		}
		for i := range t.Entries {
			if t.Entries[i].Account == account {
				balance = balance.Add(t.Entries[i].SignedAmount())
			}
		}
	}
	return balance, nil
}

func (r *memLedgerRepo) GetByPaymentID(_ context.Context, tenant domain.TenantContext, paymentID domain.PaymentID) (*ledger.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.txns {
		if t.PaymentID == paymentID && t.Tenant.TenantID == tenant.TenantID {
			return copyTxn(t), nil
		}
	}
	return nil, ledger.ErrTransactionNotFound
}

type memValidationResults struct {
	mu      sync.Mutex
	results map[string]*validation.Result
}

func newMemValidationResults() *memValidationResults {
	return &memValidationResults{results: make(map[string]*validation.Result)}
}

func (r *memValidationResults) Create(_ context.Context, result *validation.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.PaymentID] = result
	return nil
}

func (r *memValidationResults) GetByPaymentID(_ context.Context, _ domain.TenantContext, paymentID string) (*validation.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[paymentID]
	if !ok {
		return nil, validation.ErrResultNotFound
	}
	return result, nil
}

// =============================================================================
// Заглушки внешних портов
// =============================================================================

type fakeAccounts struct {
	mu       sync.Mutex
	reserves int
	releases int

	reserveErr error
}

func (a *fakeAccounts) Reserve(_ context.Context, _ domain.AccountNumber, _ domain.Money, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reserveErr != nil {
		return a.reserveErr
	}
	a.reserves++
	return nil
}

func (a *fakeAccounts) Release(_ context.Context, _ domain.AccountNumber, _ domain.Money, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releases++
	return nil
}

type fakeClearing struct {
	mu        sync.Mutex
	submits   int
	reversals []string

	submitErr error
}

func (c *fakeClearing) Submit(_ context.Context, sub saga.ClearingSubmission) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.submits++
	return "clr-" + sub.SagaID, nil
}

func (c *fakeClearing) Reverse(_ context.Context, ref, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reversals = append(c.reversals, ref)
	return nil
}

type fakeSettlement struct {
	mu        sync.Mutex
	settled   bool
	reason    string
	cancelled []string

	waitErr error
}

func (s *fakeSettlement) WaitFor(_ context.Context, ref string, _ time.Duration) (*saga.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waitErr != nil {
		return nil, s.waitErr
	}
	return &saga.SettlementResult{
		ClearingReference: ref,
		Settled:           s.settled,
		Reason:            s.reason,
		SettledAt:         time.Now().UTC(),
	}, nil
}

func (s *fakeSettlement) Cancel(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, ref)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	sends int

	sendErr error
}

func (n *fakeNotifier) Send(_ context.Context, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sends++
	return nil
}

// recordingEnqueuer собирает поставленные в очередь саги вместо запуска
// воркеров: тесты продвигают саги синхронно.
type recordingEnqueuer struct {
	mu      sync.Mutex
	sagaIDs []string

	err error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, sagaID, _, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.sagaIDs = append(e.sagaIDs, sagaID)
	return nil
}

func (e *recordingEnqueuer) enqueued() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.sagaIDs...)
}

// =============================================================================
// Сборка сервиса для тестов
// =============================================================================

// testEnv — полный сервис платежей с настоящими движками и оркестратором
// поверх in-memory репозиториев.
type testEnv struct {
	payments   *memPaymentRepo
	sagas      *memSagaRepo
	ledger     *memLedgerRepo
	results    *memValidationResults
	accounts   *fakeAccounts
	clearing   *fakeClearing
	settlement *fakeSettlement
	notifier   *fakeNotifier
	enqueuer   *recordingEnqueuer

	handlers *StepHandlers
	orch     saga.Orchestrator
	svc      PaymentService
}

// staticRoutingRules — RulesPort маршрутизации со статическим набором.
type staticRoutingRules struct {
	rules []routing.Rule
}

func (p *staticRoutingRules) LoadActive(_ context.Context, _ domain.TenantContext, at time.Time) ([]routing.Rule, error) {
	var active []routing.Rule
	for _, r := range p.rules {
		if r.Status == routing.RuleStatusActive && r.EffectiveAt(at) {
			active = append(active, r)
		}
	}
	return active, nil
}

func newTestEnv(t *testing.T, routingRules []routing.Rule) *testEnv {
	t.Helper()

	env := &testEnv{
		payments:   newMemPaymentRepo(),
		sagas:      newMemSagaRepo(),
		ledger:     newMemLedgerRepo(),
		results:    newMemValidationResults(),
		accounts:   &fakeAccounts{},
		clearing:   &fakeClearing{},
		settlement: &fakeSettlement{settled: true},
		notifier:   &fakeNotifier{},
		enqueuer:   &recordingEnqueuer{},
	}

	validator := validation.NewEngine(
		validation.NewStaticRulesPort(validation.Thresholds{
			AmountLimit:         decimal.RequireFromString("1000000"),
			RiskAmountThreshold: decimal.RequireFromString("500000"),
			VelocityThreshold:   100,
			VelocityWindow:      time.Hour,
		}),
		validation.NewStaticRuleContext(),
		validation.Config{FraudScoreWeight: 25, RiskScoreWeight: 20},
	)

	router := routing.NewEngine(
		&staticRoutingRules{rules: routingRules},
		nil,
		routing.EngineConfig{
			RuleTimeout:            time.Second,
			FallbackClearingSystem: "BANKSERV_EFT",
		},
	)

	env.handlers = NewStepHandlers(
		env.payments,
		validator,
		env.results,
		router,
		env.ledger,
		env.accounts,
		env.clearing,
		env.settlement,
		env.notifier,
	)

	executor := saga.NewExecutor(env.handlers.Registry(), time.Second, saga.RetryPolicy{
		Base:        time.Millisecond,
		Factor:      2,
		Cap:         10 * time.Millisecond,
		MaxAttempts: 3,
	})
	env.orch = saga.NewOrchestrator(
		env.sagas,
		saga.NewRegistry(),
		executor,
		NewPaymentFinalizer(env.payments),
		5*time.Minute,
	)
	env.svc = NewPaymentService(env.payments, env.sagas, env.orch, env.enqueuer, nil)

	return env
}

// drive продвигает все поставленные в очередь саги до терминального состояния.
func (env *testEnv) drive(t *testing.T) {
	t.Helper()

	for _, sagaID := range env.enqueuer.enqueued() {
		for i := 0; ; i++ {
			require.Less(t, i, 100, "сага не достигла терминального состояния")
			done, err := env.orch.Advance(context.Background(), sagaID)
			require.NoError(t, err)
			if done {
				break
			}
		}
	}
}

func testTenant() domain.TenantContext {
	return domain.TenantContext{TenantID: "tenant-1", BusinessUnitID: "bu-1"}
}

func testRequest() domain.PaymentRequest {
	return domain.PaymentRequest{
		TenantID:           "tenant-1",
		BusinessUnitID:     "bu-1",
		SourceAccount:      "ZA0000000001",
		DestinationAccount: "ZA0000000002",
		Amount:             "1500.00",
		Currency:           "ZAR",
		Reference:          "Invoice 42",
		Type:               domain.PaymentTypeEFT,
		Priority:           domain.PriorityNormal,
		InitiatedBy:        "user-1",
		IdempotencyKey:     uuid.NewString(),
	}
}
