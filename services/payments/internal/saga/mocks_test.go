// Тестовые двойники пакета saga: in-memory репозиторий и сборка
// оркестратора с обработчиками-заглушками.
package saga

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/payments-platform/services/payments/internal/domain"
)

// =============================================================================
// fakeSagaRepo — in-memory реализация SagaRepository
// =============================================================================

type fakeSagaRepo struct {
	mu    sync.Mutex
	sagas map[string]*Saga

	// saveErr возвращается следующим вызовом Save ровно один раз.
	saveErr error
	saves   int
}

func newFakeSagaRepo() *fakeSagaRepo {
	return &fakeSagaRepo{sagas: make(map[string]*Saga)}
}

// snapshot копирует сагу: репозиторий хранит и отдаёт копии, как настоящий —
// мутации несохранённой саги не протекают в хранилище.
func snapshot(s *Saga) *Saga {
	copied := *s
	copied.Steps = make([]Step, len(s.Steps))
	copy(copied.Steps, s.Steps)
	copied.Events = make([]SagaEvent, len(s.Events))
	copy(copied.Events, s.Events)
	return &copied
}

func (r *fakeSagaRepo) Create(_ context.Context, s *Saga) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Version == 0 {
		s.Version = 1
	}
	s.DrainEvents()
	r.sagas[s.ID] = snapshot(s)
	return nil
}

func (r *fakeSagaRepo) Save(_ context.Context, s *Saga) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		err := r.saveErr
		r.saveErr = nil
		return err
	}
	stored, ok := r.sagas[s.ID]
	if !ok {
		return ErrSagaNotFound
	}
	if stored.Version != s.Version {
		return domain.ErrConcurrentUpdate
	}
	r.saves++
	s.Version++
	s.DrainEvents()
	r.sagas[s.ID] = snapshot(s)
	return nil
}

func (r *fakeSagaRepo) GetByID(_ context.Context, id string) (*Saga, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sagas[id]
	if !ok {
		return nil, ErrSagaNotFound
	}
	return snapshot(s), nil
}

func (r *fakeSagaRepo) GetByBusinessKey(_ context.Context, tenant domain.TenantContext, businessKey string) (*Saga, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sagas {
		if s.BusinessKey == businessKey && s.Tenant.TenantID == tenant.TenantID {
			return snapshot(s), nil
		}
	}
	return nil, ErrSagaNotFound
}

func (r *fakeSagaRepo) ListNonTerminalIDs(_ context.Context, limit int) ([]string, error) {
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

func (r *fakeSagaRepo) ListExpiredIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
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

// =============================================================================
// callRecorder — журнал вызовов обработчиков шагов
// =============================================================================

type recordedCall struct {
	key    string // "service.action" либо "service.action:comp"
	sagaID string
	stepID string
}

type callRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (c *callRecorder) record(key, sagaID, stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, recordedCall{key: key, sagaID: sagaID, stepID: stepID})
}

func (c *callRecorder) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, len(c.calls))
	for i, call := range c.calls {
		keys[i] = call.key
	}
	return keys
}

func (c *callRecorder) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.key == key {
			n++
		}
	}
	return n
}

func (c *callRecorder) callsFor(key string) []recordedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []recordedCall
	for _, call := range c.calls {
		if call.key == key {
			out = append(out, call)
		}
	}
	return out
}

// =============================================================================
// Сборка оркестратора для тестов
// =============================================================================

// stubOverride переопределяет действие или компенсацию одного шага.
type stubOverride struct {
	action       ActionFunc
	compensation CompensationFunc
}

// newTestRegistry привязывает все действия шаблона PAYMENT_PROCESSING
// к успешным заглушкам, записывающим вызовы. overrides заменяют
// отдельные привязки.
func newTestRegistry(rec *callRecorder, overrides map[string]stubOverride) *HandlerRegistry {
	registry := NewHandlerRegistry()

	bindings := []struct {
		service string
		action  string
		comp    string
	}{
		{ServiceValidation, "validate", ""},
		{ServiceAccount, "reserve", "release"},
		{ServiceRouting, "decide", ""},
		{ServiceLedger, "create", "fail"},
		{ServiceClearing, "submit", "reverse"},
		{ServiceSettlement, "await", "cancel"},
		{ServiceLedger, "complete", "fail-completed"},
		{ServiceNotification, "send", ""},
	}

	for _, b := range bindings {
		key := b.service + "." + b.action
		action := ActionFunc(func(_ context.Context, req StepRequest) (string, error) {
			rec.record(key, req.SagaID, req.StepID)
			return "", nil
		})
		if o, ok := overrides[key]; ok && o.action != nil {
			inner := o.action
			action = func(ctx context.Context, req StepRequest) (string, error) {
				rec.record(key, req.SagaID, req.StepID)
				return inner(ctx, req)
			}
		}
		registry.RegisterAction(b.service, b.action, action)

		if b.comp == "" {
			continue
		}
		compKey := b.service + "." + b.comp
		comp := CompensationFunc(func(_ context.Context, req StepRequest, _ string) error {
			rec.record(compKey, req.SagaID, req.StepID)
			return nil
		})
		if o, ok := overrides[compKey]; ok && o.compensation != nil {
			inner := o.compensation
			comp = func(ctx context.Context, req StepRequest, original string) error {
				rec.record(compKey, req.SagaID, req.StepID)
				return inner(ctx, req, original)
			}
		}
		registry.RegisterCompensation(b.service, b.comp, comp)
	}

	return registry
}

// testRetryPolicy — быстрая политика повторов для тестов.
func testRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:        time.Millisecond,
		Factor:      2,
		Cap:         10 * time.Millisecond,
		MaxAttempts: 3,
	}
}

// newTestOrchestrator собирает оркестратор с fake-репозиторием
// и заглушками обработчиков.
func newTestOrchestrator(rec *callRecorder, overrides map[string]stubOverride, finalizer Finalizer) (Orchestrator, *fakeSagaRepo) {
	repo := newFakeSagaRepo()
	registry := NewRegistry()
	executor := NewExecutor(newTestRegistry(rec, overrides), time.Second, testRetryPolicy())
	orch := NewOrchestrator(repo, registry, executor, finalizer, 5*time.Minute)
	return orch, repo
}

// startTestSaga создаёт сагу PAYMENT_PROCESSING.
func startTestSaga(t *testing.T, orch Orchestrator) *Saga {
	t.Helper()

	s, err := orch.Start(context.Background(), TemplatePaymentProcessing, testTenant(), "payment-1", json.RawMessage(`{"amount":"100.00"}`))
	require.NoError(t, err)
	return s
}

// driveToCompletion продвигает сагу до терминального состояния
// и возвращает её финальное состояние из репозитория.
func driveToCompletion(t *testing.T, orch Orchestrator, repo SagaRepository, sagaID string) *Saga {
	t.Helper()

	for i := 0; i < 100; i++ {
		done, err := orch.Advance(context.Background(), sagaID)
		require.NoError(t, err)
		if done {
			final, err := repo.GetByID(context.Background(), sagaID)
			require.NoError(t, err)
			return final
		}
	}
	t.Fatal("сага не достигла терминального состояния за 100 продвижений")
	return nil
}
