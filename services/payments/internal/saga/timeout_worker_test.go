package saga

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Тесты TimeoutWorker и восстановления
// =============================================================================

func TestTimeoutWorker_CancelsExpiredSagas(t *testing.T) {
	rec := &callRecorder{}
	repo := newFakeSagaRepo()
	registry := NewRegistry()
	executor := NewExecutor(newTestRegistry(rec, nil), time.Second, testRetryPolicy())
	// Нулевой wall clock: сага просрочена сразу после создания.
	orch := NewOrchestrator(repo, registry, executor, nil, -time.Second)

	s, err := orch.Start(context.Background(), TemplatePaymentProcessing, testTenant(), "payment-1", json.RawMessage(`{}`))
	require.NoError(t, err)

	worker := NewTimeoutWorker(repo, orch, DefaultTimeoutWorkerConfig())
	worker.processExpired(context.Background())

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompensating, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, TimeoutReason, *got.FailureReason)

	// Компенсация доводит сагу до терминального состояния.
	final := driveToCompletion(t, orch, repo, s.ID)
	assert.Equal(t, StatusCompensated, final.Status)
}

func TestTimeoutWorker_SkipsActiveSagas(t *testing.T) {
	rec := &callRecorder{}
	orch, repo := newTestOrchestrator(rec, nil, nil)

	s := startTestSaga(t, orch)

	worker := NewTimeoutWorker(repo, orch, DefaultTimeoutWorkerConfig())
	worker.processExpired(context.Background())

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status, "непросроченная сага не трогается")
}

func TestRecoverPending_EnqueuesNonTerminal(t *testing.T) {
	rec := &callRecorder{}
	orch, repo := newTestOrchestrator(rec, nil, nil)

	active := startTestSaga(t, orch)

	// Вторая сага доводится до терминального состояния.
	finished, err := orch.Start(context.Background(), TemplatePaymentProcessing, testTenant(), "payment-2", json.RawMessage(`{}`))
	require.NoError(t, err)
	driveToCompletion(t, orch, repo, finished.ID)

	fake := newFakeOrchestrator()
	fake.setSteps(active.ID, 1)
	d := NewDispatcher(fake, DefaultDispatcherConfig())

	require.NoError(t, RecoverPending(context.Background(), repo, d, 100))

	// В очередь попала только незавершённая сага.
	assert.Equal(t, 1, d.InFlight(testTenant().TenantID))
}
