package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_NewFillsHeader(t *testing.T) {
	e := New(TypeSagaStarted, AggregateSaga, "saga-1", 1)

	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, TypeSagaStarted, e.Type)
	assert.Equal(t, AggregateSaga, e.AggregateType)
	assert.Equal(t, "saga-1", e.AggregateID)
	assert.Equal(t, int64(1), e.AggregateVersion)
	assert.WithinDuration(t, time.Now().UTC(), e.OccurredAt, time.Second)
}

func TestEnvelope_UniqueEventIDs(t *testing.T) {
	// event_id — ключ дедупликации консьюмера, обязан быть уникальным.
	a := New(TypePaymentInitiated, AggregatePayment, "p-1", 1)
	b := New(TypePaymentInitiated, AggregatePayment, "p-1", 1)
	assert.NotEqual(t, a.EventID, b.EventID)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	e := New(TypeSagaStepCompleted, AggregateSaga, "saga-7", 3).
		WithTenant("T1", "B1").
		WithCorrelation("payment-42", "corr-42")
	e, err := e.WithPayload(map[string]string{"step": "ReserveFunds"})
	require.NoError(t, err)

	data, err := e.ToJSON()
	require.NoError(t, err)

	parsed, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, e.EventID, parsed.EventID)
	assert.Equal(t, TypeSagaStepCompleted, parsed.Type)
	assert.Equal(t, "T1", parsed.TenantID)
	assert.Equal(t, "B1", parsed.BusinessUnitID)
	assert.Equal(t, "payment-42", parsed.BusinessKey)
	assert.Equal(t, "corr-42", parsed.CorrelationID)
	assert.JSONEq(t, `{"step":"ReserveFunds"}`, string(parsed.Payload))
}

func TestIsKnown(t *testing.T) {
	// Набор событий закрытый: агрегаты обязаны использовать только его.
	assert.True(t, IsKnown(TypePaymentCompleted))
	assert.True(t, IsKnown(TypeSagaCompensated))
	assert.False(t, IsKnown(Type("OrderShipped")))
}

func TestClearingReply_RoundTrip(t *testing.T) {
	reply := &ClearingReply{
		ClearingReference: "clr-123",
		Status:            ClearingReplySettled,
		SettledAt:         time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}

	data, err := reply.ToJSON()
	require.NoError(t, err)

	parsed, err := ClearingReplyFromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, "clr-123", parsed.ClearingReference)
	assert.True(t, parsed.IsSettled())
}

func TestClearingReply_Rejected(t *testing.T) {
	reply := &ClearingReply{
		ClearingReference: "clr-456",
		Status:            ClearingReplyRejected,
		Error:             "insufficient liquidity",
	}

	data, err := reply.ToJSON()
	require.NoError(t, err)

	parsed, err := ClearingReplyFromJSON(data)
	require.NoError(t, err)

	assert.False(t, parsed.IsSettled())
	assert.Equal(t, "insufficient liquidity", parsed.Error)
}

func TestClearingSubmission_InvalidJSON(t *testing.T) {
	_, err := ClearingSubmissionFromJSON([]byte("не json"))
	assert.Error(t, err)
}
