package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_ClassifiedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"transient", Transient("таймаут клиринга", nil), KindTransient},
		{"permanent", Permanent("платёж отклонён", nil), KindPermanent},
		{"invariant", Invariant("нарушение двойной записи", nil), KindInvariantViolation},
		{"compensation", Compensation("release не удался", nil), KindCompensationFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestKindOf_WrappedError(t *testing.T) {
	// Классификация должна пробиваться через обёртки fmt.Errorf %w.
	inner := Permanent("авторитетный NACK от клиринга", errors.New("NACK"))
	wrapped := fmt.Errorf("шаг SubmitToClearing: %w", inner)

	assert.Equal(t, KindPermanent, KindOf(wrapped))
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsTransient(wrapped))
}

func TestKindOf_ContextErrors(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTransient, KindOf(context.Canceled))
}

func TestKindOf_UnknownErrorIsTransient(t *testing.T) {
	// Неклассифицированная ошибка повторяется: шаги идемпотентны.
	err := errors.New("connection reset by peer")
	assert.True(t, IsTransient(err))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := Transient("клиринговая система недоступна", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "TRANSIENT")
	assert.Contains(t, err.Error(), "клиринговая система недоступна")
}

func TestReason(t *testing.T) {
	t.Run("классифицированная ошибка возвращает сообщение", func(t *testing.T) {
		err := Permanent("Payment reference is required", nil)
		assert.Equal(t, "Payment reference is required", Reason(err))
	})

	t.Run("обычная ошибка возвращает полный текст", func(t *testing.T) {
		err := errors.New("что-то сломалось")
		assert.Equal(t, "что-то сломалось", Reason(err))
	})

	t.Run("nil возвращает пустую строку", func(t *testing.T) {
		assert.Equal(t, "", Reason(nil))
	})
}
