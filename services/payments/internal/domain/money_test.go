// Package domain содержит unit тесты для доменных сущностей ядра платежей.
package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================================
// Тесты Money
// =====================================

func TestNewMoney(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		wantErr  bool
	}{
		{name: "валидная сумма", amount: "1000.00", currency: "ZAR", wantErr: false},
		{name: "целая сумма", amount: "42", currency: "USD", wantErr: false},
		{name: "отрицательная сумма создаётся", amount: "-10.50", currency: "ZAR", wantErr: false},
		{name: "пустая валюта", amount: "10", currency: "", wantErr: true},
		{name: "мусор вместо суммы", amount: "abc", currency: "ZAR", wantErr: true},
		{name: "пустая сумма", amount: "", currency: "ZAR", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMoney(tt.amount, tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.currency, m.Currency)
		})
	}
}

func TestNewMoney_NormalizesCurrencyCase(t *testing.T) {
	m, err := NewMoney("5.00", "zar")
	require.NoError(t, err)
	assert.Equal(t, "ZAR", m.Currency)
}

func TestMoney_Add_SameCurrency(t *testing.T) {
	a := MustMoney("100.50", "ZAR")
	b := MustMoney("0.50", "ZAR")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, sum.Equals(MustMoney("101.00", "ZAR")))
}

func TestMoney_Add_CurrencyMismatch(t *testing.T) {
	a := MustMoney("100", "ZAR")
	b := MustMoney("100", "USD")

	_, err := a.Add(b)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMoney_Sub_And_Neg(t *testing.T) {
	a := MustMoney("100", "ZAR")
	b := MustMoney("30", "ZAR")

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, diff.Equals(MustMoney("70", "ZAR")))

	neg := diff.Neg()
	assert.True(t, neg.Equals(MustMoney("-70", "ZAR")))

	// Сумма со своим отрицанием даёт ноль — основа двойной записи.
	zero, err := diff.Add(neg)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func TestMoney_Cmp(t *testing.T) {
	small := MustMoney("10", "ZAR")
	big := MustMoney("20", "ZAR")

	cmp, err := small.Cmp(big)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	_, err = small.Cmp(MustMoney("10", "EUR"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMoney_DecimalPrecision(t *testing.T) {
	// 0.1 + 0.2 == 0.3 — тест на отсутствие плавающей точки в расчётах.
	a := MustMoney("0.1", "ZAR")
	b := MustMoney("0.2", "ZAR")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, sum.Equals(MustMoney("0.3", "ZAR")))
}

// =====================================
// Тесты типизированных идентификаторов
// =====================================

func TestNewPaymentID(t *testing.T) {
	id, err := NewPaymentID("pay-123")
	require.NoError(t, err)
	assert.Equal(t, "pay-123", id.String())

	_, err = NewPaymentID("   ")
	assert.ErrorIs(t, err, ErrEmptyPaymentID)
}

func TestNewAccountNumber(t *testing.T) {
	acc, err := NewAccountNumber("12345678901")
	require.NoError(t, err)
	assert.Equal(t, "12345678901", acc.String())

	_, err = NewAccountNumber("")
	assert.ErrorIs(t, err, ErrEmptyAccountNumber)
}

func TestNewTenantContext(t *testing.T) {
	tc, err := NewTenantContext("T1", "B1")
	require.NoError(t, err)
	assert.True(t, tc.Matches("T1", "B1"))
	assert.False(t, tc.Matches("T2", "B1"))
	assert.False(t, tc.IsZero())

	_, err = NewTenantContext("", "B1")
	assert.ErrorIs(t, err, ErrEmptyTenant)
}
