package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money — денежная сумма с валютой.
// Сумма хранится как десятичное число с фиксированной точкой
// (shopspring/decimal) — никакой плавающей точки в денежных расчётах.
// Операции над суммами в разных валютах возвращают ErrCurrencyMismatch.
type Money struct {
	Amount   decimal.Decimal // Сумма
	Currency string          // ISO 4217 код валюты (ZAR, USD, EUR)
}

// NewMoney создаёт денежную сумму из десятичной строки и кода валюты.
func NewMoney(amount, currency string) (Money, error) {
	if strings.TrimSpace(currency) == "" {
		return Money{}, ErrEmptyCurrency
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("некорректная сумма %q: %w", amount, err)
	}

	return Money{Amount: d, Currency: strings.ToUpper(currency)}, nil
}

// MustMoney создаёт денежную сумму и паникует при ошибке.
// Только для тестов и констант.
func MustMoney(amount, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// IsPositive возвращает true, если сумма строго больше нуля.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// IsZero возвращает true для нулевой суммы.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// sameCurrency проверяет согласованность валют двух сумм.
func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s и %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

// Add возвращает сумму двух денежных величин одной валюты.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub возвращает разность двух денежных величин одной валюты.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Neg возвращает сумму с противоположным знаком.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// Equals возвращает true для равных сумм одной валюты.
func (m Money) Equals(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// Cmp сравнивает две суммы одной валюты: -1, 0, +1.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(other.Amount), nil
}

// String возвращает представление вида "1000.00 ZAR".
func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}
