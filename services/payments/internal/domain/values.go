package domain

import "strings"

// =============================================================================
// Типизированные идентификаторы
// Все идентификаторы — непрозрачные строки с конструктором, отклоняющим
// пустой ввод. Типы не дают перепутать paymentId с номером счёта в сигнатурах.
// =============================================================================

// PaymentID — идентификатор платежа.
type PaymentID string

// NewPaymentID создаёт идентификатор платежа, отклоняя пустой ввод.
func NewPaymentID(s string) (PaymentID, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrEmptyPaymentID
	}
	return PaymentID(s), nil
}

// String возвращает строковое представление идентификатора.
func (id PaymentID) String() string {
	return string(id)
}

// AccountNumber — номер счёта.
type AccountNumber string

// NewAccountNumber создаёт номер счёта, отклоняя пустой ввод.
func NewAccountNumber(s string) (AccountNumber, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrEmptyAccountNumber
	}
	return AccountNumber(s), nil
}

// String возвращает строковое представление номера счёта.
func (a AccountNumber) String() string {
	return string(a)
}

// =============================================================================
// TenantContext — двухуровневая область видимости арендатора
// =============================================================================

// TenantContext — контекст арендатора, передаваемый явно в каждом запросе.
// Изоляция арендаторов — глобальный инвариант: каждый запрос к хранилищу
// ограничен парой (tenantId, businessUnitId), чтение чужих агрегатов запрещено.
type TenantContext struct {
	TenantID       string // Арендатор (обязателен)
	BusinessUnitID string // Бизнес-подразделение (может быть пустым)
}

// NewTenantContext создаёт контекст арендатора, отклоняя пустой tenantId.
func NewTenantContext(tenantID, businessUnitID string) (TenantContext, error) {
	if strings.TrimSpace(tenantID) == "" {
		return TenantContext{}, ErrEmptyTenant
	}
	return TenantContext{TenantID: tenantID, BusinessUnitID: businessUnitID}, nil
}

// Matches возвращает true, если агрегат с указанной парой принадлежит
// этому контексту арендатора.
func (t TenantContext) Matches(tenantID, businessUnitID string) bool {
	return t.TenantID == tenantID && t.BusinessUnitID == businessUnitID
}

// IsZero возвращает true для незаполненного контекста.
func (t TenantContext) IsZero() bool {
	return t.TenantID == ""
}
