// Package ledger содержит транзакционное ядро платформы: агрегат Transaction
// с двойной записью (ровно одна дебетовая и одна кредитовая проводка,
// знаковая сумма равна нулю), машиной состояний и монотонным журналом
// переходов TransactionEvent.
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/payments-platform/pkg/events"
	"example.com/payments-platform/pkg/fault"
	"example.com/payments-platform/services/payments/internal/domain"
)

// Status — статус транзакции.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusProcessing Status = "PROCESSING"
	StatusClearing   Status = "CLEARING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal возвращает true, если транзакция в финальном состоянии.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// allowedTransitions определяет валидные переходы состояний транзакции.
// FAILED достижим из любого нетерминального состояния.
var allowedTransitions = map[Status][]Status{
	StatusCreated:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusClearing, StatusFailed},
	StatusClearing:   {StatusCompleted, StatusFailed},
}

// EntryType — тип проводки.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// Ошибки транзакционного ядра.
var (
	ErrTransactionNotFound = errors.New("транзакция не найдена")
	ErrUnbalancedEntries   = errors.New("проводки транзакции не сбалансированы")
)

// LedgerEntry — проводка двойной записи. Неизменяема после записи.
// balanceBefore/balanceAfter заполняются репозиторием из текущего остатка
// счёта в момент сохранения.
type LedgerEntry struct {
	ID            string
	TransactionID string
	Account       domain.AccountNumber
	EntryType     EntryType
	Amount        domain.Money
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	CreatedAt     time.Time
}

// SignedAmount возвращает сумму проводки со знаком:
// CREDIT увеличивает остаток, DEBIT уменьшает.
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	if e.EntryType == EntryDebit {
		return e.Amount.Amount.Neg()
	}
	return e.Amount.Amount
}

// TransactionEvent — запись журнала переходов транзакции.
// Sequence монотонно растёт в рамках транзакции.
type TransactionEvent struct {
	ID            string
	TransactionID string
	Sequence      int
	EventType     string
	Description   string
	CreatedAt     time.Time
}

// =============================================================================
// Transaction — агрегат транзакции
// =============================================================================

// Transaction — денежная транзакция платежа.
// Владеет проводками и журналом переходов; мутации добавляют доменные
// события в Changeset, репозиторий забирает их через DrainEvents.
type Transaction struct {
	ID                string
	PaymentID         domain.PaymentID
	Tenant            domain.TenantContext
	DebitAccount      domain.AccountNumber
	CreditAccount     domain.AccountNumber
	Amount            domain.Money
	Status            Status
	ClearingSystem    string
	ClearingReference string
	FailureReason     *string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time

	Entries []LedgerEntry
	Events  []TransactionEvent

	changes domain.Changeset
}

// transactionEventPayload — полезная нагрузка событий транзакции.
type transactionEventPayload struct {
	TransactionID     string `json:"transaction_id"`
	PaymentID         string `json:"payment_id"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	ClearingSystem    string `json:"clearing_system,omitempty"`
	ClearingReference string `json:"clearing_reference,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// NewTransaction создаёт транзакцию в статусе CREATED с парой проводок.
// Инварианты: сумма строго положительна, счёт дебета не совпадает со счётом
// кредита, контекст арендатора заполнен. Проводки материализуются сразу:
// ровно одна DEBIT и одна CREDIT, знаковая сумма равна нулю.
func NewTransaction(
	id string,
	paymentID domain.PaymentID,
	tenant domain.TenantContext,
	debit, credit domain.AccountNumber,
	amount domain.Money,
) (*Transaction, error) {
	if tenant.IsZero() {
		return nil, domain.ErrEmptyTenant
	}
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if debit == credit {
		return nil, domain.ErrSameAccount
	}

	now := time.Now()
	t := &Transaction{
		ID:            id,
		PaymentID:     paymentID,
		Tenant:        tenant,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		Status:        StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	t.Entries = []LedgerEntry{
		{
			ID:            uuid.NewString(),
			TransactionID: id,
			Account:       debit,
			EntryType:     EntryDebit,
			Amount:        amount,
			CreatedAt:     now,
		},
		{
			ID:            uuid.NewString(),
			TransactionID: id,
			Account:       credit,
			EntryType:     EntryCredit,
			Amount:        amount,
			CreatedAt:     now,
		},
	}

	t.appendEvent(string(events.TypeTransactionCreated), "")
	t.recordEvent(events.TypeTransactionCreated, "")
	return t, nil
}

// VerifyDoubleEntry проверяет инвариант двойной записи: ровно одна DEBIT
// и одна CREDIT проводка, знаковая сумма равна нулю, валюты совпадают.
func (t *Transaction) VerifyDoubleEntry() error {
	if len(t.Entries) != 2 {
		return ErrUnbalancedEntries
	}

	debits, credits := 0, 0
	sum := decimal.Zero
	for i := range t.Entries {
		entry := &t.Entries[i]
		if entry.Amount.Currency != t.Amount.Currency {
			return domain.ErrCurrencyMismatch
		}
		switch entry.EntryType {
		case EntryDebit:
			debits++
		case EntryCredit:
			credits++
		}
		sum = sum.Add(entry.SignedAmount())
	}

	if debits != 1 || credits != 1 || !sum.IsZero() {
		return ErrUnbalancedEntries
	}
	return nil
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (t *Transaction) CanTransitionTo(newStatus Status) bool {
	allowed, ok := allowedTransitions[t.Status]
	if !ok {
		return false // Терминальное состояние
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// transitionTo выполняет переход с записью в журнал переходов.
// Недопустимый переход — InvariantViolation: агрегат под подозрением,
// сага уходит в FAILED без компенсации.
func (t *Transaction) transitionTo(newStatus Status, eventType events.Type, description string) error {
	if !t.CanTransitionTo(newStatus) {
		return fault.Invariant(
			"недопустимый переход состояния транзакции",
			domain.ErrInvalidTransition,
		)
	}
	t.Status = newStatus
	t.UpdatedAt = time.Now()
	t.appendEvent(string(eventType), description)
	t.recordEvent(eventType, description)
	return nil
}

// StartProcessing переводит транзакцию в PROCESSING.
func (t *Transaction) StartProcessing() error {
	return t.transitionTo(StatusProcessing, events.TypeTransactionProcessing, "")
}

// MarkCleared фиксирует передачу в клиринг и ссылку клиринговой системы.
func (t *Transaction) MarkCleared(clearingSystem, clearingReference string) error {
	if err := t.transitionTo(StatusClearing, events.TypeTransactionCleared, clearingReference); err != nil {
		return err
	}
	t.ClearingSystem = clearingSystem
	t.ClearingReference = clearingReference
	return nil
}

// Complete завершает транзакцию.
func (t *Transaction) Complete() error {
	return t.transitionTo(StatusCompleted, events.TypeTransactionCompleted, "")
}

// Fail отменяет транзакцию с причиной. Компенсирующее действие саги
// CreateTransaction вызывает Fail вместо удаления: проводки неизменяемы,
// след остаётся в журнале.
func (t *Transaction) Fail(reason string) error {
	if err := t.transitionTo(StatusFailed, events.TypeTransactionFailed, reason); err != nil {
		return err
	}
	t.FailureReason = &reason
	return nil
}

// DrainEvents возвращает накопленные доменные события и очищает буфер.
func (t *Transaction) DrainEvents() []*events.Envelope {
	return t.changes.Drain()
}

// appendEvent добавляет запись в журнал переходов со следующим sequence.
func (t *Transaction) appendEvent(eventType, description string) {
	t.Events = append(t.Events, TransactionEvent{
		ID:            uuid.NewString(),
		TransactionID: t.ID,
		Sequence:      len(t.Events) + 1,
		EventType:     eventType,
		Description:   description,
		CreatedAt:     time.Now(),
	})
}

// recordEvent добавляет доменное событие транзакции в буфер.
func (t *Transaction) recordEvent(eventType events.Type, reason string) {
	envelope := events.New(eventType, events.AggregateTransaction, t.ID, t.Version+1).
		WithTenant(t.Tenant.TenantID, t.Tenant.BusinessUnitID).
		WithCorrelation(t.PaymentID.String(), t.PaymentID.String())

	envelope, err := envelope.WithPayload(transactionEventPayload{
		TransactionID:     t.ID,
		PaymentID:         t.PaymentID.String(),
		Amount:            t.Amount.Amount.String(),
		Currency:          t.Amount.Currency,
		Status:            string(t.Status),
		ClearingSystem:    t.ClearingSystem,
		ClearingReference: t.ClearingReference,
		Reason:            reason,
	})
	if err != nil {
		envelope = events.New(eventType, events.AggregateTransaction, t.ID, t.Version+1).
			WithTenant(t.Tenant.TenantID, t.Tenant.BusinessUnitID).
			WithCorrelation(t.PaymentID.String(), t.PaymentID.String())
	}

	t.changes.Record(envelope)
}
