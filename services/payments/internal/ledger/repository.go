package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/payments-platform/pkg/outbox"
	"example.com/payments-platform/services/payments/internal/domain"
)

// TransactionRepository определяет интерфейс транзакционного хранилища.
type TransactionRepository interface {
	// Create сохраняет новую транзакцию с проводками и журналом переходов.
	// Перед записью повторно проверяется инвариант двойной записи; остатки
	// проводок заполняются из текущего остатка счёта в той же транзакции БД.
	// Доменные события уходят в outbox тем же коммитом.
	Create(ctx context.Context, txn *Transaction) error

	// Save сохраняет изменения транзакции с проверкой версии (Optimistic
	// Locking). При конфликте версий возвращает ErrConcurrentUpdate.
	Save(ctx context.Context, txn *Transaction) error

	// GetByID возвращает транзакцию с проводками и журналом переходов.
	GetByID(ctx context.Context, tenant domain.TenantContext, id string) (*Transaction, error)

	// GetByPaymentID возвращает транзакцию платежа.
	GetByPaymentID(ctx context.Context, tenant domain.TenantContext, paymentID domain.PaymentID) (*Transaction, error)

	// AccountBalance возвращает остаток счёта: знаковая сумма проводок.
	// Используется сверкой (reconciliation).
	AccountBalance(ctx context.Context, tenant domain.TenantContext, account domain.AccountNumber) (decimal.Decimal, error)
}

// =============================================================================
// GORM модели
// =============================================================================

// TransactionModel — GORM модель для таблицы transactions.
type TransactionModel struct {
	ID                string                  `gorm:"column:id;type:varchar(36);primaryKey"`
	PaymentID         string                  `gorm:"column:payment_id;type:varchar(36);not null;uniqueIndex"`
	TenantID          string                  `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_txn_tenant"`
	BusinessUnitID    string                  `gorm:"column:business_unit_id;type:varchar(64);index:idx_txn_tenant"`
	DebitAccount      string                  `gorm:"column:debit_account;type:varchar(34);not null"`
	CreditAccount     string                  `gorm:"column:credit_account;type:varchar(34);not null"`
	Amount            decimal.Decimal         `gorm:"column:amount;type:decimal(19,4);not null"`
	Currency          string                  `gorm:"column:currency;type:varchar(3);not null"`
	Status            string                  `gorm:"column:status;type:varchar(20);not null;index"`
	ClearingSystem    *string                 `gorm:"column:clearing_system;type:varchar(64)"`
	ClearingReference *string                 `gorm:"column:clearing_reference;type:varchar(64)"`
	FailureReason     *string                 `gorm:"column:failure_reason;type:text"`
	Version           int64                   `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
	Entries           []LedgerEntryModel      `gorm:"foreignKey:TransactionID;references:ID"`
	Events            []TransactionEventModel `gorm:"foreignKey:TransactionID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (TransactionModel) TableName() string {
	return "transactions"
}

// LedgerEntryModel — GORM модель для таблицы ledger_entries.
// Проводки неизменяемы: модель только создаётся, никогда не обновляется.
type LedgerEntryModel struct {
	ID            string          `gorm:"column:id;type:varchar(36);primaryKey"`
	TransactionID string          `gorm:"column:transaction_id;type:varchar(36);not null;index"`
	TenantID      string          `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_entries_account"`
	Account       string          `gorm:"column:account_number;type:varchar(34);not null;index:idx_entries_account"`
	EntryType     string          `gorm:"column:entry_type;type:varchar(6);not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(19,4);not null"`
	Currency      string          `gorm:"column:currency;type:varchar(3);not null"`
	BalanceBefore decimal.Decimal `gorm:"column:balance_before;type:decimal(19,4);not null"`
	BalanceAfter  decimal.Decimal `gorm:"column:balance_after;type:decimal(19,4);not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (LedgerEntryModel) TableName() string {
	return "ledger_entries"
}

// TransactionEventModel — GORM модель для таблицы transaction_events.
type TransactionEventModel struct {
	ID            string    `gorm:"column:id;type:varchar(36);primaryKey"`
	TransactionID string    `gorm:"column:transaction_id;type:varchar(36);not null;index:idx_txn_events,unique"`
	Sequence      int       `gorm:"column:sequence;not null;index:idx_txn_events,unique"`
	EventType     string    `gorm:"column:event_type;type:varchar(64);not null"`
	Description   string    `gorm:"column:description;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (TransactionEventModel) TableName() string {
	return "transaction_events"
}

// toDomain конвертирует GORM модель транзакции в доменную сущность.
func (m *TransactionModel) toDomain() *Transaction {
	t := &Transaction{
		ID:            m.ID,
		PaymentID:     domain.PaymentID(m.PaymentID),
		Tenant:        domain.TenantContext{TenantID: m.TenantID, BusinessUnitID: m.BusinessUnitID},
		DebitAccount:  domain.AccountNumber(m.DebitAccount),
		CreditAccount: domain.AccountNumber(m.CreditAccount),
		Amount:        domain.Money{Amount: m.Amount, Currency: m.Currency},
		Status:        Status(m.Status),
		FailureReason: m.FailureReason,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Entries:       make([]LedgerEntry, len(m.Entries)),
		Events:        make([]TransactionEvent, len(m.Events)),
	}

	if m.ClearingSystem != nil {
		t.ClearingSystem = *m.ClearingSystem
	}
	if m.ClearingReference != nil {
		t.ClearingReference = *m.ClearingReference
	}

	for i, e := range m.Entries {
		t.Entries[i] = LedgerEntry{
			ID:            e.ID,
			TransactionID: e.TransactionID,
			Account:       domain.AccountNumber(e.Account),
			EntryType:     EntryType(e.EntryType),
			Amount:        domain.Money{Amount: e.Amount, Currency: e.Currency},
			BalanceBefore: e.BalanceBefore,
			BalanceAfter:  e.BalanceAfter,
			CreatedAt:     e.CreatedAt,
		}
	}

	for i, e := range m.Events {
		t.Events[i] = TransactionEvent{
			ID:            e.ID,
			TransactionID: e.TransactionID,
			Sequence:      e.Sequence,
			EventType:     e.EventType,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		}
	}

	return t
}

// modelFromDomain конвертирует доменную сущность в GORM модель (без связей).
func modelFromDomain(t *Transaction) *TransactionModel {
	model := &TransactionModel{
		ID:             t.ID,
		PaymentID:      t.PaymentID.String(),
		TenantID:       t.Tenant.TenantID,
		BusinessUnitID: t.Tenant.BusinessUnitID,
		DebitAccount:   t.DebitAccount.String(),
		CreditAccount:  t.CreditAccount.String(),
		Amount:         t.Amount.Amount,
		Currency:       t.Amount.Currency,
		Status:         string(t.Status),
		FailureReason:  t.FailureReason,
		Version:        t.Version,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}

	if t.ClearingSystem != "" {
		model.ClearingSystem = &t.ClearingSystem
	}
	if t.ClearingReference != "" {
		model.ClearingReference = &t.ClearingReference
	}
	return model
}

// eventModelFromDomain конвертирует запись журнала переходов в GORM модель.
func eventModelFromDomain(e *TransactionEvent) *TransactionEventModel {
	return &TransactionEventModel{
		ID:            e.ID,
		TransactionID: e.TransactionID,
		Sequence:      e.Sequence,
		EventType:     e.EventType,
		Description:   e.Description,
		CreatedAt:     e.CreatedAt,
	}
}

// =============================================================================
// GORM реализация
// =============================================================================

// transactionRepository — GORM реализация TransactionRepository.
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository создаёт репозиторий транзакций.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// Create сохраняет новую транзакцию атомарно: проводки с заполненными
// остатками, журнал переходов и записи outbox — один коммит.
func (r *transactionRepository) Create(ctx context.Context, txn *Transaction) error {
	// Инвариант двойной записи проверяется повторно на границе хранилища:
	// несбалансированная транзакция не должна попасть в БД ни при каком
	// пути через ядро.
	if err := txn.VerifyDoubleEntry(); err != nil {
		return err
	}

	if txn.Version == 0 {
		txn.Version = 1
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(modelFromDomain(txn)).Error; err != nil {
			return err
		}

		for i := range txn.Entries {
			entry := &txn.Entries[i]

			// Остаток счёта в момент проводки: balance_after последней
			// проводки счёта. FOR UPDATE сериализует конкурентные проводки
			// по одному счёту.
			var last LedgerEntryModel
			balanceBefore := decimal.Zero
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("tenant_id = ? AND account_number = ?", txn.Tenant.TenantID, entry.Account.String()).
				Order("created_at DESC, id DESC").
				First(&last).Error
			switch {
			case err == nil:
				balanceBefore = last.BalanceAfter
			case errors.Is(err, gorm.ErrRecordNotFound):
				// Первая проводка счёта — остаток нулевой
			default:
				return err
			}

			entry.BalanceBefore = balanceBefore
			entry.BalanceAfter = balanceBefore.Add(entry.SignedAmount())

			if err := tx.Create(&LedgerEntryModel{
				ID:            entry.ID,
				TransactionID: entry.TransactionID,
				TenantID:      txn.Tenant.TenantID,
				Account:       entry.Account.String(),
				EntryType:     string(entry.EntryType),
				Amount:        entry.Amount.Amount,
				Currency:      entry.Amount.Currency,
				BalanceBefore: entry.BalanceBefore,
				BalanceAfter:  entry.BalanceAfter,
				CreatedAt:     entry.CreatedAt,
			}).Error; err != nil {
				return err
			}
		}

		for i := range txn.Events {
			if err := tx.Create(eventModelFromDomain(&txn.Events[i])).Error; err != nil {
				return err
			}
		}

		return outbox.InsertEnvelopesTx(tx, txn.DrainEvents())
	})
}

// Save сохраняет изменения транзакции с проверкой версии.
// Новые записи журнала переходов добавляются идемпотентно (по первичному
// ключу); проводки после создания не меняются.
func (r *transactionRepository) Save(ctx context.Context, txn *Transaction) error {
	loadedVersion := txn.Version

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":     string(txn.Status),
			"version":    loadedVersion + 1,
			"updated_at": time.Now(),
		}
		if txn.ClearingSystem != "" {
			updates["clearing_system"] = txn.ClearingSystem
		}
		if txn.ClearingReference != "" {
			updates["clearing_reference"] = txn.ClearingReference
		}
		if txn.FailureReason != nil {
			updates["failure_reason"] = *txn.FailureReason
		}

		result := tx.Model(&TransactionModel{}).
			Where("id = ? AND version = ?", txn.ID, loadedVersion).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConcurrentUpdate
		}
		txn.Version = loadedVersion + 1

		for i := range txn.Events {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(eventModelFromDomain(&txn.Events[i])).Error; err != nil {
				return err
			}
		}

		return outbox.InsertEnvelopesTx(tx, txn.DrainEvents())
	})
}

// GetByID возвращает транзакцию с проводками и журналом переходов.
func (r *transactionRepository) GetByID(ctx context.Context, tenant domain.TenantContext, id string) (*Transaction, error) {
	return r.getOne(ctx, tenant, "id = ?", id)
}

// GetByPaymentID возвращает транзакцию платежа.
func (r *transactionRepository) GetByPaymentID(ctx context.Context, tenant domain.TenantContext, paymentID domain.PaymentID) (*Transaction, error) {
	return r.getOne(ctx, tenant, "payment_id = ?", paymentID.String())
}

func (r *transactionRepository) getOne(ctx context.Context, tenant domain.TenantContext, query string, arg any) (*Transaction, error) {
	var model TransactionModel

	if err := r.db.WithContext(ctx).
		Preload("Entries").
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		Where(query, arg).
		Where("tenant_id = ?", tenant.TenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// AccountBalance возвращает остаток счёта как знаковую сумму проводок.
func (r *transactionRepository) AccountBalance(ctx context.Context, tenant domain.TenantContext, account domain.AccountNumber) (decimal.Decimal, error) {
	var raw *string

	err := r.db.WithContext(ctx).
		Model(&LedgerEntryModel{}).
		Select("SUM(CASE WHEN entry_type = 'CREDIT' THEN amount ELSE -amount END)").
		Where("tenant_id = ? AND account_number = ?", tenant.TenantID, account.String()).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}
