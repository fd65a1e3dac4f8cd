package events

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Сообщения обмена с клиринговыми адаптерами
// (ядро → адаптер: заявка; адаптер → ядро: подтверждение расчёта)
// =============================================================================

// ClearingReplyStatus — статус подтверждения от клиринговой системы.
type ClearingReplyStatus string

const (
	// ClearingReplySettled — расчёт подтверждён.
	ClearingReplySettled ClearingReplyStatus = "SETTLED"

	// ClearingReplyRejected — расчёт отклонён клиринговой системой.
	ClearingReplyRejected ClearingReplyStatus = "REJECTED"
)

// ClearingSubmission — заявка на клиринг, публикуемая loopback-адаптером
// (или внешним адаптером) в топик clearing.commands.
type ClearingSubmission struct {
	ClearingReference string    `json:"clearing_reference"` // Ссылка клиринга (корреляция ответа)
	TransactionID     string    `json:"transaction_id"`
	PaymentID         string    `json:"payment_id"`
	TenantID          string    `json:"tenant_id"`
	ClearingSystem    string    `json:"clearing_system"` // Целевая система (BANKSERV_EFT, SAMOS, ...)
	Amount            string    `json:"amount"`          // Десятичная строка
	Currency          string    `json:"currency"`
	Timestamp         time.Time `json:"timestamp"`
}

// ToJSON сериализует заявку в JSON.
func (s *ClearingSubmission) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ClearingSubmissionFromJSON десериализует заявку из JSON.
func ClearingSubmissionFromJSON(data []byte) (*ClearingSubmission, error) {
	var s ClearingSubmission
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ClearingReply — подтверждение расчёта из топика clearing.replies.
// Трекер расчётов сопоставляет его с ожидающим шагом AwaitSettlement
// по clearing_reference.
type ClearingReply struct {
	ClearingReference string              `json:"clearing_reference"`
	Status            ClearingReplyStatus `json:"status"`
	Error             string              `json:"error,omitempty"` // Текст ошибки при REJECTED
	SettledAt         time.Time           `json:"settled_at"`
}

// ToJSON сериализует подтверждение в JSON.
func (r *ClearingReply) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// ClearingReplyFromJSON десериализует подтверждение из JSON.
func ClearingReplyFromJSON(data []byte) (*ClearingReply, error) {
	var r ClearingReply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// IsSettled возвращает true, если расчёт подтверждён.
func (r *ClearingReply) IsSettled() bool {
	return r.Status == ClearingReplySettled
}
