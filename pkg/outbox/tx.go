package outbox

import (
	"gorm.io/gorm"

	"example.com/payments-platform/pkg/events"
)

// InsertEnvelopesTx пишет конверты доменных событий в outbox внутри
// переданной транзакции БД. Используется репозиториями агрегатов:
// бизнес-данные и события фиксируются одним коммитом, событие не может
// потеряться между записью агрегата и публикацией.
func InsertEnvelopesTx(tx *gorm.DB, envelopes []*events.Envelope) error {
	for _, envelope := range envelopes {
		record, err := FromEnvelope(envelope)
		if err != nil {
			return err
		}
		if err := tx.Create(ModelFromDomain(record)).Error; err != nil {
			return err
		}
	}
	return nil
}
