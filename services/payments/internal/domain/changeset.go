package domain

import "example.com/payments-platform/pkg/events"

// Changeset — буфер доменных событий агрегата.
// Каждая мутация агрегата добавляет одно или несколько событий; репозиторий
// при сохранении забирает их через Drain ровно один раз и пишет в outbox
// в одной транзакции БД с данными агрегата. Встраивается в агрегаты по значению.
type Changeset struct {
	pending []*events.Envelope
}

// Record добавляет событие в буфер.
func (c *Changeset) Record(e *events.Envelope) {
	c.pending = append(c.pending, e)
}

// Drain возвращает накопленные события и очищает буфер.
// Событие не может быть опубликовано дважды для одной версии агрегата:
// после Drain буфер пуст, повторный вызов возвращает nil.
func (c *Changeset) Drain() []*events.Envelope {
	drained := c.pending
	c.pending = nil
	return drained
}

// HasPending возвращает true, если в буфере есть неопубликованные события.
func (c *Changeset) HasPending() bool {
	return len(c.pending) > 0
}
