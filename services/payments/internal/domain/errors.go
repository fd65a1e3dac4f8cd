// Package domain содержит бизнес-сущности ядра платёжной платформы:
// платёж, денежные суммы, типизированные идентификаторы и контекст арендатора.
package domain

import "errors"

// Доменные ошибки ядра платежей.
// Используются для передачи бизнес-ошибок между слоями приложения.
var (
	// ErrPaymentNotFound — платёж не найден.
	ErrPaymentNotFound = errors.New("платёж не найден")

	// ErrEmptyPaymentID — пустой идентификатор платежа.
	ErrEmptyPaymentID = errors.New("идентификатор платежа не может быть пустым")

	// ErrEmptyAccountNumber — пустой номер счёта.
	ErrEmptyAccountNumber = errors.New("номер счёта не может быть пустым")

	// ErrEmptyTenant — пустой идентификатор арендатора.
	ErrEmptyTenant = errors.New("идентификатор арендатора не может быть пустым")

	// ErrInvalidAmount — сумма платежа должна быть больше нуля.
	ErrInvalidAmount = errors.New("сумма платежа должна быть больше нуля")

	// ErrEmptyCurrency — не указана валюта.
	ErrEmptyCurrency = errors.New("валюта не может быть пустой")

	// ErrCurrencyMismatch — операция над суммами в разных валютах.
	ErrCurrencyMismatch = errors.New("валюты сумм не совпадают")

	// ErrSameAccount — счёт списания совпадает со счётом зачисления.
	ErrSameAccount = errors.New("счёт списания и счёт зачисления должны различаться")

	// ErrInvalidTransition — недопустимый переход состояния платежа.
	ErrInvalidTransition = errors.New("недопустимый переход состояния платежа")

	// ErrPaymentTerminal — платёж уже в терминальном статусе и заморожен.
	ErrPaymentTerminal = errors.New("платёж уже в терминальном статусе")

	// ErrDuplicatePayment — платёж с таким idempotency_key уже существует.
	ErrDuplicatePayment = errors.New("платёж с таким ключом идемпотентности уже существует")

	// ErrPaymentNotCancellable — платёж нельзя отменить в текущем статусе.
	ErrPaymentNotCancellable = errors.New("платёж нельзя отменить в текущем статусе")

	// ErrConcurrentUpdate — версия агрегата изменилась между чтением и записью.
	ErrConcurrentUpdate = errors.New("конкурентное обновление агрегата, повторите операцию")
)
