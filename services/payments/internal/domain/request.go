package domain

// PaymentRequest — запрос на инициацию платежа.
// Входной контракт InitiatePayment: суммы приходят десятичными строками,
// идентификаторы — обычными строками; типизация происходит при создании
// агрегата Payment.
type PaymentRequest struct {
	TenantID           string            // Арендатор (обязателен)
	BusinessUnitID     string            // Бизнес-подразделение
	SourceAccount      string            // Счёт списания
	DestinationAccount string            // Счёт зачисления
	Amount             string            // Сумма, десятичная строка ("1000.00")
	Currency           string            // ISO 4217 код валюты
	Reference          string            // Назначение платежа
	Type               PaymentType       // Тип платежа (EFT, RTGS, INSTANT)
	Priority           Priority          // Приоритет обработки
	InitiatedBy        string            // Инициатор
	IdempotencyKey     string            // Ключ идемпотентности (обязателен)
	Metadata           map[string]string // Произвольные метаданные для условий маршрутизации
}

// PaymentStatusView — статус платежа, видимый вызывающему через GetPayment.
// Оркестратор не протекает низкоуровневыми ошибками: наружу уходит только
// статус и причина (failureReason саги либо decisionReason удержания).
type PaymentStatusView struct {
	PaymentID string        // Идентификатор платежа
	Status    PaymentStatus // Текущий статус
	Reason    string        // Причина FAILED / HELD (пустая для остальных)
}
