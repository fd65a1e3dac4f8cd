package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// Ключи для хранения значений в контексте.
// Используем приватные типы для избежания коллизий с другими пакетами.
type ctxKey string

const (
	// traceIDKey - ключ для хранения trace_id в контексте.
	// Trace ID используется для отслеживания запроса через все компоненты платформы.
	traceIDKey ctxKey = "trace_id"

	// correlationIDKey - ключ для хранения correlation_id в контексте.
	// Correlation ID связывает все операции одной бизнес-транзакции
	// (например, все шаги саги одного платежа).
	correlationIDKey ctxKey = "correlation_id"

	// tenantKey - ключ для хранения tenant_id в контексте.
	// Каждый запрос к ядру выполняется от имени конкретного арендатора;
	// tenant_id обязан присутствовать во всех логах обработки платежа.
	tenantKey ctxKey = "tenant_id"

	// businessUnitKey - ключ для хранения business_unit_id в контексте.
	businessUnitKey ctxKey = "business_unit_id"

	// loggerKey - ключ для хранения логгера в контексте.
	// Позволяет передавать настроенный логгер через context.
	loggerKey ctxKey = "logger"
)

// WithTraceID добавляет trace_id в контекст.
// Trace ID должен быть уникальным идентификатором запроса,
// обычно генерируется на входе в систему.
//
// Пример:
//
//	ctx = logger.WithTraceID(ctx, "abc-123-def")
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext извлекает trace_id из контекста.
// Возвращает пустую строку, если trace_id не установлен.
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithCorrelationID добавляет correlation_id в контекст.
// Correlation ID используется для связывания нескольких операций,
// относящихся к одному платежу / одной саге.
//
// Пример:
//
//	ctx = logger.WithCorrelationID(ctx, payment.ID.String())
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext извлекает correlation_id из контекста.
// Возвращает пустую строку, если correlation_id не установлен.
func CorrelationIDFromContext(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

// WithTenant добавляет tenant_id и business_unit_id в контекст.
// Изоляция арендаторов — глобальный инвариант платформы: каждый лог
// обработки платежа должен нести идентификатор арендатора.
//
// Пример:
//
//	ctx = logger.WithTenant(ctx, "T1", "B1")
func WithTenant(ctx context.Context, tenantID, businessUnitID string) context.Context {
	if tenantID != "" {
		ctx = context.WithValue(ctx, tenantKey, tenantID)
	}
	if businessUnitID != "" {
		ctx = context.WithValue(ctx, businessUnitKey, businessUnitID)
	}
	return ctx
}

// TenantFromContext извлекает tenant_id из контекста.
// Возвращает пустую строку, если tenant_id не установлен.
func TenantFromContext(ctx context.Context) string {
	if tenantID, ok := ctx.Value(tenantKey).(string); ok {
		return tenantID
	}
	return ""
}

// BusinessUnitFromContext извлекает business_unit_id из контекста.
func BusinessUnitFromContext(ctx context.Context) string {
	if bu, ok := ctx.Value(businessUnitKey).(string); ok {
		return bu
	}
	return ""
}

// WithLogger добавляет логгер в контекст.
// Полезно для передачи настроенного логгера через слои приложения.
//
// Пример:
//
//	log := logger.With().Str("component", "routing-engine").Logger()
//	ctx = logger.WithLogger(ctx, log)
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext извлекает логгер из контекста и автоматически добавляет
// trace_id, correlation_id и tenant_id, если они присутствуют в контексте.
//
// Если логгер не был явно добавлен в контекст, возвращает глобальный логгер.
// Это основной способ получения логгера в сервисах и воркерах.
//
// Пример:
//
//	func (s *Service) InitiatePayment(ctx context.Context, req *PaymentRequest) error {
//	    log := logger.FromContext(ctx)
//	    log.Info().Str("payment_id", req.ID).Msg("Начало обработки платежа")
//	    // ...
//	}
func FromContext(ctx context.Context) zerolog.Logger {
	// Пытаемся получить логгер из контекста.
	var l zerolog.Logger
	if ctxLogger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		l = ctxLogger
	} else {
		// Используем глобальный логгер, если в контексте его нет.
		l = log
	}

	// Добавляем trace_id, если он есть в контексте.
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		l = l.With().Str("trace_id", traceID).Logger()
	}

	// Добавляем correlation_id, если он есть в контексте.
	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		l = l.With().Str("correlation_id", correlationID).Logger()
	}

	// Добавляем идентификаторы арендатора, если они есть в контексте.
	if tenantID := TenantFromContext(ctx); tenantID != "" {
		l = l.With().Str("tenant_id", tenantID).Logger()
	}
	if bu := BusinessUnitFromContext(ctx); bu != "" {
		l = l.With().Str("business_unit_id", bu).Logger()
	}

	return l
}

// Ctx возвращает указатель на zerolog.Logger из контекста.
// Это альтернативный способ использования, совместимый с zerolog.Ctx().
//
// Пример:
//
//	log := logger.Ctx(ctx)
//	log.Info().Msg("Сообщение")
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

// NewContextWithIDs создает контекст с trace_id и correlation_id.
// Используется консьюмерами при восстановлении контекста из заголовков сообщений.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}
