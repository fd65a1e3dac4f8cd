// Package logger — структурированное логирование платформы на zerolog.
// JSON в production, pretty-print в development; сообщения на русском.
// Помимо глобального логгера пакет несёт контекстные помощники
// (trace_id, correlation_id, tenant_id) — см. context.go.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Config — настройки логгера.
type Config struct {
	// Level — минимальный уровень: "debug", "info", "warn", "error".
	Level string

	// Pretty включает цветной консольный вывод для разработки;
	// иначе — JSON.
	Pretty bool

	// Output — назначение вывода, по умолчанию os.Stdout.
	Output io.Writer
}

// Логгер пригоден к использованию сразу после импорта: до вызова Init
// настройки берутся из LOG_LEVEL / LOG_PRETTY.
func init() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	Init(Config{
		Level:  level,
		Pretty: strings.EqualFold(os.Getenv("LOG_PRETTY"), "true"),
	})
}

// Init настраивает глобальный логгер. Вызывается из main после загрузки
// конфигурации; повторный вызов полностью пересоздаёт логгер.
func Init(cfg Config) {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level := parseLevel(cfg.Level)

	log = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
}

// parseLevel разбирает уровень; неизвестное значение трактуется как info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug — событие уровня debug (детали оценки правил, чтение Kafka).
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info — событие уровня info.
func Info() *zerolog.Event {
	return log.Info()
}

// Warn — событие уровня warn (повторы шагов, деградация Redis).
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error — событие уровня error.
func Error() *zerolog.Event {
	return log.Error()
}

// Fatal — событие уровня fatal; после Msg() процесс завершается с кодом 1.
// Используется только в main при недоступности обязательных зависимостей.
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// With возвращает контекст для производного логгера с постоянными полями:
//
//	workerLog := logger.With().Str("component", "saga-dispatcher").Logger()
func With() zerolog.Context {
	return log.With()
}

// Logger отдаёт глобальный экземпляр — для передачи в чужие API.
func Logger() zerolog.Logger {
	return log
}
