package telemetry

import (
	"log/slog"
	"os"

	"github.com/shaiso/Cascade/internal/domain"
)

// LogLevel определяет уровень логирования из переменной окружения.
// Возможные значения: DEBUG, INFO, WARN, ERROR
// По умолчанию: INFO
func LogLevel() slog.Level {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер.
//
// Формат вывода определяется переменной LOG_FORMAT:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый формат для разработки
func SetupLogger() *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     LogLevel(),
		AddSource: LogLevel() == slog.LevelDebug,
	}

	format := os.Getenv("LOG_FORMAT")
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// WithRun возвращает логгер с полями run_id и trace_id.
func WithRun(logger *slog.Logger, runID int64, traceID string) *slog.Logger {
	return logger.With("run_id", runID, "trace_id", traceID)
}

// WithJob возвращает логгер с полями job_id и stage.
func WithJob(logger *slog.Logger, jobID int64, stage domain.Stage) *slog.Logger {
	return logger.With("job_id", jobID, "stage", stage)
}
