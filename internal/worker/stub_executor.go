package worker

import (
	"context"
	"fmt"
	"time"
)

// StubExecutor — исполнитель-заглушка для стендов и сквозных прогонов
// конвейера без настоящих анализаторов.
//
// Поведение управляется конфигурацией этапа в run:
//
//	sleep:      "2s"            — имитация работы указанной длительности
//	summary:    "текст"         — сводка результата
//	has_issues: true            — завершиться с замечаниями
//	fail:       "причина"       — завершиться ошибкой
//	retryable:  true            — ошибка повторяемая
type StubExecutor struct{}

// Execute реализует Executor.
func (e *StubExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if raw, ok := req.Config["sleep"].(string); ok {
		delay, err := time.ParseDuration(raw)
		if err != nil {
			return Result{}, Fatal(fmt.Sprintf("bad sleep duration %q: %v", raw, err))
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if reason, ok := req.Config["fail"].(string); ok {
		retryable, _ := req.Config["retryable"].(bool)
		return Result{}, &Error{Reason: reason, Retryable: retryable}
	}

	hasIssues, _ := req.Config["has_issues"].(bool)
	summary, _ := req.Config["summary"].(string)
	return Result{HasIssues: hasIssues, Summary: summary}, nil
}
