package worker

import (
	"context"
	"errors"

	"github.com/shaiso/Cascade/internal/domain"
)

// Request — один запрос на выполнение этапа.
type Request struct {
	// JobID — идентификатор job в state store.
	JobID int64

	// RunID — идентификатор родительского run.
	RunID int64

	// TraceID — сквозной идентификатор run для логов.
	TraceID string

	// Config — конфигурация этапа из run. Непрозрачна для обвязки.
	Config map[string]any
}

// Result — успешный результат выполнения этапа.
type Result struct {
	// HasIssues — этап завершился, но с замечаниями.
	HasIssues bool

	// Summary — краткая сводка или ссылка на полный результат.
	Summary string
}

// Executor — прикладная логика одного этапа.
//
// Execute обязан уважать отмену контекста: при остановке процесса
// запрос вернётся в очередь и будет выполнен другим экземпляром.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Error — доменная ошибка этапа с признаком повторяемости.
//
// Ошибки других типов обвязка считает повторяемыми: транзиентные
// инфраструктурные сбои чинятся повтором, а детерминированные
// исчерпают бюджет retry и проваляют job.
type Error struct {
	Reason    string
	Retryable bool
}

// Error реализует error.
func (e *Error) Error() string {
	return e.Reason
}

// Fatal создаёт неповторяемую ошибку этапа.
func Fatal(reason string) *Error {
	return &Error{Reason: reason, Retryable: false}
}

// classify переводит ошибку Executor'а в (причина, retryable).
func classify(err error) (string, bool) {
	var stageErr *Error
	if errors.As(err, &stageErr) {
		return stageErr.Reason, stageErr.Retryable
	}
	return err.Error(), true
}

// JobLoader — доступ worker'а к jobs (только чтение).
type JobLoader interface {
	GetByID(ctx context.Context, id int64) (*domain.Job, error)
}

// RunLoader — доступ worker'а к runs (только чтение).
type RunLoader interface {
	Get(ctx context.Context, id int64) (*domain.Run, error)
}
