package message

import (
	"fmt"
	"strings"

	"github.com/shaiso/Cascade/internal/domain"
)

// Kind — вид сообщения из закрытого набора.
//
// Для этапов конвейера вид строится как "<stage>.<variant>", например
// "analyzer.request". Добавление нового этапа требует обновления
// domain.Stages и таблицы диспетчеризации — это проверяется на этапе
// компиляции, открытых иерархий нет.
type Kind string

// Виды сообщений inbox'а оркестратора.
const (
	// KindRunCreated — API-слой создал run; оркестратор начинает обработку.
	KindRunCreated Kind = "run.created"

	// KindRunCancel — запрос на отмену run.
	KindRunCancel Kind = "run.cancel"
)

// Variant — вариант сообщения этапа.
type Variant string

const (
	// VariantRequest — запрос worker'у на выполнение этапа.
	VariantRequest Variant = "request"

	// VariantStarted — progress-сигнал: worker принял запрос в работу.
	VariantStarted Variant = "started"

	// VariantResult — финальный результат этапа.
	VariantResult Variant = "result"

	// VariantError — финальная ошибка этапа.
	VariantError Variant = "error"
)

// RequestKind возвращает вид запроса для этапа.
func RequestKind(stage domain.Stage) Kind {
	return Kind(string(stage) + "." + string(VariantRequest))
}

// StartedKind возвращает вид progress-сигнала для этапа.
func StartedKind(stage domain.Stage) Kind {
	return Kind(string(stage) + "." + string(VariantStarted))
}

// ResultKind возвращает вид результата для этапа.
func ResultKind(stage domain.Stage) Kind {
	return Kind(string(stage) + "." + string(VariantResult))
}

// ErrorKind возвращает вид ошибки для этапа.
func ErrorKind(stage domain.Stage) Kind {
	return Kind(string(stage) + "." + string(VariantError))
}

// StageVariant разбирает вид сообщения этапа на (stage, variant).
// Возвращает ошибку для видов inbox'а (run.*) и неизвестных видов.
func (k Kind) StageVariant() (domain.Stage, Variant, error) {
	name, variant, ok := strings.Cut(string(k), ".")
	if !ok {
		return "", "", fmt.Errorf("malformed message kind %q", k)
	}

	stage, err := domain.ParseStage(name)
	if err != nil {
		return "", "", fmt.Errorf("message kind %q: %w", k, err)
	}

	switch Variant(variant) {
	case VariantRequest, VariantStarted, VariantResult, VariantError:
		return stage, Variant(variant), nil
	default:
		return "", "", fmt.Errorf("unknown variant in message kind %q", k)
	}
}

// StageRequest — запрос на выполнение этапа.
//
// Конфигурацию этапа и ссылки на результаты предыдущих этапов worker
// загружает из state store по идентификатору job.
type StageRequest struct {
	JobID int64 `json:"jobId"`
}

// StageStarted — progress-сигнал worker'а.
// Переводит job из SCHEDULED в RUNNING и продлевает heartbeat.
type StageStarted struct {
	JobID int64 `json:"jobId"`
}

// StageResult — финальный результат этапа.
type StageResult struct {
	JobID int64 `json:"jobId"`

	// HasIssues — true, если этап завершился успешно, но с замечаниями
	// (job получит FINISHED_WITH_ISSUES вместо FINISHED).
	HasIssues bool `json:"hasIssues"`

	// Summary — краткая сводка или ссылка на полный результат в хранилище.
	Summary string `json:"summary,omitempty"`
}

// WorkerError — ошибка уровня домена, о которой сообщил worker.
type WorkerError struct {
	JobID int64 `json:"jobId"`

	// Reason — причина ошибки.
	Reason string `json:"reason"`

	// Retryable — можно ли повторить этап в пределах бюджета retry.
	Retryable bool `json:"retryable"`

	// Attempt — номер попытки, на которой произошла ошибка. По нему
	// оркестратор отличает новую ошибку от повторной доставки уже
	// обработанной: дубликат не авторизует ещё один повтор.
	Attempt int `json:"attempt"`
}

// RunCreated — уведомление о новом run (run id в заголовке).
type RunCreated struct{}

// RunCancel — запрос на отмену run (run id в заголовке).
type RunCancel struct {
	Reason string `json:"reason,omitempty"`
}
