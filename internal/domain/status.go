package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	CREATED → ACTIVE → FINISHED
//	                 ↘ FINISHED_WITH_ISSUES
//	                 ↘ FAILED
type RunStatus string

const (
	// RunStatusCreated — run создан API-слоем, но оркестратор ещё не начал обработку.
	RunStatusCreated RunStatus = "CREATED"

	// RunStatusActive — run в процессе выполнения.
	RunStatusActive RunStatus = "ACTIVE"

	// RunStatusFinished — все этапы завершены успешно.
	RunStatusFinished RunStatus = "FINISHED"

	// RunStatusFinishedWithIssues — run завершён, но отдельные этапы сообщили о проблемах.
	RunStatusFinishedWithIssues RunStatus = "FINISHED_WITH_ISSUES"

	// RunStatusFailed — хотя бы один обязательный этап завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
// Переходы из финального статуса запрещены.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusFinished, RunStatusFinishedWithIssues, RunStatusFailed:
		return true
	default:
		return false
	}
}

// JobStatus — статус выполнения job (один этап внутри run).
//
// Жизненный цикл:
//
//	CREATED → SCHEDULED → RUNNING → FINISHED
//	                              ↘ FINISHED_WITH_ISSUES
//	                              ↘ FAILED
//
// RUNNING опционален: выставляется по первому progress-сигналу worker'а,
// если транспорт такой сигнал поддерживает.
type JobStatus string

const (
	// JobStatusCreated — запись job создана, запрос ещё не опубликован.
	JobStatusCreated JobStatus = "CREATED"

	// JobStatusScheduled — запрос для worker'а опубликован.
	JobStatusScheduled JobStatus = "SCHEDULED"

	// JobStatusRunning — worker подтвердил начало работы.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusFinished — этап завершён успешно, без замечаний.
	JobStatusFinished JobStatus = "FINISHED"

	// JobStatusFinishedWithIssues — этап завершён, но worker сообщил о проблемах.
	JobStatusFinishedWithIssues JobStatus = "FINISHED_WITH_ISSUES"

	// JobStatusFailed — этап завершился с ошибкой (после исчерпания retry).
	JobStatusFailed JobStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusFinished, JobStatusFinishedWithIssues, JobStatusFailed:
		return true
	default:
		return false
	}
}
