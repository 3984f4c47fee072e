package domain

import "time"

// Job — запись о выполнении одного этапа внутри одного run.
//
// Job создаётся оркестратором в момент планирования этапа (когда все
// зависимости этапа удовлетворены) и сразу переводится в SCHEDULED
// после публикации запроса. На пару (run, stage) существует не более
// одного job.
type Job struct {
	// ID — уникальный идентификатор job.
	ID int64 `json:"id"`

	// RunID — ссылка на родительский run.
	RunID int64 `json:"run_id"`

	// Stage — этап конвейера, который выполняет этот job.
	Stage Stage `json:"stage"`

	// Status — текущий статус job.
	Status JobStatus `json:"status"`

	// Attempt — номер попытки (начиная с 1).
	// Увеличивается только когда Job Monitor авторизует повтор.
	Attempt int `json:"attempt"`

	// Summary — краткая сводка результата, заполняется при финальном переходе.
	Summary string `json:"summary,omitempty"`

	// Error — причина последней ошибки worker'а.
	Error string `json:"error,omitempty"`

	// HeartbeatDeadline — срок, до которого от worker'а ожидается
	// признак жизни. По нему Job Monitor находит зависшие jobs.
	HeartbeatDeadline time.Time `json:"heartbeat_deadline"`

	// StartedAt — время первого progress-сигнала worker'а.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время финального перехода.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания job.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если job в финальном статусе.
func (j *Job) IsFinished() bool {
	return j.Status.IsTerminal()
}

// Succeeded возвращает true, если job завершился без провала
// (FINISHED или FINISHED_WITH_ISSUES).
func (j *Job) Succeeded() bool {
	return j.Status == JobStatusFinished || j.Status == JobStatusFinishedWithIssues
}

// CanRetry проверяет, остались ли попытки в пределах бюджета.
func (j *Job) CanRetry(maxRetries int) bool {
	return j.Attempt <= maxRetries
}

// Duration возвращает продолжительность выполнения.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}
