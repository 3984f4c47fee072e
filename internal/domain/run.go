package domain

import "time"

// JobConfigs — конфигурации этапов для одного run.
//
// Ключ — этап, значение — непрозрачная для оркестратора конфигурация,
// которую worker загружает при выполнении. Этап, отсутствующий в map,
// для этого run отключён: он пропускается, а не считается упавшим.
type JobConfigs map[Stage]map[string]any

// Enabled возвращает true, если этап включён для run.
func (c JobConfigs) Enabled(stage Stage) bool {
	_, ok := c[stage]
	return ok
}

// EnabledStages возвращает включённые этапы в порядке конвейера.
func (c JobConfigs) EnabledStages() []Stage {
	var stages []Stage
	for _, stage := range Stages {
		if c.Enabled(stage) {
			stages = append(stages, stage)
		}
	}
	return stages
}

// Run — один сквозной прогон конвейера анализа для ревизии репозитория.
//
// Run создаётся API-слоем (вне этого ядра); мутируют его только
// Orchestrator и Job Monitor. Записи никогда не удаляются — остаются
// для аудита.
type Run struct {
	// ID — уникальный идентификатор run.
	ID int64 `json:"id"`

	// TraceID — коррелирует все сообщения одного run.
	// Стабилен при повторных доставках и retry.
	TraceID string `json:"trace_id"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// JobConfigs — конфигурации включённых этапов.
	JobConfigs JobConfigs `json:"job_configs,omitempty"`

	// Labels — произвольные метки, заданные при создании.
	Labels map[string]string `json:"labels,omitempty"`

	// Error — причина провала, если run завершился FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`

	// FinishedAt — время финализации. Nil, пока run не завершён.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// IsFinished возвращает true, если run финализирован.
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.CreatedAt)
}
