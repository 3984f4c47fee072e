package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/message"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/telemetry"
)

// scheduleRule — декларативное правило планирования одного этапа.
type scheduleRule struct {
	stage domain.Stage

	// dependsOn — этапы, чьи результаты нужны этому этапу: каждый
	// включённый из них должен дойти до финального статуса раньше.
	dependsOn []domain.Stage

	// runsAfter — этапы, которые нужно лишь дождаться, если они ещё
	// могут выполниться; прямой зависимости от их результатов нет.
	runsAfter []domain.Stage

	// runAfterFailure — этап выполняется даже после провала другого
	// этапа run'а (отчёты и уведомления нужны и для упавших runs).
	runAfterFailure bool
}

// scheduleRules — топология конвейера в порядке этапов.
var scheduleRules = []scheduleRule{
	{stage: domain.StageConfig},
	{stage: domain.StageAnalyzer, dependsOn: []domain.Stage{domain.StageConfig}},
	{stage: domain.StageAdvisor, dependsOn: []domain.Stage{domain.StageAnalyzer}},
	{stage: domain.StageScanner, dependsOn: []domain.Stage{domain.StageAnalyzer}},
	{
		stage:     domain.StageEvaluator,
		dependsOn: []domain.Stage{domain.StageAnalyzer},
		runsAfter: []domain.Stage{domain.StageAdvisor, domain.StageScanner},
	},
	{
		stage:           domain.StageReporter,
		runsAfter:       []domain.Stage{domain.StageEvaluator},
		runAfterFailure: true,
	},
	{
		stage:           domain.StageNotifier,
		runsAfter:       []domain.Stage{domain.StageReporter},
		runAfterFailure: true,
	},
}

// ruleFor возвращает правило этапа.
func ruleFor(stage domain.Stage) scheduleRule {
	for _, rule := range scheduleRules {
		if rule.stage == stage {
			return rule
		}
	}
	panic(fmt.Sprintf("no schedule rule for stage %q", stage))
}

// progress — снимок продвижения одного run: его конфигурация плюс
// созданные jobs. Все решения планирования принимаются по снимку;
// гонки двух обработчиков разрешает уникальный индекс (run, stage).
type progress struct {
	run  *domain.Run
	jobs map[domain.Stage]*domain.Job
}

func newProgress(run *domain.Run, jobs []domain.Job) *progress {
	p := &progress{run: run, jobs: make(map[domain.Stage]*domain.Job, len(jobs))}
	for i := range jobs {
		p.jobs[jobs[i].Stage] = &jobs[i]
	}
	return p
}

// enabled — этап включён в конфигурации run.
func (p *progress) enabled(stage domain.Stage) bool {
	return p.run.JobConfigs.Enabled(stage)
}

// scheduled — job этапа уже создан (в любом статусе).
func (p *progress) scheduled(stage domain.Stage) bool {
	_, ok := p.jobs[stage]
	return ok
}

// completed — job этапа дошёл до финального статуса.
func (p *progress) completed(stage domain.Stage) bool {
	job, ok := p.jobs[stage]
	return ok && job.IsFinished()
}

// anyFailed — хотя бы один job run'а провалился.
func (p *progress) anyFailed() bool {
	for _, job := range p.jobs {
		if job.Status == domain.JobStatusFailed {
			return true
		}
	}
	return false
}

// canRun — этап можно запланировать прямо сейчас: он включён, ещё не
// планировался, провалы run'а ему не мешают, каждый включённый
// dependsOn завершён и ни один runsAfter уже не выполнится раньше.
//
// Выключенные зависимости считаются удовлетворёнными: отключённый
// этап пропускается, а не блокирует хвост конвейера.
func (r scheduleRule) canRun(p *progress) bool {
	if !p.enabled(r.stage) || p.scheduled(r.stage) {
		return false
	}
	if p.anyFailed() && !r.runAfterFailure {
		return false
	}
	for _, dep := range r.dependsOn {
		if p.enabled(dep) && !p.completed(dep) {
			return false
		}
	}
	for _, dep := range r.runsAfter {
		if ruleFor(dep).pending(p) {
			return false
		}
	}
	return true
}

// pending — этап ещё может выполниться: он включён, не завершён,
// провалы run'а ему не мешают, и каждая включённая зависимость либо
// уже запланирована, либо сама ещё может выполниться.
//
// Запланированный, но не завершённый job тоже pending: этапы ниже
// по течению его дожидаются.
func (r scheduleRule) pending(p *progress) bool {
	if !p.enabled(r.stage) || p.completed(r.stage) {
		return false
	}
	if p.anyFailed() && !r.runAfterFailure {
		return false
	}
	for _, dep := range r.dependsOn {
		if !p.enabled(dep) {
			continue
		}
		if !p.scheduled(dep) && !ruleFor(dep).pending(p) {
			return false
		}
	}
	return true
}

// active — run ещё продвигается: есть незавершённые jobs или этапы,
// которые ещё могут быть запланированы.
func (p *progress) active() bool {
	for _, job := range p.jobs {
		if !job.IsFinished() {
			return true
		}
	}
	for _, rule := range scheduleRules {
		if !p.scheduled(rule.stage) && rule.pending(p) {
			return true
		}
	}
	return false
}

// advance продвигает run: планирует все этапы, ставшие выполнимыми,
// и финализирует run, когда продвигаться больше некуда.
//
// Вызывается после каждого применённого перехода. Идемпотентен:
// повтор на том же состоянии ничего не планирует повторно.
func (o *Orchestrator) advance(ctx context.Context, logger *slog.Logger, run *domain.Run) error {
	jobs, err := o.jobs.ListByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("list jobs for run %d: %w", run.ID, err)
	}
	p := newProgress(run, jobs)

	for _, rule := range scheduleRules {
		if !rule.canRun(p) {
			continue
		}
		job, err := o.scheduleStage(ctx, logger, run, rule.stage)
		if err != nil {
			return err
		}
		p.jobs[rule.stage] = job
	}

	if p.active() {
		return nil
	}
	return o.finalizeRun(ctx, logger, p)
}

// scheduleStage создаёт job этапа, коммитит его в SCHEDULED и после
// коммита публикует запрос worker'у.
//
// Конфликт уникальности (run, stage) означает, что конкурентный
// обработчик уже запланировал этап и сам опубликует запрос.
func (o *Orchestrator) scheduleStage(ctx context.Context, logger *slog.Logger, run *domain.Run, stage domain.Stage) (*domain.Job, error) {
	now := time.Now().UTC()
	job := &domain.Job{
		RunID:             run.ID,
		Stage:             stage,
		Status:            domain.JobStatusCreated,
		Attempt:           1,
		HeartbeatDeadline: now.Add(o.heartbeat),
		CreatedAt:         now,
	}

	err := o.jobs.CreateScheduled(ctx, job)
	if errors.Is(err, repo.ErrAlreadyExists) {
		return o.jobs.Get(ctx, run.ID, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("schedule %s for run %d: %w", stage, run.ID, err)
	}

	telemetry.JobsScheduled.WithLabelValues(stage.String()).Inc()
	logger.Info("stage scheduled", "stage", stage, "job_id", job.ID, "attempt", job.Attempt)

	o.publishRequest(ctx, logger, message.Header{TraceID: run.TraceID, RunID: run.ID}, job)
	return job, nil
}

// finalizeRun выводит финальный статус run'а из статусов его jobs
// и применяет его одним условным UPDATE.
//
// FAILED перекрывает FINISHED_WITH_ISSUES, FINISHED — только когда все
// jobs чисты. Run без единого включённого этапа финализируется как
// FINISHED сразу.
func (o *Orchestrator) finalizeRun(ctx context.Context, logger *slog.Logger, p *progress) error {
	status := domain.RunStatusFinished
	var failures []string

	for stage, job := range p.jobs {
		switch job.Status {
		case domain.JobStatusFailed:
			status = domain.RunStatusFailed
			failures = append(failures, fmt.Sprintf("%s: %s", stage, job.Error))
		case domain.JobStatusFinishedWithIssues:
			if status != domain.RunStatusFailed {
				status = domain.RunStatusFinishedWithIssues
			}
		}
	}
	sort.Strings(failures)

	applied, err := o.runs.Finalize(ctx, p.run.ID, status, strings.Join(failures, "; "))
	if err != nil {
		return fmt.Errorf("finalize run %d: %w", p.run.ID, err)
	}
	if !applied {
		logger.Debug("run already finalized")
		return nil
	}

	telemetry.RunsFinalized.WithLabelValues(string(status)).Inc()
	logger.Info("run finalized", "status", status, "jobs", len(p.jobs))
	return nil
}
