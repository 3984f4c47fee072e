package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/message"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/telemetry"
	"github.com/shaiso/Cascade/internal/transport"
)

// resultStatus возвращает финальный статус job'а по флагу замечаний.
func resultStatus(hasIssues bool) domain.JobStatus {
	if hasIssues {
		return domain.JobStatusFinishedWithIssues
	}
	return domain.JobStatusFinished
}

// startRun начинает обработку созданного run: переводит его в ACTIVE
// и планирует первые выполнимые этапы.
//
// Повторная доставка run.created безопасна: для активного run
// MarkActive — no-op, а advance ничего не планирует повторно.
func (o *Orchestrator) startRun(ctx context.Context, logger *slog.Logger, runID int64) error {
	run, err := o.runs.Get(ctx, runID)
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn("run.created for unknown run, discarding")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load run %d: %w", runID, err)
	}
	if run.IsFinished() {
		logger.Debug("run.created for finalized run, discarding")
		return nil
	}

	if err := o.runs.MarkActive(ctx, run.ID); err != nil {
		return err
	}
	run.Status = domain.RunStatusActive

	logger.Info("run started", "stages", run.JobConfigs.EnabledStages())
	return o.advance(ctx, logger, run)
}

// markRunning фиксирует progress-сигнал worker'а: job переходит в
// RUNNING, heartbeat-срок продлевается. Сигнал для финального job'а —
// поздний дубликат, отбрасывается.
func (o *Orchestrator) markRunning(ctx context.Context, logger *slog.Logger, stage domain.Stage, jobID int64) error {
	applied, err := o.jobs.MarkRunning(ctx, jobID, o.deadline())
	if err != nil {
		return fmt.Errorf("mark job %d running: %w", jobID, err)
	}
	if !applied {
		logger.Debug("late started signal, discarding", "stage", stage, "job_id", jobID)
	}
	return nil
}

// completeJob применяет финальный переход job'а и продвигает run.
//
// Условный UPDATE — точка дедупликации: повторная доставка результата
// (или поздний результат после вмешательства монитора либо отмены)
// возвращает applied=false, и побочные эффекты перехода не
// переприменяются. Но advance вызывается и для дубликата: если
// предыдущую обработку сорвал сбой между коммитом перехода и
// планированием следующего этапа, повторная доставка — шанс
// допланировать хвост конвейера. advance идемпотентен, для
// «настоящего» дубликата он ничего не делает.
func (o *Orchestrator) completeJob(ctx context.Context, logger *slog.Logger, stage domain.Stage, jobID int64, status domain.JobStatus, summary, errMsg string) error {
	job, err := o.jobs.GetByID(ctx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn("result for unknown job, discarding", "stage", stage, "job_id", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}

	applied, err := o.jobs.TransitionTerminal(ctx, jobID, status, summary, errMsg)
	if err != nil {
		return fmt.Errorf("transition job %d to %s: %w", jobID, status, err)
	}
	if applied {
		telemetry.JobsFinished.WithLabelValues(stage.String(), string(status)).Inc()
		logger.Info("job finished", "stage", stage, "job_id", jobID, "status", status)
	} else {
		telemetry.DuplicatesDiscarded.WithLabelValues(stage.String()).Inc()
		logger.Debug("duplicate terminal message", "stage", stage, "job_id", jobID)
	}

	run, err := o.runs.Get(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("load run %d: %w", job.RunID, err)
	}
	if run.IsFinished() {
		return nil
	}
	return o.advance(ctx, logger, run)
}

// failJob обрабатывает ошибку worker'а: повторяемую ошибку в пределах
// бюджета превращает в новую попытку, остальные — в провал job'а.
//
// Сообщение об ошибке несёт номер попытки, на которой она произошла,
// и Reschedule — CAS по этому номеру. Повторная доставка той же ошибки
// несёт уже устаревший номер, CAS не проходит, и дубликат не сжигает
// бюджет retry и не публикует запрос ещё раз.
func (o *Orchestrator) failJob(ctx context.Context, logger *slog.Logger, header message.Header, stage domain.Stage, jobID int64, reason string, retryable bool, attempt int) error {
	if retryable && attempt <= o.maxRetries {
		applied, err := o.jobs.Reschedule(ctx, jobID, o.deadline(), attempt, o.maxRetries)
		if err != nil {
			return fmt.Errorf("reschedule job %d: %w", jobID, err)
		}
		if !applied {
			// Attempt уже ушёл вперёд или job финален: эта ошибка
			// уже обработана, перед нами её повторная доставка.
			telemetry.DuplicatesDiscarded.WithLabelValues(stage.String()).Inc()
			logger.Debug("duplicate worker error, discarding",
				"stage", stage, "job_id", jobID, "attempt", attempt)
			return nil
		}

		job, err := o.jobs.GetByID(ctx, jobID)
		if err != nil {
			return fmt.Errorf("load job %d: %w", jobID, err)
		}
		telemetry.JobsRetried.WithLabelValues(stage.String()).Inc()
		logger.Info("job retry authorized",
			"stage", stage,
			"job_id", jobID,
			"attempt", job.Attempt,
			"reason", reason,
		)
		o.publishRequest(ctx, logger, header, job)
		return nil
	}
	// Неповторяемая ошибка или исчерпанный бюджет; дубликаты этого
	// пути отбрасывает дедупликация финального перехода.
	return o.completeJob(ctx, logger, stage, jobID, domain.JobStatusFailed, "", reason)
}

// cancelRun отменяет run: все незавершённые jobs получают FAILED с
// причиной отмены, run финализируется как FAILED. Этапы с
// runAfterFailure при отмене не планируются.
//
// Уже финализированный run отменять нечего — поздний cancel
// отбрасывается. Поздние результаты отменённых jobs отбрасываются
// дедупликацией финальных переходов.
func (o *Orchestrator) cancelRun(ctx context.Context, logger *slog.Logger, runID int64, reason string) error {
	run, err := o.runs.Get(ctx, runID)
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn("run.cancel for unknown run, discarding")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load run %d: %w", runID, err)
	}
	if run.IsFinished() {
		logger.Debug("run.cancel for finalized run, discarding")
		return nil
	}

	if reason == "" {
		reason = "run cancelled"
	}

	jobs, err := o.jobs.ListByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("list jobs for run %d: %w", runID, err)
	}
	for i := range jobs {
		job := &jobs[i]
		if job.IsFinished() {
			continue
		}
		applied, err := o.jobs.TransitionTerminal(ctx, job.ID, domain.JobStatusFailed, "", reason)
		if err != nil {
			return fmt.Errorf("cancel job %d: %w", job.ID, err)
		}
		if applied {
			telemetry.JobsFinished.WithLabelValues(job.Stage.String(), string(domain.JobStatusFailed)).Inc()
			logger.Info("job cancelled", "stage", job.Stage, "job_id", job.ID)
		}
	}

	// Best-effort остановка работы в полёте: адаптеры без такой
	// возможности просто не реализуют Canceller.
	for stage, sender := range o.senders {
		canceller, ok := sender.(transport.Canceller)
		if !ok {
			continue
		}
		if err := canceller.CancelRun(ctx, runID); err != nil {
			logger.Debug("transport cancel failed", "stage", stage, "error", err)
		}
	}

	applied, err := o.runs.Finalize(ctx, runID, domain.RunStatusFailed, reason)
	if err != nil {
		return fmt.Errorf("finalize cancelled run %d: %w", runID, err)
	}
	if applied {
		telemetry.RunsFinalized.WithLabelValues(string(domain.RunStatusFailed)).Inc()
		logger.Info("run cancelled", "reason", reason)
	}
	return nil
}

// RetryJob — вмешательство Job Monitor: авторизует повтор зависшего
// job'а в пределах бюджета и заново публикует запрос этапа.
// Возвращает applied=false, если бюджет исчерпан или job уже финален.
func (o *Orchestrator) RetryJob(ctx context.Context, job *domain.Job) (bool, error) {
	logger := telemetry.WithJob(o.logger, job.ID, job.Stage)

	fresh, err := o.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("load job %d: %w", job.ID, err)
	}
	if fresh.IsFinished() || !fresh.CanRetry(o.maxRetries) {
		return false, nil
	}

	applied, err := o.jobs.Reschedule(ctx, job.ID, o.deadline(), fresh.Attempt, o.maxRetries)
	if err != nil {
		return false, fmt.Errorf("reschedule job %d: %w", job.ID, err)
	}
	if !applied {
		// Между чтением и CAS вмешался кто-то ещё: дошёл настоящий
		// результат или конкурентный монитор уже авторизовал повтор.
		// Эскалировать больше нечего.
		return true, nil
	}

	run, err := o.runs.Get(ctx, job.RunID)
	if err != nil {
		return true, fmt.Errorf("load run %d: %w", job.RunID, err)
	}

	fresh.Attempt++
	telemetry.JobsRetried.WithLabelValues(job.Stage.String()).Inc()
	logger.Info("stale job rescheduled", "run_id", run.ID, "attempt", fresh.Attempt)

	o.publishRequest(ctx, logger, message.Header{TraceID: run.TraceID, RunID: run.ID}, fresh)
	return true, nil
}

// FailJob — вмешательство Job Monitor: принудительно проваливает
// job, чей worker признан потерянным, и продвигает run дальше.
// Поздний настоящий результат после этого отбросит дедупликация.
func (o *Orchestrator) FailJob(ctx context.Context, job *domain.Job, reason string) error {
	logger := telemetry.WithJob(o.logger, job.ID, job.Stage)
	return o.completeJob(ctx, logger, job.Stage, job.ID, domain.JobStatusFailed, "", reason)
}

// AdvanceRun — вмешательство Job Monitor: повторно продвигает run,
// застрявший в ACTIVE без единого незавершённого job. Такой run не
// оставляет следов для обхода по heartbeat-сроку — обработчик потерял
// ход между финальным переходом job'а и планированием следующего
// этапа. advance идемпотентен, конкурентное продвижение безопасно.
func (o *Orchestrator) AdvanceRun(ctx context.Context, run *domain.Run) error {
	logger := telemetry.WithRun(o.logger, run.ID, run.TraceID)
	return o.advance(ctx, logger, run)
}
