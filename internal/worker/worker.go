package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/message"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/telemetry"
	"github.com/shaiso/Cascade/internal/transport"
)

// Config — конфигурация worker'а одного этапа.
type Config struct {
	// Stage — этап, который выполняет этот worker.
	Stage domain.Stage

	// Executor — прикладная логика этапа.
	Executor Executor

	// Jobs, Runs — доступ к state store на чтение.
	Jobs JobLoader
	Runs RunLoader

	// Transport — транспортные зависимости.
	Transport *transport.Options

	// HeartbeatInterval — период повторной отправки progress-сигнала
	// во время долгого выполнения. 0 отключает heartbeat: оркестратор
	// увидит только один started-сигнал.
	HeartbeatInterval time.Duration

	Logger *slog.Logger
}

// Worker потребляет запросы своего этапа и публикует ответы.
type Worker struct {
	stage     domain.Stage
	executor  Executor
	jobs      JobLoader
	runs      RunLoader
	opts      *transport.Options
	heartbeat time.Duration
	logger    *slog.Logger

	// sender — endpoint ответов этапа; потребляет его оркестратор.
	sender transport.Sender
}

// New создаёт worker и sender endpoint'а ответов (fail fast).
func New(ctx context.Context, cfg Config) (*Worker, error) {
	if cfg.Executor == nil {
		return nil, errors.New("worker: nil executor")
	}
	if cfg.Jobs == nil || cfg.Runs == nil {
		return nil, errors.New("worker: nil store")
	}
	if cfg.Transport == nil {
		return nil, errors.New("worker: nil transport options")
	}
	if _, err := domain.ParseStage(string(cfg.Stage)); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sender, err := transport.NewSender(ctx, cfg.Transport, transport.ReplyEndpoint(cfg.Stage))
	if err != nil {
		return nil, fmt.Errorf("create reply sender: %w", err)
	}

	return &Worker{
		stage:     cfg.Stage,
		executor:  cfg.Executor,
		jobs:      cfg.Jobs,
		runs:      cfg.Runs,
		opts:      cfg.Transport,
		heartbeat: cfg.HeartbeatInterval,
		logger:    logger.With("stage", cfg.Stage),
		sender:    sender,
	}, nil
}

// Run запускает цикл приёма запросов этапа. Блокирует до отмены
// контекста.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "heartbeat_interval", w.heartbeat)
	return transport.Receive(ctx, w.opts, transport.StageEndpoint(w.stage), w.handle)
}

// Close освобождает sender.
func (w *Worker) Close() error {
	return w.sender.Close()
}

// handle обрабатывает один запрос этапа.
func (w *Worker) handle(ctx context.Context, env *message.Envelope) transport.Decision {
	telemetry.MessagesConsumed.WithLabelValues(string(w.stage), string(env.Kind)).Inc()

	logger := telemetry.WithRun(w.logger, env.RunID, env.TraceID)

	if env.Kind != message.RequestKind(w.stage) {
		logger.Warn("unexpected message kind, discarding", "kind", env.Kind)
		return transport.Continue
	}
	payload, err := message.Decode[message.StageRequest](env)
	if err != nil {
		logger.Warn("malformed request payload, discarding", "error", err)
		return transport.Continue
	}

	w.process(ctx, logger, env.Header, payload.JobID)
	return transport.Continue
}

// process выполняет запрос и публикует ровно одно финальное сообщение.
//
// Паника Executor'а переводится в неповторяемую ошибку этапа:
// детерминированный сбой повторять бессмысленно, а запрос не должен
// вечно крутиться между очередью и падающим worker'ом.
func (w *Worker) process(ctx context.Context, logger *slog.Logger, header message.Header, jobID int64) {
	job, err := w.jobs.GetByID(ctx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn("request for unknown job, discarding", "job_id", jobID)
		return
	}
	if err != nil {
		logger.Error("load job", "job_id", jobID, "error", err)
		return
	}
	if job.IsFinished() {
		// Повторная доставка запроса после того, как job уже завершён.
		logger.Debug("request for finished job, discarding", "job_id", jobID)
		return
	}

	run, err := w.runs.Get(ctx, job.RunID)
	if err != nil {
		logger.Error("load run", "run_id", job.RunID, "error", err)
		return
	}
	if run.IsFinished() {
		logger.Debug("request for finalized run, discarding", "job_id", jobID)
		return
	}

	w.send(ctx, logger, header, message.StartedKind(w.stage), message.StageStarted{JobID: jobID})

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	if w.heartbeat > 0 {
		go w.heartbeatLoop(hbCtx, logger, header, jobID)
	}

	result, err := w.execute(ctx, Request{
		JobID:   jobID,
		RunID:   run.ID,
		TraceID: run.TraceID,
		Config:  run.JobConfigs[w.stage],
	})
	stopHeartbeat()

	if err != nil {
		reason, retryable := classify(err)
		logger.Warn("stage failed", "job_id", jobID, "reason", reason, "retryable", retryable)
		w.send(ctx, logger, header, message.ErrorKind(w.stage),
			message.WorkerError{JobID: jobID, Reason: reason, Retryable: retryable, Attempt: job.Attempt})
		return
	}

	logger.Info("stage finished", "job_id", jobID, "has_issues", result.HasIssues)
	w.send(ctx, logger, header, message.ResultKind(w.stage),
		message.StageResult{JobID: jobID, HasIssues: result.HasIssues, Summary: result.Summary})
}

// execute вызывает Executor, превращая панику в ошибку.
func (w *Worker) execute(ctx context.Context, req Request) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Fatal(fmt.Sprintf("executor panic: %v", r))
		}
	}()
	return w.executor.Execute(ctx, req)
}

// heartbeatLoop периодически повторяет progress-сигнал, чтобы
// оркестратор продлевал heartbeat-срок долгого job'а.
func (w *Worker) heartbeatLoop(ctx context.Context, logger *slog.Logger, header message.Header, jobID int64) {
	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.send(ctx, logger, header, message.StartedKind(w.stage), message.StageStarted{JobID: jobID})
		}
	}
}

// send публикует сообщение в endpoint ответов.
//
// Ошибка отправки не фатальна: финальные переходы идемпотентны, а
// потерянное финальное сообщение восстановит Job Monitor.
func (w *Worker) send(ctx context.Context, logger *slog.Logger, header message.Header, kind message.Kind, payload any) {
	env, err := message.New(header, kind, payload)
	if err != nil {
		logger.Error("build message", "kind", kind, "error", err)
		return
	}
	if err := w.sender.Send(ctx, env); err != nil {
		logger.Warn("publish failed", "kind", kind, "error", err)
	}
}
