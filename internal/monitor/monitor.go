package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/telemetry"
)

// JobLister — операции над jobs, нужные монитору.
type JobLister interface {
	ListNonTerminalOlderThan(ctx context.Context, deadline time.Time, minAge time.Duration) ([]domain.Job, error)
	ExtendDeadline(ctx context.Context, id int64, deadline time.Time) error
}

// RunLister — операции над runs, нужные монитору.
type RunLister interface {
	ListStalled(ctx context.Context, olderThan time.Time) ([]domain.Run, error)
}

// Escalator — переходы ядра оркестратора, через которые монитор
// вмешивается. Вмешательства наследуют дедупликацию ядра.
type Escalator interface {
	RetryJob(ctx context.Context, job *domain.Job) (bool, error)
	FailJob(ctx context.Context, job *domain.Job, reason string) error
	AdvanceRun(ctx context.Context, run *domain.Run) error
}

// Config — зависимости и параметры Job Monitor.
type Config struct {
	Jobs      JobLister
	Runs      RunLister
	Escalator Escalator

	// Liveness — опциональная проверка живости worker'ов.
	Liveness LivenessChecker

	// SweepInterval — период обхода.
	SweepInterval time.Duration

	// HeartbeatTimeout — на сколько продлевается срок живого worker'а.
	HeartbeatTimeout time.Duration

	// MinJobAge — минимальный возраст job'а для эскалации. Защищает от
	// гонки с jobs, чей запрос ещё не успел дойти до брокера.
	MinJobAge time.Duration

	Logger *slog.Logger
}

// Monitor периодически обходит зависшие jobs и застрявшие runs
// и эскалирует их.
type Monitor struct {
	jobs      JobLister
	runs      RunLister
	escalator Escalator
	liveness  LivenessChecker
	interval  time.Duration
	heartbeat time.Duration
	minJobAge time.Duration
	logger    *slog.Logger
}

// New создаёт Job Monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Jobs == nil || cfg.Runs == nil || cfg.Escalator == nil {
		return nil, errors.New("monitor: nil dependency")
	}
	if cfg.SweepInterval <= 0 || cfg.HeartbeatTimeout <= 0 {
		return nil, errors.New("monitor: sweep interval and heartbeat timeout must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		jobs:      cfg.Jobs,
		runs:      cfg.Runs,
		escalator: cfg.Escalator,
		liveness:  cfg.Liveness,
		interval:  cfg.SweepInterval,
		heartbeat: cfg.HeartbeatTimeout,
		minJobAge: cfg.MinJobAge,
		logger:    logger,
	}, nil
}

// Run запускает периодический обход. Блокирует до отмены контекста,
// затем дожидается завершения текущего обхода.
func (m *Monitor) Run(ctx context.Context) error {
	runner := cron.New()
	_, err := runner.AddFunc("@every "+m.interval.String(), func() {
		if err := m.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	runner.Start()
	m.logger.Info("monitor started",
		"sweep_interval", m.interval,
		"heartbeat_timeout", m.heartbeat,
	)

	<-ctx.Done()
	<-runner.Stop().Done()
	return nil
}

// Sweep выполняет один обход: эскалирует jobs с истекшим
// heartbeat-сроком и заново продвигает застрявшие runs. Ошибка одной
// эскалации не блокирует остальные.
func (m *Monitor) Sweep(ctx context.Context) error {
	now := time.Now().UTC()

	stale, err := m.jobs.ListNonTerminalOlderThan(ctx, now, m.minJobAge)
	if err != nil {
		return fmt.Errorf("list stale jobs: %w", err)
	}
	if len(stale) > 0 {
		m.logger.Debug("stale jobs found", "count", len(stale))
	}
	for i := range stale {
		job := &stale[i]
		if err := m.escalate(ctx, job); err != nil {
			m.logger.Error("escalation failed",
				"job_id", job.ID,
				"stage", job.Stage,
				"error", err,
			)
		}
	}

	// ACTIVE runs без единого незавершённого job обход по heartbeat
	// не видит: обработчик потерял ход между финальным переходом
	// и планированием следующего этапа. Их продвигаем напрямую.
	stalled, err := m.runs.ListStalled(ctx, now.Add(-m.minJobAge))
	if err != nil {
		return fmt.Errorf("list stalled runs: %w", err)
	}
	for i := range stalled {
		run := &stalled[i]
		if err := m.escalator.AdvanceRun(ctx, run); err != nil {
			m.logger.Error("advance stalled run failed", "run_id", run.ID, "error", err)
			continue
		}
		telemetry.MonitorEscalations.WithLabelValues("advanced").Inc()
		m.logger.Info("stalled run advanced", "run_id", run.ID)
	}
	return nil
}

// escalate разбирается с одним зависшим job'ом.
//
// Живому worker'у продлевается срок. Потерянный job — либо сообщение
// не дошло, либо worker умер — получает повтор в пределах бюджета,
// а при исчерпании бюджета принудительно проваливается.
func (m *Monitor) escalate(ctx context.Context, job *domain.Job) error {
	logger := telemetry.WithJob(m.logger, job.ID, job.Stage)

	if m.liveness != nil {
		verdict, err := m.liveness.Check(ctx, job)
		if err != nil {
			logger.Warn("liveness check failed", "error", err)
			verdict = LivenessUnknown
		}
		if verdict == LivenessAlive {
			deadline := time.Now().UTC().Add(m.heartbeat)
			if err := m.jobs.ExtendDeadline(ctx, job.ID, deadline); err != nil {
				return fmt.Errorf("extend deadline: %w", err)
			}
			telemetry.MonitorEscalations.WithLabelValues("extended").Inc()
			logger.Debug("worker alive, deadline extended", "deadline", deadline)
			return nil
		}
	}

	applied, err := m.escalator.RetryJob(ctx, job)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if applied {
		telemetry.MonitorEscalations.WithLabelValues("retried").Inc()
		logger.Info("stale job rescheduled", "attempt", job.Attempt+1)
		return nil
	}

	reason := fmt.Sprintf("no worker heartbeat since %s", job.HeartbeatDeadline.Format(time.RFC3339))
	if err := m.escalator.FailJob(ctx, job, reason); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	telemetry.MonitorEscalations.WithLabelValues("failed").Inc()
	logger.Warn("stale job failed", "reason", reason)
	return nil
}
