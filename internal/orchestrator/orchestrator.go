package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/message"
	"github.com/shaiso/Cascade/internal/telemetry"
	"github.com/shaiso/Cascade/internal/transport"
)

// RunStore — операции над runs, нужные машине состояний.
type RunStore interface {
	Get(ctx context.Context, id int64) (*domain.Run, error)
	MarkActive(ctx context.Context, id int64) error
	Finalize(ctx context.Context, id int64, status domain.RunStatus, errMsg string) (bool, error)
}

// JobStore — операции над jobs, нужные машине состояний.
//
// Методы с возвратом applied — условные переходы: false означает, что
// запись уже в состоянии, исключающем переход (дубликат или гонка),
// и побочные эффекты применять нельзя.
type JobStore interface {
	CreateScheduled(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, runID int64, stage domain.Stage) (*domain.Job, error)
	GetByID(ctx context.Context, id int64) (*domain.Job, error)
	ListByRun(ctx context.Context, runID int64) ([]domain.Job, error)
	TransitionTerminal(ctx context.Context, id int64, status domain.JobStatus, summary, errMsg string) (bool, error)
	MarkRunning(ctx context.Context, id int64, deadline time.Time) (bool, error)
	Reschedule(ctx context.Context, id int64, deadline time.Time, fromAttempt, maxRetries int) (bool, error)
}

// Config — зависимости и параметры оркестратора.
type Config struct {
	// Runs — хранилище runs.
	Runs RunStore

	// Jobs — хранилище jobs.
	Jobs JobStore

	// Transport — транспортные зависимости (конфигурация брокера, логгер).
	Transport *transport.Options

	// MaxRetries — бюджет повторов job'а.
	MaxRetries int

	// HeartbeatTimeout — срок от планирования (или последнего признака
	// жизни) до признания job'а зависшим.
	HeartbeatTimeout time.Duration

	// Logger — логгер процесса.
	Logger *slog.Logger
}

// Orchestrator — машина состояний runs и jobs.
//
// Создаётся через New, циклы приёма запускаются Run. Экземпляр без
// Run тоже полноценен: Job Monitor использует его методы переходов
// напрямую, не потребляя сообщения.
type Orchestrator struct {
	runs       RunStore
	jobs       JobStore
	opts       *transport.Options
	maxRetries int
	heartbeat  time.Duration
	logger     *slog.Logger

	// senders — по одному sender'у на endpoint запросов этапа.
	// Создаются при старте (fail fast), дальше только читаются.
	senders map[domain.Stage]transport.Sender
}

// New создаёт оркестратор и sender'ы для всех этапов конвейера.
// Недостающая секция endpoint'а в конфигурации — ошибка здесь,
// а не при первой публикации.
func New(ctx context.Context, cfg Config) (*Orchestrator, error) {
	if cfg.Runs == nil || cfg.Jobs == nil {
		return nil, errors.New("orchestrator: nil store")
	}
	if cfg.Transport == nil {
		return nil, errors.New("orchestrator: nil transport options")
	}
	if cfg.HeartbeatTimeout <= 0 {
		return nil, errors.New("orchestrator: heartbeat timeout must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		runs:       cfg.Runs,
		jobs:       cfg.Jobs,
		opts:       cfg.Transport,
		maxRetries: cfg.MaxRetries,
		heartbeat:  cfg.HeartbeatTimeout,
		logger:     logger,
		senders:    make(map[domain.Stage]transport.Sender, len(domain.Stages)),
	}

	for _, stage := range domain.Stages {
		sender, err := transport.NewSender(ctx, cfg.Transport, transport.StageEndpoint(stage))
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("create sender for %s: %w", stage, err)
		}
		o.senders[stage] = sender
	}
	return o, nil
}

// Run запускает циклы приёма: inbox оркестратора плюс endpoint
// ответов каждого этапа. Блокирует до отмены контекста.
func (o *Orchestrator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	receive := func(endpoint transport.Endpoint) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := transport.Receive(ctx, o.opts, endpoint, o.handler(endpoint))
			if err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("receive loop exited", "endpoint", endpoint.Name, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}

	receive(transport.OrchestratorEndpoint)
	for _, stage := range domain.Stages {
		receive(transport.ReplyEndpoint(stage))
	}

	o.logger.Info("orchestrator started",
		"stages", len(domain.Stages),
		"max_retries", o.maxRetries,
	)
	wg.Wait()
	return errors.Join(errs...)
}

// Close освобождает sender'ы.
func (o *Orchestrator) Close() error {
	var errs []error
	for stage, sender := range o.senders {
		if err := sender.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sender: %w", stage, err))
		}
	}
	return errors.Join(errs...)
}

// deadline возвращает новый heartbeat-срок от текущего момента.
func (o *Orchestrator) deadline() time.Time {
	return time.Now().UTC().Add(o.heartbeat)
}

// publishRequest публикует запрос этапа worker'у.
//
// Ошибка публикации не фатальна: job остаётся в SCHEDULED, и если
// сообщение на самом деле не дошло, Job Monitor переотправит его
// после истечения heartbeat-срока.
func (o *Orchestrator) publishRequest(ctx context.Context, logger *slog.Logger, header message.Header, job *domain.Job) {
	env, err := message.New(header, message.RequestKind(job.Stage), message.StageRequest{JobID: job.ID})
	if err != nil {
		logger.Error("build stage request", "stage", job.Stage, "error", err)
		return
	}

	if err := o.senders[job.Stage].Send(ctx, env); err != nil {
		telemetry.PublishFailures.WithLabelValues(job.Stage.String()).Inc()
		logger.Warn("stage request publish failed, awaiting monitor sweep",
			"stage", job.Stage,
			"job_id", job.ID,
			"error", err,
		)
	}
}
