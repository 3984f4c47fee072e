package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cascade/internal/config"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/message"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/transport"
)

// Client — доступ CLI к state store и inbox'у оркестратора.
type Client struct {
	pool   *pgxpool.Pool
	runs   *repo.RunRepo
	jobs   *repo.JobRepo
	sender transport.Sender
}

// NewClient подключается к БД и создаёт sender inbox'а оркестратора.
func NewClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	opts := &transport.Options{Config: &cfg.Transport, Logger: logger}
	sender, err := transport.NewSender(ctx, opts, transport.OrchestratorEndpoint)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create orchestrator sender: %w", err)
	}

	return &Client{
		pool:   pool,
		runs:   repo.NewRunRepo(pool),
		jobs:   repo.NewJobRepo(pool),
		sender: sender,
	}, nil
}

// Close освобождает соединения.
func (c *Client) Close() {
	c.sender.Close()
	c.pool.Close()
}

// CreateRun создаёт run и уведомляет оркестратор.
//
// Запись коммитится до публикации. Если публикация сорвалась, run
// остаётся в CREATED: уведомление можно повторить командой notify.
func (c *Client) CreateRun(ctx context.Context, configs domain.JobConfigs, labels map[string]string) (*domain.Run, error) {
	run := &domain.Run{
		TraceID:    uuid.New().String(),
		Status:     domain.RunStatusCreated,
		JobConfigs: configs,
		Labels:     labels,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if err := c.notify(ctx, run); err != nil {
		return run, fmt.Errorf("run %d created, but orchestrator notification failed (retry with 'run notify %d'): %w",
			run.ID, run.ID, err)
	}
	return run, nil
}

// NotifyRun повторно публикует run.created для run'а, застрявшего
// в CREATED из-за сорвавшейся публикации.
func (c *Client) NotifyRun(ctx context.Context, id int64) (*domain.Run, error) {
	run, err := c.runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.IsFinished() {
		return nil, fmt.Errorf("run %d is already finalized (%s)", id, run.Status)
	}
	if err := c.notify(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (c *Client) notify(ctx context.Context, run *domain.Run) error {
	env, err := message.New(
		message.Header{TraceID: run.TraceID, RunID: run.ID},
		message.KindRunCreated,
		message.RunCreated{},
	)
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, env)
}

// CancelRun публикует запрос на отмену run.
func (c *Client) CancelRun(ctx context.Context, id int64, reason string) error {
	run, err := c.runs.Get(ctx, id)
	if err != nil {
		return err
	}
	if run.IsFinished() {
		return fmt.Errorf("run %d is already finalized (%s)", id, run.Status)
	}

	env, err := message.New(
		message.Header{TraceID: run.TraceID, RunID: run.ID},
		message.KindRunCancel,
		message.RunCancel{Reason: reason},
	)
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, env)
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(ctx context.Context, id int64) (*domain.Run, error) {
	return c.runs.Get(ctx, id)
}

// ListRuns возвращает runs (новые первыми).
func (c *Client) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	return c.runs.List(ctx, limit, 0)
}

// ListJobs возвращает jobs одного run.
func (c *Client) ListJobs(ctx context.Context, runID int64) ([]domain.Job, error) {
	return c.jobs.ListByRun(ctx, runID)
}
