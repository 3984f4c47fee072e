package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cascade/internal/domain"
)

// JobRepo — репозиторий для работы с jobs.
//
// Переход в финальный статус — один условный UPDATE: строковая
// блокировка БД на время транзакции и есть single-writer-замок на job,
// прикладных мьютексов нет. Повтор с теми же аргументами — no-op.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// CreateScheduled создаёт job и переводит его CREATED → SCHEDULED
// одной транзакцией. Публикация запроса происходит после коммита:
// job, зависший в SCHEDULED без сообщения в полёте, обнаружим и
// повторим, а сообщение для незакоммиченного job'а — нет.
//
// На пару (run, stage) существует не более одного job: повторная
// попытка создания возвращает ErrAlreadyExists.
func (r *JobRepo) CreateScheduled(ctx context.Context, job *domain.Job) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO jobs (run_id, stage, status, attempt, heartbeat_deadline, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err = tx.QueryRow(ctx, insert,
		job.RunID,
		job.Stage,
		domain.JobStatusCreated,
		job.Attempt,
		job.HeartbeatDeadline,
		job.CreatedAt,
	).Scan(&job.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert job: %w", err)
	}

	update := `UPDATE jobs SET status = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, update, job.ID, domain.JobStatusScheduled); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	job.Status = domain.JobStatusScheduled
	return nil
}

// Get возвращает job по паре (run, stage).
func (r *JobRepo) Get(ctx context.Context, runID int64, stage domain.Stage) (*domain.Job, error) {
	query := jobSelect + ` WHERE run_id = $1 AND stage = $2`
	return scanJob(r.pool.QueryRow(ctx, query, runID, stage))
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, id int64) (*domain.Job, error) {
	query := jobSelect + ` WHERE id = $1`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// ListByRun возвращает все jobs одного run.
func (r *JobRepo) ListByRun(ctx context.Context, runID int64) ([]domain.Job, error) {
	query := jobSelect + ` WHERE run_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// TransitionTerminal переводит job в финальный статус и записывает
// сводку результата одной транзакцией.
//
// Возвращает applied=false, если job уже финален: сообщение — дубликат
// (at-least-once redelivery или поздний результат после вмешательства
// монитора), побочные эффекты не переприменяются.
func (r *JobRepo) TransitionTerminal(ctx context.Context, id int64, status domain.JobStatus, summary, errMsg string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %s is not terminal", ErrInvalidState, status)
	}

	query := `
		UPDATE jobs
		SET status = $2, summary = $3, error = $4, finished_at = $5
		WHERE id = $1
		  AND status NOT IN ($6, $7, $8)
	`
	result, err := r.pool.Exec(ctx, query,
		id,
		status,
		nullString(summary),
		nullString(errMsg),
		time.Now().UTC(),
		domain.JobStatusFinished,
		domain.JobStatusFinishedWithIssues,
		domain.JobStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkRunning переводит job в RUNNING по первому progress-сигналу и
// продлевает heartbeat. Для финального job'а — no-op (поздний сигнал).
func (r *JobRepo) MarkRunning(ctx context.Context, id int64, deadline time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2,
		    heartbeat_deadline = $3,
		    started_at = COALESCE(started_at, $4)
		WHERE id = $1 AND status IN ($5, $6)
	`
	now := time.Now().UTC()
	result, err := r.pool.Exec(ctx, query,
		id,
		domain.JobStatusRunning,
		deadline,
		now,
		domain.JobStatusScheduled,
		domain.JobStatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("mark job running: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// Reschedule авторизует повтор попытки fromAttempt: возвращает job в
// SCHEDULED, увеличивает счётчик попыток и выставляет новый
// heartbeat-срок. CAS по attempt делает авторизацию однократной —
// повторная доставка той же ошибки несёт устаревший номер попытки и
// не проходит; условие на бюджет держит предел и при гонке.
func (r *JobRepo) Reschedule(ctx context.Context, id int64, deadline time.Time, fromAttempt, maxRetries int) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2, attempt = attempt + 1, heartbeat_deadline = $3
		WHERE id = $1
		  AND status IN ($4, $5)
		  AND attempt = $6
		  AND attempt <= $7
	`
	result, err := r.pool.Exec(ctx, query,
		id,
		domain.JobStatusScheduled,
		deadline,
		domain.JobStatusScheduled,
		domain.JobStatusRunning,
		fromAttempt,
		maxRetries,
	)
	if err != nil {
		return false, fmt.Errorf("reschedule job: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ExtendDeadline продлевает heartbeat-срок живого job'а.
func (r *JobRepo) ExtendDeadline(ctx context.Context, id int64, deadline time.Time) error {
	query := `
		UPDATE jobs
		SET heartbeat_deadline = $2
		WHERE id = $1 AND status IN ($3, $4)
	`
	_, err := r.pool.Exec(ctx, query, id, deadline,
		domain.JobStatusScheduled, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("extend job deadline: %w", err)
	}
	return nil
}

// ListNonTerminalOlderThan возвращает jobs в нефинальном статусе,
// чей heartbeat-срок истёк, и которые старше minAge (защита от гонки
// с только что созданными jobs, ещё не дошедшими до брокера).
func (r *JobRepo) ListNonTerminalOlderThan(ctx context.Context, deadline time.Time, minAge time.Duration) ([]domain.Job, error) {
	query := jobSelect + `
		WHERE status IN ($1, $2)
		  AND heartbeat_deadline < $3
		  AND created_at < $4
		ORDER BY heartbeat_deadline ASC
	`
	rows, err := r.pool.Query(ctx, query,
		domain.JobStatusScheduled,
		domain.JobStatusRunning,
		deadline,
		time.Now().UTC().Add(-minAge),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// --- Helpers ---

const jobSelect = `
	SELECT id, run_id, stage, status, attempt, summary, error,
	       heartbeat_deadline, started_at, finished_at, created_at
	FROM jobs
`

// scanJob сканирует одну строку в Job.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var summary, jobError *string

	err := row.Scan(
		&job.ID,
		&job.RunID,
		&job.Stage,
		&job.Status,
		&job.Attempt,
		&summary,
		&jobError,
		&job.HeartbeatDeadline,
		&job.StartedAt,
		&job.FinishedAt,
		&job.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if summary != nil {
		job.Summary = *summary
	}
	if jobError != nil {
		job.Error = *jobError
	}

	return &job, nil
}

// collectJobs сканирует все строки результата.
func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
