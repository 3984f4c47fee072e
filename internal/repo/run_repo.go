package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cascade/internal/domain"
)

// RunRepo — репозиторий для работы с runs.
//
// Все мутации — короткие транзакции в пределах одной строки run;
// условные UPDATE делают их идемпотентными при повторе с теми же
// аргументами.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run. ID присваивает БД.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	configsJSON, err := json.Marshal(run.JobConfigs)
	if err != nil {
		return fmt.Errorf("marshal job configs: %w", err)
	}
	labelsJSON, err := json.Marshal(run.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}

	query := `
		INSERT INTO runs (trace_id, status, job_configs, labels, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err = r.pool.QueryRow(ctx, query,
		run.TraceID,
		run.Status,
		configsJSON,
		labelsJSON,
		run.CreatedAt,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Get возвращает run по ID.
func (r *RunRepo) Get(ctx context.Context, id int64) (*domain.Run, error) {
	query := `
		SELECT id, trace_id, status, job_configs, labels, error, created_at, finished_at
		FROM runs
		WHERE id = $1
	`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// MarkActive переводит run из CREATED в ACTIVE.
// Повторный вызов для уже активного run — no-op.
func (r *RunRepo) MarkActive(ctx context.Context, id int64) error {
	query := `
		UPDATE runs
		SET status = $2
		WHERE id = $1 AND status = $3
	`
	_, err := r.pool.Exec(ctx, query, id, domain.RunStatusActive, domain.RunStatusCreated)
	if err != nil {
		return fmt.Errorf("mark run active: %w", err)
	}
	return nil
}

// Finalize переводит run в финальный статус.
//
// Условие «ещё не финализирован» делает финализацию единственной точкой
// коммита: повтор с теми же аргументами возвращает applied=false, и
// частично финализированный run снаружи не виден никогда.
func (r *RunRepo) Finalize(ctx context.Context, id int64, status domain.RunStatus, errMsg string) (bool, error) {
	query := `
		UPDATE runs
		SET status = $2, error = $3, finished_at = $4
		WHERE id = $1
		  AND status NOT IN ($5, $6, $7)
	`
	result, err := r.pool.Exec(ctx, query,
		id,
		status,
		nullString(errMsg),
		time.Now().UTC(),
		domain.RunStatusFinished,
		domain.RunStatusFinishedWithIssues,
		domain.RunStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("finalize run: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// List возвращает runs, отсортированные по времени создания (новые первыми).
func (r *RunRepo) List(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	query := `
		SELECT id, trace_id, status, job_configs, labels, error, created_at, finished_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListStalled возвращает ACTIVE runs, у которых не осталось ни одного
// незавершённого job. Такой run не виден обходу по heartbeat-сроку
// (следить не за чем), а сам продвинуться уже не может — его заново
// продвигает Job Monitor. olderThan отсекает runs, которые прямо
// сейчас обрабатываются.
func (r *RunRepo) ListStalled(ctx context.Context, olderThan time.Time) ([]domain.Run, error) {
	query := `
		SELECT r.id, r.trace_id, r.status, r.job_configs, r.labels, r.error, r.created_at, r.finished_at
		FROM runs r
		WHERE r.status = $1
		  AND r.created_at < $2
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.run_id = r.id AND j.status NOT IN ($3, $4, $5)
		  )
		ORDER BY r.created_at
	`
	rows, err := r.pool.Query(ctx, query,
		domain.RunStatusActive,
		olderThan,
		domain.JobStatusFinished,
		domain.JobStatusFinishedWithIssues,
		domain.JobStatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("list stalled runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var configsJSON, labelsJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.TraceID,
		&run.Status,
		&configsJSON,
		&labelsJSON,
		&runError,
		&run.CreatedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if configsJSON != nil {
		if err := json.Unmarshal(configsJSON, &run.JobConfigs); err != nil {
			return nil, fmt.Errorf("unmarshal job configs: %w", err)
		}
	}
	if labelsJSON != nil {
		if err := json.Unmarshal(labelsJSON, &run.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
