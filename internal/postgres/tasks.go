package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
)

const pgUniqueViolation = "23505"

// TaskCount is one row of the counts-by-type-and-status introspection query.
type TaskCount struct {
	Type   domain.TaskType
	Status domain.Status
	Count  int64
}

// TaskRepository abstracts all database access for the task queue.
type TaskRepository interface {
	// Enqueue inserts a pending task unless an open task with the same
	// (type, block) — or (type, show date) for date-scoped types — already
	// exists, in which case the existing task's id is returned.
	Enqueue(ctx context.Context, t *domain.Task) (int64, error)
	// Claim atomically picks the oldest pending-or-retry task and marks it
	// running. Returns (nil, nil) when the queue is empty.
	Claim(ctx context.Context) (*domain.Task, error)
	MarkCompleted(ctx context.Context, id int64, note string) error
	MarkRetry(ctx context.Context, id int64, errMsg string) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	GetByID(ctx context.Context, id int64) (*domain.Task, error)
	// HasDigestTask reports whether an open or completed CREATE_DIGEST task
	// exists for the date. Failed attempts do not count: the date may be
	// re-attempted after operator intervention.
	HasDigestTask(ctx context.Context, showDate time.Time) (bool, error)
	ListOpen(ctx context.Context, limit int) ([]*domain.Task, error)
	CountByTypeStatus(ctx context.Context) ([]TaskCount, error)
	// RequeueStale flips tasks stuck in RUNNING longer than olderThan back
	// to RETRY. Run once at startup: a crash mid-task would otherwise
	// orphan the row forever, since Claim only considers PENDING and RETRY.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

type taskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository wraps a pgxpool with the TaskRepository interface.
func NewTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &taskRepository{pool: pool}
}

const taskColumns = `id, type, block_id, show_date, payload, status,
       retry_count, max_retries, last_error, created_at, started_at, completed_at`

func (r *taskRepository) Enqueue(ctx context.Context, t *domain.Task) (int64, error) {
	if t.MaxRetries == 0 {
		t.MaxRetries = 3
	}

	if id, ok, err := r.findOpen(ctx, t); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (type, block_id, show_date, payload, max_retries)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, string(t.Type), t.BlockID, t.ShowDate, t.Payload, t.MaxRetries).Scan(&id)
	if err != nil {
		// A concurrent enqueue can win between the pre-check and the insert;
		// the partial unique index turns that into a constraint error and we
		// return the winner's id.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			if existing, ok, findErr := r.findOpen(ctx, t); findErr == nil && ok {
				return existing, nil
			}
		}
		return 0, fmt.Errorf("enqueue %s task: %w", t.Type, err)
	}
	return id, nil
}

func (r *taskRepository) findOpen(ctx context.Context, t *domain.Task) (int64, bool, error) {
	var (
		row pgx.Row
	)
	switch {
	case t.BlockID != nil:
		row = r.pool.QueryRow(ctx, `
			SELECT id FROM tasks
			WHERE type = $1 AND block_id = $2
			  AND status IN ('PENDING', 'RUNNING', 'RETRY')
			ORDER BY id LIMIT 1
		`, string(t.Type), *t.BlockID)
	case t.ShowDate != nil:
		row = r.pool.QueryRow(ctx, `
			SELECT id FROM tasks
			WHERE type = $1 AND show_date = $2 AND block_id IS NULL
			  AND status IN ('PENDING', 'RUNNING', 'RETRY')
			ORDER BY id LIMIT 1
		`, string(t.Type), *t.ShowDate)
	default:
		return 0, false, nil
	}

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("dedup check for %s task: %w", t.Type, err)
	}
	return id, true, nil
}

func (r *taskRepository) Claim(ctx context.Context) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tasks
		SET status = 'RUNNING', started_at = now()
		WHERE id = (
			SELECT id FROM tasks
			WHERE status IN ('PENDING', 'RETRY')
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
	)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

func (r *taskRepository) MarkCompleted(ctx context.Context, id int64, note string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'COMPLETED', completed_at = now(), last_error = $1
		WHERE id = $2
	`, note, id); err != nil {
		return fmt.Errorf("mark task %d completed: %w", id, err)
	}
	return nil
}

func (r *taskRepository) MarkRetry(ctx context.Context, id int64, errMsg string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'RETRY', retry_count = retry_count + 1, last_error = $1
		WHERE id = $2
	`, errMsg, id); err != nil {
		return fmt.Errorf("mark task %d retry: %w", id, err)
	}
	return nil
}

func (r *taskRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'FAILED', completed_at = now(), last_error = $1
		WHERE id = $2
	`, errMsg, id); err != nil {
		return fmt.Errorf("mark task %d failed: %w", id, err)
	}
	return nil
}

func (r *taskRepository) GetByID(ctx context.Context, id int64) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: id}
		}
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

func (r *taskRepository) HasDigestTask(ctx context.Context, showDate time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tasks
			WHERE type = $1 AND show_date = $2 AND status <> 'FAILED'
		)
	`, string(domain.TaskCreateDigest), showDate).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("digest task check for %s: %w", domain.ShowDateKey(showDate), err)
	}
	return exists, nil
}

func (r *taskRepository) ListOpen(ctx context.Context, limit int) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status IN ('PENDING', 'RUNNING', 'RETRY')
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *taskRepository) CountByTypeStatus(ctx context.Context) ([]TaskCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT type, status, COUNT(*) FROM tasks
		GROUP BY type, status
		ORDER BY type, status
	`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	var counts []TaskCount
	for rows.Next() {
		var c TaskCount
		var typeStr, statusStr string
		if err := rows.Scan(&typeStr, &statusStr, &c.Count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		c.Type = domain.TaskType(typeStr)
		c.Status = domain.Status(statusStr)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (r *taskRepository) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'RETRY', last_error = 'requeued: orphaned by restart'
		WHERE status = 'RUNNING' AND started_at < now() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("requeue stale running tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *taskRepository) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM tasks
		WHERE status IN ('COMPLETED', 'FAILED') AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge terminal tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanTask reads a task row from any pgx row type.
func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var t domain.Task
	var typeStr, statusStr string
	err := row.Scan(
		&t.ID, &typeStr, &t.BlockID, &t.ShowDate, &t.Payload, &statusStr,
		&t.RetryCount, &t.MaxRetries, &t.LastError, &t.CreatedAt, &t.StartedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Type = domain.TaskType(typeStr)
	t.Status = domain.Status(statusStr)
	return &t, nil
}
