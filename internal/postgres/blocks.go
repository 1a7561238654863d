package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
)

// BlockRepository abstracts all database access for blocks.
type BlockRepository interface {
	EnsureScheduled(ctx context.Context, showDate time.Time, code string, start, end time.Time) (*domain.Block, error)
	GetByID(ctx context.Context, id int64) (*domain.Block, error)
	GetByDateCode(ctx context.Context, showDate time.Time, code string) (*domain.Block, error)
	Transition(ctx context.Context, id int64, from, to domain.BlockStatus) error
	SetAudioPath(ctx context.Context, id int64, path string) error
	SetTranscriptPath(ctx context.Context, id int64, path string) error
	SetSummary(ctx context.Context, id int64, summary string) error
	ListByShowDate(ctx context.Context, showDate time.Time) ([]*domain.Block, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type blockRepository struct {
	pool *pgxpool.Pool
}

// NewBlockRepository wraps a pgxpool with the BlockRepository interface.
func NewBlockRepository(pool *pgxpool.Pool) BlockRepository {
	return &blockRepository{pool: pool}
}

const blockColumns = `id, show_date, code, scheduled_at, ends_at,
       audio_path, transcript_path, summary, status, created_at, updated_at`

// EnsureScheduled creates the block row for (showDate, code) if it does not
// exist yet and returns the row either way. The unique constraint makes
// this safe when a scheduler trigger and a manual trigger race.
func (r *blockRepository) EnsureScheduled(ctx context.Context, showDate time.Time, code string, start, end time.Time) (*domain.Block, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO blocks (show_date, code, scheduled_at, ends_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (show_date, code) DO UPDATE SET updated_at = now()
		RETURNING `+blockColumns,
		showDate, code, start, end, string(domain.BlockScheduled),
	)
	b, err := scanBlock(row)
	if err != nil {
		return nil, fmt.Errorf("ensure block %s/%s: %w", domain.ShowDateKey(showDate), code, err)
	}
	return b, nil
}

func (r *blockRepository) GetByID(ctx context.Context, id int64) (*domain.Block, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = $1`, id)
	b, err := scanBlock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.BlockNotFoundError{BlockID: id}
		}
		return nil, fmt.Errorf("get block %d: %w", id, err)
	}
	return b, nil
}

func (r *blockRepository) GetByDateCode(ctx context.Context, showDate time.Time, code string) (*domain.Block, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE show_date = $1 AND code = $2`,
		showDate, code,
	)
	b, err := scanBlock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.BlockNotFoundError{BlockID: 0}
		}
		return nil, fmt.Errorf("get block %s/%s: %w", domain.ShowDateKey(showDate), code, err)
	}
	return b, nil
}

// Transition moves a block between pipeline states. The state machine is
// checked in the domain first and then enforced in SQL with a guarded
// UPDATE, so a concurrent writer cannot slip an illegal move through.
func (r *blockRepository) Transition(ctx context.Context, id int64, from, to domain.BlockStatus) error {
	if !from.CanTransition(to) {
		return &domain.InvalidTransitionError{BlockID: id, From: from, To: to}
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE blocks
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("transition block %d to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		cur, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		return &domain.InvalidTransitionError{BlockID: id, From: cur.Status, To: to}
	}
	return nil
}

func (r *blockRepository) SetAudioPath(ctx context.Context, id int64, path string) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE blocks SET audio_path = $1, updated_at = now() WHERE id = $2`,
		path, id,
	); err != nil {
		return fmt.Errorf("set audio path for block %d: %w", id, err)
	}
	return nil
}

func (r *blockRepository) SetTranscriptPath(ctx context.Context, id int64, path string) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE blocks SET transcript_path = $1, updated_at = now() WHERE id = $2`,
		path, id,
	); err != nil {
		return fmt.Errorf("set transcript path for block %d: %w", id, err)
	}
	return nil
}

func (r *blockRepository) SetSummary(ctx context.Context, id int64, summary string) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE blocks SET summary = $1, updated_at = now() WHERE id = $2`,
		summary, id,
	); err != nil {
		return fmt.Errorf("set summary for block %d: %w", id, err)
	}
	return nil
}

func (r *blockRepository) ListByShowDate(ctx context.Context, showDate time.Time) ([]*domain.Block, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE show_date = $1 ORDER BY scheduled_at`,
		showDate,
	)
	if err != nil {
		return nil, fmt.Errorf("list blocks for %s: %w", domain.ShowDateKey(showDate), err)
	}
	defer rows.Close()

	var blocks []*domain.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// DeleteOlderThan removes blocks whose show date is before cutoff.
// Task rows cascade via the foreign key.
func (r *blockRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM blocks WHERE show_date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete blocks before %s: %w", domain.ShowDateKey(cutoff), err)
	}
	return tag.RowsAffected(), nil
}

// scanBlock reads a block row from any pgx row type.
func scanBlock(row interface {
	Scan(...any) error
}) (*domain.Block, error) {
	var b domain.Block
	var statusStr string
	err := row.Scan(
		&b.ID, &b.ShowDate, &b.Code, &b.ScheduledAt, &b.EndsAt,
		&b.AudioPath, &b.Transcript, &b.Summary, &statusStr, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BlockStatus(statusStr)
	return &b, nil
}
