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

// DigestRepository holds the per-date digest creation lock and the digest
// bodies themselves.
type DigestRepository interface {
	// TryAcquireLock claims digest creation for the date. True means the
	// caller now owns it; false means another owner already exists. There
	// is no release: ownership is permanent for the date (sticky lock).
	TryAcquireLock(ctx context.Context, showDate time.Time, owner string) (bool, error)
	SaveDigest(ctx context.Context, showDate time.Time, body string) error
	GetDigest(ctx context.Context, showDate time.Time) (*domain.Digest, error)
	HasDigest(ctx context.Context, showDate time.Time) (bool, error)
}

type digestRepository struct {
	pool *pgxpool.Pool
}

// NewDigestRepository wraps a pgxpool with the DigestRepository interface.
func NewDigestRepository(pool *pgxpool.Pool) DigestRepository {
	return &digestRepository{pool: pool}
}

// TryAcquireLock is an insert-if-absent on the date-keyed lock table. The
// primary key makes it safe under concurrent claimants: exactly one insert
// lands, every other caller sees zero rows affected.
func (r *digestRepository) TryAcquireLock(ctx context.Context, showDate time.Time, owner string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO digest_locks (show_date, owner)
		VALUES ($1, $2)
		ON CONFLICT (show_date) DO NOTHING
	`, showDate, owner)
	if err != nil {
		return false, fmt.Errorf("acquire digest lock for %s: %w", domain.ShowDateKey(showDate), err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *digestRepository) SaveDigest(ctx context.Context, showDate time.Time, body string) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO digests (show_date, body)
		VALUES ($1, $2)
		ON CONFLICT (show_date) DO UPDATE SET body = EXCLUDED.body
	`, showDate, body); err != nil {
		return fmt.Errorf("save digest for %s: %w", domain.ShowDateKey(showDate), err)
	}
	return nil
}

func (r *digestRepository) GetDigest(ctx context.Context, showDate time.Time) (*domain.Digest, error) {
	var d domain.Digest
	err := r.pool.QueryRow(ctx, `
		SELECT show_date, body, created_at FROM digests WHERE show_date = $1
	`, showDate).Scan(&d.ShowDate, &d.Body, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.DigestNotFoundError{ShowDate: showDate}
		}
		return nil, fmt.Errorf("get digest for %s: %w", domain.ShowDateKey(showDate), err)
	}
	return &d, nil
}

func (r *digestRepository) HasDigest(ctx context.Context, showDate time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM digests WHERE show_date = $1)`, showDate,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("digest check for %s: %w", domain.ShowDateKey(showDate), err)
	}
	return exists, nil
}
