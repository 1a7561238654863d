// Package redis holds the email-sent marker, the time-boxed idempotency
// guard shared by every send path.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func sentKey(scope string) string { return "email:sent:" + scope }

// SentMarker records when an email for a given scope (a show date, or a
// single block on the legacy per-block path) was last sent. A marker is
// treated as valid only while now − sent < validity; it is never deleted,
// just ignored once expired, so a legitimate resend after the window
// still goes through.
type SentMarker interface {
	MarkSent(ctx context.Context, scope string, at time.Time) error
	IsRecentlySent(ctx context.Context, scope string, at time.Time, validity time.Duration) (bool, error)
}

type sentMarker struct {
	client *redis.Client
}

// NewSentMarker creates a Redis-backed SentMarker.
func NewSentMarker(client *redis.Client) SentMarker {
	return &sentMarker{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (m *sentMarker) MarkSent(ctx context.Context, scope string, at time.Time) error {
	err := m.client.Set(ctx, sentKey(scope), at.UTC().Format(time.RFC3339), 0).Err()
	if err != nil {
		return fmt.Errorf("redis mark sent for %s: %w", scope, err)
	}
	return nil
}

func (m *sentMarker) IsRecentlySent(ctx context.Context, scope string, at time.Time, validity time.Duration) (bool, error) {
	val, err := m.client.Get(ctx, sentKey(scope)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis read sent marker for %s: %w", scope, err)
	}
	sentAt, err := time.Parse(time.RFC3339, val)
	if err != nil {
		// Unreadable marker: treat as absent rather than blocking the send.
		return false, nil
	}
	return at.Sub(sentAt) < validity, nil
}
