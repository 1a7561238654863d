// Package retry provides bounded retry with linear backoff for transient
// collaborator failures (transcription API calls, SMTP, LLM requests).
// Durable task-level retry lives in the queue; this is only for short
// in-process loops inside a single handler invocation.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config controls retry behaviour.
type Config struct {
	// Attempts is the total number of calls including the first.
	Attempts int
	// Delay is the base wait between attempts. Wait = Delay * attempt.
	Delay time.Duration
	// Notify is called after a failed attempt and before the next delay.
	// attempt is 1-indexed (1 = first attempt just failed).
	Notify func(attempt int, err error)
}

// Do calls fn up to cfg.Attempts times.
//
// Wait schedule with Delay=2s: fail → wait 2s, fail → wait 4s, fail → wait 6s.
//
// Returns nil on first success, or the last error after all attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}
		if cfg.Notify != nil {
			cfg.Notify(attempt, lastErr)
		}

		select {
		case <-time.After(cfg.Delay * time.Duration(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return lastErr
}
