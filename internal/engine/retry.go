package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"projectflow/internal/domain"
	"projectflow/internal/logger"
	"projectflow/internal/metrics"
	"projectflow/internal/store"
)

// RetryPolicy bounds how often an operation is re-run. Version conflicts are
// re-run at once from a fresh read; persistence_unavailable backs off
// exponentially. Every other error is returned on first sight.
type RetryPolicy struct {
	Attempts         int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	ConflictAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:         3,
		InitialBackoff:   50 * time.Millisecond,
		MaxBackoff:       time.Second,
		ConflictAttempts: 5,
	}
}

func (p RetryPolicy) do(ctx context.Context, op string, m *metrics.Metrics, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	conflictAttempts := p.ConflictAttempts
	if conflictAttempts < 1 {
		conflictAttempts = 1
	}
	backoff := p.InitialBackoff
	failures, conflicts := 0, 0
	for {
		err := fn()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, store.ErrVersionConflict):
			conflicts++
			if conflicts >= conflictAttempts {
				return domain.Unavailable(fmt.Errorf("%s: gave up after %d version conflicts: %w", op, conflicts, err))
			}
			m.Retry("conflict")
			logger.Debug().Str("op", op).Int("conflicts", conflicts).Msg("version conflict, re-running")
		case domain.Retryable(err):
			failures++
			if failures >= attempts {
				return err
			}
			m.Retry("unavailable")
			logger.Warn().Err(err).Str("op", op).Int("attempt", failures).Dur("backoff", backoff).Msg("persistence unavailable, retrying")
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		default:
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
