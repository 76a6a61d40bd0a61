package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent wraps an error that must not be retried. Use [Permanent] to
// mark one.
var ErrPermanent = errors.New("permanent failure")

// Permanent marks err as non-retryable for [Retry].
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPermanent, err)
}

// RetryConfig tunes the exponential backoff schedule used by [Retry].
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Default: 2.
	MaxRetries int

	// InitialBackoff is the delay before the first retry; each subsequent
	// retry doubles it. Default: 500ms.
	InitialBackoff time.Duration
}

// Retry runs fn up to 1+MaxRetries times with exponential backoff between
// attempts. It stops early when fn succeeds, returns an error marked with
// [Permanent], or ctx is done. The last error is returned on exhaustion.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}

	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(ctx.Err(), lastErr)
			case <-timer.C:
			}
			backoff *= 2
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
