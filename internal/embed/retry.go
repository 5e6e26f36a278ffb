package embed

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior for embedding calls.
type RetryConfig struct {
	MaxRetries   int           // Retry attempts beyond the initial one
	InitialDelay time.Duration // Delay before first retry
	MaxDelay     time.Duration // Cap on backoff delay
	Multiplier   float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// WithRetry executes fn with exponential backoff. Context cancellation is
// honored both before an attempt and while waiting between attempts.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err != nil {
			lastErr = err
			if attempt >= cfg.MaxRetries {
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}

		return nil
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
