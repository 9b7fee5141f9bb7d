// Package retry runs an operation under bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const jitterFactor = 0.25

// NonRetryableError stops Do immediately.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration.
type Config struct {
	MaxAttempts  int           // 0 = retry until ctx is done
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // cap for the growing delay
	Multiplier   float64       // growth factor, typically 2.0
	AddJitter    bool          // randomize each delay by up to ±25%

	// OnRetry is called after a failed attempt, before sleeping.
	OnRetry func(attempt int, err error, next time.Duration)
}

// DefaultConfig returns the connect defaults used by the bridge.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  0,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// ExhaustedError is returned once MaxAttempts is reached.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do executes fn until it succeeds, returns a non-retryable error, the
// attempt budget is spent or ctx is done. It returns the number of attempts made.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) (int, error) {
	if cfg.InitialDelay < 0 {
		return 0, errors.New("retry: InitialDelay cannot be negative")
	}
	if cfg.MaxDelay < 0 {
		return 0, errors.New("retry: MaxDelay cannot be negative")
	}
	if cfg.Multiplier < 0 {
		return 0, errors.New("retry: Multiplier cannot be negative")
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.Multiplier > 1000 {
		cfg.Multiplier = 1000
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return 0, errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = cfg.InitialDelay
	schedule.MaxInterval = cfg.MaxDelay
	schedule.Multiplier = cfg.Multiplier
	schedule.RandomizationFactor = 0
	if cfg.AddJitter {
		schedule.RandomizationFactor = jitterFactor
	}
	schedule.MaxElapsedTime = 0
	schedule.Reset()

	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return attempt - 1, err
			}
			return attempt - 1, fmt.Errorf("retry cancelled before attempt %d: %w", attempt, errors.Join(err, lastErr))
		}

		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return attempt, err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return attempt, &ExhaustedError{Attempts: attempt, Err: lastErr}
		}

		sleep := schedule.NextBackOff()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}
}
