package retry

import (
	"errors"
	"log/slog"
	"time"
)

const (
	DefaultInitialDelay       = time.Second
	DefaultMultiplier         = 2.0
	DefaultMaxSleep           = 64 * time.Second
	DefaultMaxCumulativeRetry = 600 * time.Second
	DefaultMaxJitter          = time.Second
)

// ErrConflictingLimits is returned when both a cumulative sleep budget and
// a retry count are configured.
var ErrConflictingLimits = errors.New("at most one of max cumulative retry and max retries can be specified")

// Option is a functional option for configuring a [Policy] via [New].
type Option func(*options) error

type options struct {
	initialDelay  *time.Duration
	multiplier    *float64
	maxSleep      *time.Duration
	maxCumulative *time.Duration
	maxRetries    *int
	maxJitter     *time.Duration
	logger        *slog.Logger
}

// WithInitialDelay sets the wait before the first retry, excluding jitter.
func WithInitialDelay(d time.Duration) Option {
	return func(o *options) error {
		o.initialDelay = &d
		return nil
	}
}

// WithMultiplier sets the growth factor applied to the wait per retry.
func WithMultiplier(m float64) Option {
	return func(o *options) error {
		o.multiplier = &m
		return nil
	}
}

// WithMaxSleep caps a single wait, excluding jitter.
func WithMaxSleep(d time.Duration) Option {
	return func(o *options) error {
		o.maxSleep = &d
		return nil
	}
}

// WithMaxCumulativeRetry caps the total time spent sleeping between retries.
func WithMaxCumulativeRetry(d time.Duration) Option {
	return func(o *options) error {
		if o.maxRetries != nil {
			return ErrConflictingLimits
		}
		o.maxCumulative = &d
		return nil
	}
}

// WithMaxRetries caps the number of retries instead of the cumulative sleep.
func WithMaxRetries(n int) Option {
	return func(o *options) error {
		if o.maxCumulative != nil {
			return ErrConflictingLimits
		}
		o.maxRetries = &n
		return nil
	}
}

// WithMaxJitter bounds the random delay added to every wait. Zero
// disables jitter.
func WithMaxJitter(d time.Duration) Option {
	return func(o *options) error {
		o.maxJitter = &d
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] for retry warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}
