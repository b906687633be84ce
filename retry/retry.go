package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/adamwoolhether/resumable/internal/validate"
	"github.com/adamwoolhether/resumable/transfer"
)

// Config is the resolved backoff configuration of a [Policy]. Exactly one
// of MaxCumulativeRetry and MaxRetries is in effect; UseMaxRetries says which.
type Config struct {
	InitialDelay       time.Duration `name:"initial_delay" validate:"gt=0"`
	Multiplier         float64       `name:"multiplier" validate:"gte=1"`
	MaxSleep           time.Duration `name:"max_sleep" validate:"gtefield=InitialDelay"`
	MaxCumulativeRetry time.Duration `name:"max_cumulative_retry" validate:"gte=0"`
	MaxRetries         int           `name:"max_retries" validate:"gte=0"`
	MaxJitter          time.Duration `name:"max_jitter" validate:"gte=0"`
	UseMaxRetries      bool
}

// Func performs one attempt of a request.
type Func func(ctx context.Context) (*http.Response, error)

// Policy decides whether and how long to wait before retrying a request.
// A Policy holds no per-request state and may be shared.
type Policy struct {
	cfg    Config
	logger *slog.Logger

	jitter func() time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a Policy. Without options it retries with the defaults: a
// 1s initial delay doubling up to 64s, for at most 600s of total sleep.
func New(optFns ...Option) (*Policy, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying retry option: %w", err)
		}
	}

	cfg := Config{
		InitialDelay:       DefaultInitialDelay,
		Multiplier:         DefaultMultiplier,
		MaxSleep:           DefaultMaxSleep,
		MaxCumulativeRetry: DefaultMaxCumulativeRetry,
		MaxJitter:          DefaultMaxJitter,
	}
	if opts.initialDelay != nil {
		cfg.InitialDelay = *opts.initialDelay
	}
	if opts.multiplier != nil {
		cfg.Multiplier = *opts.multiplier
	}
	if opts.maxSleep != nil {
		cfg.MaxSleep = *opts.maxSleep
	}
	if opts.maxCumulative != nil {
		cfg.MaxCumulativeRetry = *opts.maxCumulative
	}
	if opts.maxJitter != nil {
		cfg.MaxJitter = *opts.maxJitter
	}
	if opts.maxRetries != nil {
		cfg.MaxRetries = *opts.maxRetries
		cfg.MaxCumulativeRetry = 0
		cfg.UseMaxRetries = true
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating retry config: %w", err)
	}

	p := &Policy{
		cfg:    cfg,
		logger: slog.Default(),
		jitter: func() time.Duration {
			if cfg.MaxJitter <= 0 {
				return 0
			}
			return rand.N(cfg.MaxJitter)
		},
		sleep:  sleepCtx,
	}
	if opts.logger != nil {
		p.logger = opts.logger
	}

	return p, nil
}

// Default returns a Policy with the default configuration.
func Default() *Policy {
	p, err := New()
	if err != nil {
		panic(err)
	}
	return p
}

// Never returns a Policy that performs a single attempt.
func Never() *Policy {
	p, err := New(WithMaxRetries(0))
	if err != nil {
		panic(err)
	}
	return p
}

// Config returns the resolved configuration.
func (p *Policy) Config() Config { return p.cfg }

// Backoff returns the wait before retry attempt (zero based), without
// jitter: initial * multiplier^attempt, capped at max.
func Backoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	wait := float64(initial) * math.Pow(multiplier, float64(attempt))
	if wait >= float64(max) || math.IsInf(wait, 0) {
		return max
	}
	return time.Duration(wait)
}

// Wait returns the jittered wait before retry attempt.
func (p *Policy) Wait(attempt int) time.Duration {
	return Backoff(attempt, p.cfg.InitialDelay, p.cfg.MaxSleep, p.cfg.Multiplier) + p.jitter()
}

// Allowed reports whether another retry fits the budget, given the sleep
// accumulated so far (including the pending wait) and retries counted so
// far (including the pending retry).
func (p *Policy) Allowed(totalSleep time.Duration, retries int) bool {
	if p.cfg.UseMaxRetries {
		return retries <= p.cfg.MaxRetries
	}
	return totalSleep <= p.cfg.MaxCumulativeRetry
}

// RetryableStatus reports whether code signals a transient server failure.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// RetryableError reports whether err is a connection-level failure worth
// retrying. Errors it does not recognise are treated as permanent.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// Do calls fn until it yields a response that is not retryable, or the
// budget is spent. Attempts run strictly one after another. When the
// budget runs out Do returns the last response, or the last error if the
// final attempt failed at the connection level. Bodies of superseded
// responses are drained and closed.
func (p *Policy) Do(ctx context.Context, fn Func) (*http.Response, error) {
	var (
		totalSleep time.Duration
		retries    int
	)

	for {
		resp, err := fn(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil || !RetryableError(err) {
				return nil, err
			}
		case !RetryableStatus(resp.StatusCode):
			return resp, nil
		}

		wait := p.Wait(retries)
		retries++
		totalSleep += wait
		if !p.Allowed(totalSleep, retries) {
			if err != nil {
				return nil, err
			}
			return resp, nil
		}

		attrs := []any{"retry", retries, "wait", wait.Round(time.Millisecond)}
		if err != nil {
			attrs = append(attrs, "error", err)
		} else {
			attrs = append(attrs, "status", resp.StatusCode)
			transfer.Close(resp, p.logger)
		}
		p.logger.Warn("retrying request", attrs...)

		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
