package throttle

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/adamwoolhether/resumable/internal/validate"
)

var (
	ErrInvalidConfig = errors.New("invalid throttle config")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config defines the throttle's requests per second and burst capacity.
type Config struct {
	RPS   float64 `name:"rps" validate:"gt=0"`
	Burst int     `name:"burst" validate:"gt=0"`
}

// throttle is an http.RoundTripper, using the time/rate token
// bucket limiter to restrict outbound calls.
type throttle struct {
	limiter *rate.Limiter
	cfg     Config
	next    http.RoundTripper
	logger  *slog.Logger
}

// NewRoundTripper wraps next with a token bucket limiter. A nil logger
// disables the exhausted/complete log pair.
func NewRoundTripper(cfg Config, logger *slog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if next == nil {
		next = http.DefaultTransport
	}

	t := &throttle{
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		cfg:     cfg,
		next:    next,
		logger:  logger,
	}

	return t, nil
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	if t.logger != nil && t.limiter.Tokens() < 1 {
		start := time.Now()
		t.logger.Debug("throttle tokens exhausted", "rate", t.cfg.RPS, "burst", t.cfg.Burst, "host", r.URL.Host)
		defer func() {
			t.logger.Debug("throttle wait complete", "waited", time.Since(start).Round(time.Millisecond).String(), "host", r.URL.Host)
		}()
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if err := ctx.Err(); err != nil { // Check context hasn't expired again.
		return nil, fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	return t.next.RoundTrip(r)
}
