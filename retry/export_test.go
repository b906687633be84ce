package retry

import (
	"context"
	"time"
)

// Stub replaces the jitter source and sleeper so tests run instantly and
// observe every wait.
func Stub(p *Policy, jitter time.Duration, slept *[]time.Duration) {
	p.jitter = func() time.Duration { return jitter }
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
}
