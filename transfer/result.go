package transfer

import (
	"context"
	"time"
)

// Result tracks one transfer started by [Queue.Go].
type Result struct {
	name    string
	done    chan struct{}
	cancel  context.CancelFunc
	err     error
	elapsed time.Duration
}

// Name returns the name the transfer was started with.
func (r *Result) Name() string { return r.name }

// Done is closed once the transfer has finished or was never started.
func (r *Result) Done() <-chan struct{} { return r.done }

// Err blocks until the transfer is done and returns its error.
func (r *Result) Err() error {
	<-r.done
	return r.err
}

// Elapsed blocks until the transfer is done and returns how long it ran,
// excluding time spent waiting for a slot. It is zero for transfers that
// never started.
func (r *Result) Elapsed() time.Duration {
	<-r.done
	return r.elapsed
}

// Cancel cancels the transfer's context. A running transfer stops at its
// next request boundary; a waiting one never starts.
func (r *Result) Cancel() {
	r.cancel()
}
