package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrQueueShutdown is returned by transfers that had not started when
// [Queue.Shutdown] was called.
var ErrQueueShutdown = errors.New("queue has been shut down")

// WorkFunc drives one download or upload to completion.
type WorkFunc func(ctx context.Context) error

// Queue runs independent transfers concurrently, at most limit of them at
// a time. A single transfer still issues its requests one after another;
// the queue only overlaps separate transfers.
type Queue struct {
	slots   chan struct{}
	running sync.WaitGroup

	closeOnce sync.Once
	closing   chan struct{}

	mu     sync.Mutex
	failed []error
}

// NewQueue returns a Queue running at most limit transfers at once. A
// limit <= 0 means no limit.
func NewQueue(limit int) *Queue {
	q := &Queue{closing: make(chan struct{})}
	if limit > 0 {
		q.slots = make(chan struct{}, limit)
	}
	return q
}

// Go starts fn once a slot is free. name identifies the transfer in the
// error returned by [Queue.Wait].
func (q *Queue) Go(ctx context.Context, name string, fn WorkFunc) *Result {
	ctx, cancel := context.WithCancel(ctx)
	r := &Result{
		name:   name,
		done:   make(chan struct{}),
		cancel: cancel,
	}

	q.running.Add(1)
	go func() {
		defer q.running.Done()
		defer close(r.done)
		defer cancel()

		if err := q.acquire(ctx); err != nil {
			q.settle(r, err)
			return
		}
		defer q.release()

		start := time.Now()
		err := fn(ctx)
		r.elapsed = time.Since(start)
		q.settle(r, err)
	}()

	return r
}

func (q *Queue) acquire(ctx context.Context) error {
	select {
	case <-q.closing:
		return ErrQueueShutdown
	default:
	}

	if q.slots == nil {
		return nil
	}

	select {
	case q.slots <- struct{}{}:
	case <-q.closing:
		return ErrQueueShutdown
	case <-ctx.Done():
		return ctx.Err()
	}

	// Shutdown may have raced with a free slot.
	select {
	case <-q.closing:
		q.release()
		return ErrQueueShutdown
	default:
		return nil
	}
}

func (q *Queue) release() {
	if q.slots != nil {
		<-q.slots
	}
}

func (q *Queue) settle(r *Result, err error) {
	r.err = err
	if err == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, fmt.Errorf("%s: %w", r.name, err))
}

// Wait blocks until every started transfer has finished and returns their
// failures joined, each prefixed with its transfer's name.
func (q *Queue) Wait() error {
	q.running.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()

	return errors.Join(q.failed...)
}

// Shutdown fails every transfer still waiting for a slot, and every
// transfer started afterwards, with [ErrQueueShutdown]. Running transfers
// are left to finish.
func (q *Queue) Shutdown() {
	q.closeOnce.Do(func() { close(q.closing) })
}
