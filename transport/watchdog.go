package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// watchdog cancels a request when the connection or the server goes quiet
// for longer than allowed.
type watchdog struct {
	mu     sync.Mutex
	timer  *time.Timer
	ctx    context.Context
	cancel context.CancelCauseFunc
	read   time.Duration
}

// watch arms the connect timeout on r and switches to the read timeout
// once the request has been written.
func watch(r *http.Request, t Timeout) (*http.Request, *watchdog) {
	ctx, cancel := context.WithCancelCause(r.Context())
	wd := &watchdog{ctx: ctx, cancel: cancel, read: t.Read}
	wd.arm(t.Connect, "connect")

	ct := &httptrace.ClientTrace{
		GotConn:              func(httptrace.GotConnInfo) { wd.disarm() },
		WroteRequest:         func(httptrace.WroteRequestInfo) { wd.arm(t.Read, "read") },
		GotFirstResponseByte: func() { wd.disarm() },
	}

	return r.WithContext(httptrace.WithClientTrace(ctx, ct)), wd
}

func (wd *watchdog) arm(d time.Duration, phase string) {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	if wd.timer != nil {
		wd.timer.Stop()
		wd.timer = nil
	}
	if d <= 0 {
		return
	}
	wd.timer = time.AfterFunc(d, func() {
		wd.cancel(&TimeoutError{Phase: phase, After: d})
	})
}

func (wd *watchdog) disarm() {
	wd.arm(0, "")
}

// explain swaps a context cancellation caused by the watchdog for the
// timeout that triggered it.
func (wd *watchdog) explain(err error) error {
	var te *TimeoutError
	if cause := context.Cause(wd.ctx); errors.As(cause, &te) {
		return te
	}
	return err
}

func (wd *watchdog) release() {
	wd.disarm()
	wd.cancel(nil)
}

// watchedBody applies the read timeout to every body read and releases
// the request context on Close.
type watchedBody struct {
	rc io.ReadCloser
	wd *watchdog
}

func (b *watchedBody) Read(p []byte) (int, error) {
	b.wd.arm(b.wd.read, "read")
	n, err := b.rc.Read(p)
	b.wd.disarm()
	if err != nil && !errors.Is(err, io.EOF) {
		err = b.wd.explain(err)
	}
	return n, err
}

func (b *watchedBody) Close() error {
	err := b.rc.Close()
	b.wd.release()
	return err
}
