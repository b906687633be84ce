package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Timeout is the per-request connect/read timeout pair. A zero field uses
// the client default; a negative one disables that timeout.
type Timeout struct {
	Connect time.Duration
	Read    time.Duration
}

// DefaultTimeout avoids a connect timeout that is a multiple of three
// seconds, which would line up with TCP retransmission timing.
var DefaultTimeout = Timeout{
	Connect: 61 * time.Second,
	Read:    60 * time.Second,
}

func (t Timeout) or(def Timeout) Timeout {
	if t.Connect == 0 {
		t.Connect = def.Connect
	}
	if t.Read == 0 {
		t.Read = def.Read
	}
	return t
}

// Request is a fully prepared HTTP request. State machines build it
// without doing any I/O.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Header  http.Header
	Timeout Timeout
}

// Transport performs a single request. The caller must close the
// response body.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*http.Response, error)
}

// TransportFunc adapts a function to [Transport].
type TransportFunc func(ctx context.Context, req *Request) (*http.Response, error)

func (f TransportFunc) RoundTrip(ctx context.Context, req *Request) (*http.Response, error) {
	return f(ctx, req)
}

// TimeoutError reports a connect or read timeout. It implements
// [net.Error] so callers classify it as a connection failure.
type TimeoutError struct {
	Phase string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout after %v", e.Phase, e.After)
}

func (e *TimeoutError) Timeout() bool   { return true }
func (e *TimeoutError) Temporary() bool { return true }
