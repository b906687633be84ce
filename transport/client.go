package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/adamwoolhether/resumable/throttle"
)

// Client is the buffered [Transport]. It wraps an [http.Client] whose
// RoundTripper chain is assembled by [Build].
type Client struct {
	hc      *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer
	timeout Timeout
}

// Build instantiates a new *Client with the provided options.
// If not specified, a copy of [http.DefaultClient] over
// [http.DefaultTransport] is used.
func Build(optFns ...Option) (*Client, error) {
	c := &Client{
		hc:      &http.Client{},
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer("no-op tracer"),
		timeout: DefaultTimeout,
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying transport option: %w", err)
		}
	}

	if opts.client != nil {
		cpy := *opts.client
		c.hc = &cpy
	}
	if opts.logger != nil {
		c.logger = opts.logger
	}
	if opts.tracer != nil {
		c.tracer = opts.tracer
	}
	if opts.timeout != nil {
		c.timeout = opts.timeout.or(DefaultTimeout)
	}

	var rt http.RoundTripper
	switch {
	case opts.rt != nil:
		rt = opts.rt
	case opts.client != nil && opts.client.Transport != nil:
		rt = opts.client.Transport
	default:
		rt = http.DefaultTransport
	}
	if opts.tokenSource != nil {
		rt = &oauth2.Transport{Source: opts.tokenSource, Base: rt}
	}
	if opts.userAgent != "" {
		rt = userAgent{value: opts.userAgent, base: rt}
	}
	if opts.throttle != nil {
		throttled, err := throttle.NewRoundTripper(*opts.throttle, c.logger, rt)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		rt = throttled
	}
	c.hc.Transport = rt

	return c, nil
}

// RoundTrip performs req and buffers the whole response body in memory.
// The returned body never blocks on the network.
func (c *Client) RoundTrip(ctx context.Context, req *Request) (*http.Response, error) {
	resp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(b))

	return resp, nil
}

// Raw returns the streaming flavor of c, sharing its configuration.
func (c *Client) Raw() *Raw {
	return &Raw{c: c}
}

// Raw is the streaming [Transport]. Bodies are returned undecoded and are
// read from the network as the caller consumes them.
type Raw struct {
	c *Client
}

// RoundTrip performs req, returning as soon as response headers arrive.
func (r *Raw) RoundTrip(ctx context.Context, req *Request) (*http.Response, error) {
	return r.c.do(ctx, req, true)
}

func (c *Client) do(ctx context.Context, req *Request, raw bool) (*http.Response, error) {
	ctx, span := c.tracer.Start(ctx, "transport.roundtrip", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}
	for k, v := range req.Header {
		for _, element := range v {
			httpReq.Header.Add(k, element)
		}
	}
	if raw && httpReq.Header.Get("Accept-Encoding") == "" {
		// An explicit value stops net/http from decoding gzip on our behalf.
		httpReq.Header.Set("Accept-Encoding", "gzip")
	}

	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("server.address", httpReq.URL.Host),
		attribute.Int("http.request.body.size", len(req.Body)),
		attribute.Bool("raw", raw),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	timeout := req.Timeout.or(c.timeout)
	httpReq, wd := watch(httpReq, timeout)

	start := time.Now()
	resp, err := c.hc.Do(httpReq)
	if err != nil {
		err = wd.explain(err)
		wd.release()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("request failed", "method", req.Method, "url", req.URL, "error", err)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.Debug("request complete",
		"method", req.Method,
		"url", req.URL,
		"status", resp.StatusCode,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	resp.Body = &watchedBody{rc: resp.Body, wd: wd}

	return resp, nil
}
