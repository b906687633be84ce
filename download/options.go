package download

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/adamwoolhether/resumable/checksum"
	"github.com/adamwoolhether/resumable/retry"
	"github.com/adamwoolhether/resumable/transport"
)

// Option defines optional settings shared by [Download] and [ChunkedDownload].
type Option func(*options) error

type options struct {
	start    *int64
	end      *int64
	header   http.Header
	stream   io.Writer
	alg      checksum.Algorithm
	algSet   bool
	policy   *retry.Policy
	logger   *slog.Logger
	timeout  transport.Timeout
	progress bool
}

// WithRange requests the inclusive byte range [start, end].
func WithRange(start, end int64) Option {
	return func(o *options) error {
		o.start = &start
		o.end = &end
		return nil
	}
}

// WithStart requests bytes from start onwards. A negative start on a
// single [Download] requests the last |start| bytes.
func WithStart(start int64) Option {
	return func(o *options) error {
		o.start = &start
		return nil
	}
}

// WithEnd requests bytes up to and including end.
func WithEnd(end int64) Option {
	return func(o *options) error {
		o.end = &end
		return nil
	}
}

// WithHeaders adds headers sent with every request, e.g. customer
// supplied encryption keys.
func WithHeaders(h http.Header) Option {
	return func(o *options) error {
		if h != nil {
			o.header = h.Clone()
		}
		return nil
	}
}

// WithStream writes the body of a single [Download] to w instead of
// leaving it on the response.
func WithStream(w io.Writer) Option {
	return func(o *options) error {
		if w == nil {
			return errors.New("stream must not be nil")
		}
		o.stream = w
		return nil
	}
}

// WithChecksum selects the digest verified against the server's
// X-Goog-Hash header. MD5 is used by default; [checksum.None] disables
// verification.
func WithChecksum(alg checksum.Algorithm) Option {
	return func(o *options) error {
		h, err := checksum.New(alg)
		if err != nil {
			return err
		}
		o.alg = h.Algorithm()
		o.algSet = true
		return nil
	}
}

// WithRetry replaces the default retry policy.
func WithRetry(p *retry.Policy) Option {
	return func(o *options) error {
		if p == nil {
			return errors.New("retry policy must not be nil")
		}
		o.policy = p
		return nil
	}
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithTimeout sets the connect/read timeouts passed to the transport.
func WithTimeout(t transport.Timeout) Option {
	return func(o *options) error {
		o.timeout = t
		return nil
	}
}

// WithProgress enables periodic progress logging.
func WithProgress() Option {
	return func(o *options) error {
		o.progress = true
		return nil
	}
}

func resolve(optFns []Option) (options, error) {
	opts := options{header: http.Header{}}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return options{}, err
		}
	}

	if !opts.algSet {
		opts.alg = checksum.MD5
	}
	if opts.policy == nil {
		opts.policy = retry.Default()
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}

	return opts, nil
}
