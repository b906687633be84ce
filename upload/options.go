package upload

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/adamwoolhether/resumable/checksum"
	"github.com/adamwoolhether/resumable/retry"
	"github.com/adamwoolhether/resumable/transport"
)

// Option defines optional settings shared by every upload kind.
type Option func(*options) error

type options struct {
	header      http.Header
	alg         checksum.Algorithm
	algSet      bool
	policy      *retry.Policy
	logger      *slog.Logger
	timeout     transport.Timeout
	progress    bool
	autoRecover int
}

// WithHeaders adds headers sent with every request of the upload, e.g.
// customer supplied encryption keys. Content-Type and Content-Range are
// managed by the upload and override anything set here.
func WithHeaders(h http.Header) Option {
	return func(o *options) error {
		if h != nil {
			o.header = h.Clone()
		}
		return nil
	}
}

// WithChecksum selects the digest computed over the uploaded bytes and
// compared to the one the server reports on completion. MD5 is used by
// default; [checksum.None] disables verification.
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

// WithAutoRecover lets [ResumableUpload.TransmitAll] recover from up to
// n invalid chunk responses before giving up. It has no effect on other
// upload kinds.
func WithAutoRecover(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.New("auto recover count must not be negative")
		}
		o.autoRecover = n
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

// InitiateOption configures [ResumableUpload.Initiate].
type InitiateOption func(*initiateOptions)

type initiateOptions struct {
	totalBytes  *int64
	streamFinal bool
}

// WithTotalBytes declares the upload size instead of measuring the
// stream.
func WithTotalBytes(n int64) InitiateOption {
	return func(o *initiateOptions) {
		o.totalBytes = &n
	}
}

// WithStreamFinal(false) marks a stream that may still grow, so its size
// is not measured up front. The total becomes known when a chunk comes
// back short.
func WithStreamFinal(final bool) InitiateOption {
	return func(o *initiateOptions) {
		o.streamFinal = final
	}
}
