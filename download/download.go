package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/adamwoolhether/resumable/byterange"
	"github.com/adamwoolhether/resumable/checksum"
	"github.com/adamwoolhether/resumable/retry"
	"github.com/adamwoolhether/resumable/transfer"
	"github.com/adamwoolhether/resumable/transport"
)

// Download fetches a whole object, or a slice of it, in a single request.
type Download struct {
	url      string
	header   http.Header
	start    *int64
	end      *int64
	stream   io.Writer
	alg      checksum.Algorithm
	raw      bool
	policy   *retry.Policy
	logger   *slog.Logger
	timeout  transport.Timeout
	progress bool
	state    transfer.State
}

// New returns a Download of mediaURL. When a stream is attached the body
// is gzip-decoded, if the server encoded it, after the digest is taken.
func New(mediaURL string, optFns ...Option) (*Download, error) {
	return newDownload(mediaURL, false, optFns)
}

// NewRaw returns a Download that writes the body exactly as it was sent,
// never decoding it.
func NewRaw(mediaURL string, optFns ...Option) (*Download, error) {
	return newDownload(mediaURL, true, optFns)
}

func newDownload(mediaURL string, raw bool, optFns []Option) (*Download, error) {
	if mediaURL == "" {
		return nil, fmt.Errorf("media url must not be empty")
	}

	opts, err := resolve(optFns)
	if err != nil {
		return nil, fmt.Errorf("applying download option: %w", err)
	}
	if err := byterange.Validate(opts.start, opts.end); err != nil {
		return nil, err
	}

	id := transfer.NewInvocationID()
	transfer.SetInvocationID(opts.header, id)

	return &Download{
		url:      mediaURL,
		header:   opts.header,
		start:    opts.start,
		end:      opts.end,
		stream:   opts.stream,
		alg:      opts.alg,
		raw:      raw,
		policy:   opts.policy,
		logger:   opts.logger.With("invocation_id", id),
		timeout:  opts.timeout,
		progress: opts.progress,
		state:    transfer.StateActive,
	}, nil
}

// URL returns the media URL.
func (d *Download) URL() string { return d.url }

// Finished reports whether the download has been used.
func (d *Download) Finished() bool { return d.state == transfer.StateFinished }

// PrepareRequest builds the GET for this download without performing it.
func (d *Download) PrepareRequest() (*transport.Request, error) {
	if d.Finished() {
		return nil, transfer.ErrAlreadyFinished
	}

	header := d.header.Clone()
	if v := byterange.Encode(d.start, d.end); v != "" {
		header.Set("Range", v)
	}

	return &transport.Request{
		Method:  http.MethodGet,
		URL:     d.url,
		Header:  header,
		Timeout: d.timeout,
	}, nil
}

// ProcessResponse tombstones the download and validates the status. The
// download is finished even when the status is rejected.
func (d *Download) ProcessResponse(resp *http.Response) error {
	if d.Finished() {
		return transfer.ErrAlreadyFinished
	}
	d.state.Advance(transfer.StateFinished)
	return transfer.RequireStatus(resp, http.StatusOK, http.StatusPartialContent)
}

// Consume performs the download over t. When a stream is attached the
// body is written to it and closed; otherwise the caller must read and
// close the returned response's body. Protocol errors are returned
// alongside the response that caused them.
func (d *Download) Consume(ctx context.Context, t transport.Transport) (*http.Response, error) {
	req, err := d.PrepareRequest()
	if err != nil {
		return nil, err
	}

	resp, err := d.policy.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		return t.RoundTrip(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", d.url, err)
	}

	if err := d.ProcessResponse(resp); err != nil {
		return resp, err
	}

	if d.stream == nil {
		return resp, nil
	}
	defer transfer.Close(resp, d.logger)

	if err := d.writeToStream(resp); err != nil {
		return resp, err
	}

	return resp, nil
}

// expectedDigest returns the digest to verify the body against, or "" if
// no verification is possible for resp.
func (d *Download) expectedDigest(resp *http.Response) (string, error) {
	if d.alg == checksum.None || resp.StatusCode == http.StatusPartialContent {
		return "", nil
	}

	expected, err := checksum.Expected(resp.Header, d.alg)
	if err != nil {
		return "", transfer.MalformedHeader(resp, checksum.HashHeader, err)
	}

	switch {
	case expected == "":
		d.logger.Info("no checksum was returned by the service, so client-side content integrity checking is not being performed",
			"url", d.url, "algorithm", d.alg)
	case resp.Uncompressed:
		d.logger.Info("response was decoded by the transport, so client-side content integrity checking is not being performed",
			"url", d.url, "algorithm", d.alg)
		return "", nil
	}

	return expected, nil
}

func (d *Download) writeToStream(resp *http.Response) error {
	expected, err := d.expectedDigest(resp)
	if err != nil {
		return err
	}

	hasher, err := checksum.New(d.alg)
	if err != nil {
		return err
	}

	var progress *transfer.Progress
	if d.progress {
		progress = transfer.NewProgress(d.logger, "download", resp.ContentLength)
	}

	wire := io.TeeReader(resp.Body, hasher)
	dst := progress.Writer(d.stream)

	if !d.raw && isGzip(resp) {
		zr, err := gzip.NewReader(wire)
		if err != nil {
			return fmt.Errorf("decoding gzip body: %w", err)
		}
		if _, err := io.Copy(dst, zr); err != nil {
			return fmt.Errorf("writing to stream: %w", err)
		}
		if err := zr.Close(); err != nil {
			return fmt.Errorf("decoding gzip body: %w", err)
		}
		// Anything after the gzip trailer still counts toward the digest.
		if _, err := io.Copy(io.Discard, wire); err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
	} else if _, err := io.Copy(dst, wire); err != nil {
		return fmt.Errorf("writing to stream: %w", err)
	}

	return hasher.Verify(resp, d.url, expected)
}

func isGzip(resp *http.Response) bool {
	return !resp.Uncompressed && strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip")
}
