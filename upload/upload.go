package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/adamwoolhether/resumable/checksum"
	"github.com/adamwoolhether/resumable/retry"
	"github.com/adamwoolhether/resumable/transfer"
	"github.com/adamwoolhether/resumable/transport"
)

// base carries what every upload kind shares.
type base struct {
	url      string
	header   http.Header
	alg      checksum.Algorithm
	policy   *retry.Policy
	logger   *slog.Logger
	timeout  transport.Timeout
	progress bool
	state    transfer.State
}

func newBase(uploadURL string, optFns []Option) (base, options, error) {
	if uploadURL == "" {
		return base{}, options{}, errors.New("upload url must not be empty")
	}

	opts, err := resolve(optFns)
	if err != nil {
		return base{}, options{}, fmt.Errorf("applying upload option: %w", err)
	}

	id := transfer.NewInvocationID()
	transfer.SetInvocationID(opts.header, id)

	b := base{
		url:      uploadURL,
		header:   opts.header,
		alg:      opts.alg,
		policy:   opts.policy,
		logger:   opts.logger.With("invocation_id", id),
		timeout:  opts.timeout,
		progress: opts.progress,
		state:    transfer.StateActive,
	}

	return b, opts, nil
}

// UploadURL returns the URL uploads are sent to.
func (b *base) UploadURL() string { return b.url }

// Finished reports whether the upload has completed, successfully or not.
func (b *base) Finished() bool { return b.state == transfer.StateFinished }

func (b *base) send(ctx context.Context, t transport.Transport, req *transport.Request) (*http.Response, error) {
	resp, err := b.policy.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		return t.RoundTrip(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("uploading to %s: %w", req.URL, err)
	}
	return resp, nil
}

// verify compares hasher against the digest the server reported for the
// completed upload at url.
func (b *base) verify(resp *http.Response, url string, hasher *checksum.Hasher) error {
	if !hasher.Enabled() {
		return nil
	}

	expected, err := serverDigest(resp, hasher.Algorithm())
	if err != nil {
		return err
	}
	if expected == "" {
		b.logger.Info("no checksum was returned by the service, so client-side content integrity checking is not being performed",
			"url", url, "algorithm", hasher.Algorithm())
		return nil
	}

	return hasher.Verify(resp, url, expected)
}

// serverDigest reads the digest for alg from the hash header and falls
// back to the object resource in the body. The body is put back on resp
// so callers can still decode it.
func serverDigest(resp *http.Response, alg checksum.Algorithm) (string, error) {
	expected, err := checksum.Expected(resp.Header, alg)
	if err != nil {
		return "", transfer.MalformedHeader(resp, checksum.HashHeader, err)
	}
	if expected != "" || resp.Body == nil {
		return expected, nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}

	expected, err = checksum.FromMetadata(body, alg)
	if err != nil {
		return "", &transfer.InvalidResponseError{
			Response: resp,
			Message:  "upload response is not an object resource",
			Err:      err,
		}
	}

	return expected, nil
}

// SimpleUpload sends an object's bytes in a single request with no
// metadata.
type SimpleUpload struct {
	base
	hasher *checksum.Hasher
}

// NewSimple returns a SimpleUpload to uploadURL.
func NewSimple(uploadURL string, optFns ...Option) (*SimpleUpload, error) {
	b, _, err := newBase(uploadURL, optFns)
	if err != nil {
		return nil, err
	}
	return &SimpleUpload{base: b}, nil
}

// PrepareRequest builds the POST carrying data without performing it.
func (u *SimpleUpload) PrepareRequest(data []byte, contentType string) (*transport.Request, error) {
	if u.Finished() {
		return nil, transfer.ErrAlreadyFinished
	}

	hasher, err := checksum.New(u.alg)
	if err != nil {
		return nil, err
	}
	_, _ = hasher.Write(data)
	u.hasher = hasher

	header := u.header.Clone()
	header.Set("Content-Type", contentType)

	return &transport.Request{
		Method:  http.MethodPost,
		URL:     u.url,
		Body:    data,
		Header:  header,
		Timeout: u.timeout,
	}, nil
}

// ProcessResponse tombstones the upload, validates the status and
// verifies the digest of the sent bytes.
func (u *SimpleUpload) ProcessResponse(resp *http.Response) error {
	if u.Finished() {
		return transfer.ErrAlreadyFinished
	}
	u.state.Advance(transfer.StateFinished)
	if err := transfer.RequireStatus(resp, http.StatusOK); err != nil {
		return err
	}
	return u.verify(resp, u.url, u.hasher)
}

// Transmit uploads data over t. The response carries the object resource
// and is returned alongside any protocol error.
func (u *SimpleUpload) Transmit(ctx context.Context, t transport.Transport, data []byte, contentType string) (*http.Response, error) {
	req, err := u.PrepareRequest(data, contentType)
	if err != nil {
		return nil, err
	}

	resp, err := u.send(ctx, t, req)
	if err != nil {
		return nil, err
	}
	if err := u.ProcessResponse(resp); err != nil {
		return resp, err
	}

	u.reportDone(int64(len(data)))
	return resp, nil
}

func (b *base) reportDone(n int64) {
	if b.progress {
		transfer.NewProgress(b.logger, "upload", n).Set(n)
	}
}

// MultipartUpload sends an object's metadata and bytes together in a
// single multipart/related request.
type MultipartUpload struct {
	base
	hasher *checksum.Hasher
}

// NewMultipart returns a MultipartUpload to uploadURL.
func NewMultipart(uploadURL string, optFns ...Option) (*MultipartUpload, error) {
	b, _, err := newBase(uploadURL, optFns)
	if err != nil {
		return nil, err
	}
	return &MultipartUpload{base: b}, nil
}

// PrepareRequest builds the POST carrying metadata and data without
// performing it. metadata may be encoded JSON ([]byte or
// [json.RawMessage]) or any value encoding/json can marshal.
func (u *MultipartUpload) PrepareRequest(data []byte, metadata any, contentType string) (*transport.Request, error) {
	if u.Finished() {
		return nil, transfer.ErrAlreadyFinished
	}

	meta, err := encodeMetadata(metadata)
	if err != nil {
		return nil, err
	}

	hasher, err := checksum.New(u.alg)
	if err != nil {
		return nil, err
	}
	_, _ = hasher.Write(data)
	u.hasher = hasher

	body, boundary := constructMultipart(data, meta, contentType)

	header := u.header.Clone()
	header.Set("Content-Type", fmt.Sprintf(`multipart/related; boundary="%s"`, boundary))

	return &transport.Request{
		Method:  http.MethodPost,
		URL:     u.url,
		Body:    body,
		Header:  header,
		Timeout: u.timeout,
	}, nil
}

// ProcessResponse tombstones the upload, validates the status and
// verifies the digest of the sent bytes.
func (u *MultipartUpload) ProcessResponse(resp *http.Response) error {
	if u.Finished() {
		return transfer.ErrAlreadyFinished
	}
	u.state.Advance(transfer.StateFinished)
	if err := transfer.RequireStatus(resp, http.StatusOK); err != nil {
		return err
	}
	return u.verify(resp, u.url, u.hasher)
}

// Transmit uploads metadata and data over t.
func (u *MultipartUpload) Transmit(ctx context.Context, t transport.Transport, data []byte, metadata any, contentType string) (*http.Response, error) {
	req, err := u.PrepareRequest(data, metadata, contentType)
	if err != nil {
		return nil, err
	}

	resp, err := u.send(ctx, t, req)
	if err != nil {
		return nil, err
	}
	if err := u.ProcessResponse(resp); err != nil {
		return resp, err
	}

	u.reportDone(int64(len(data)))
	return resp, nil
}

const jsonType = "application/json; charset=UTF-8"

func encodeMetadata(metadata any) ([]byte, error) {
	switch m := metadata.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		return b, nil
	}
}

func newBoundary() string {
	return "===============" + strings.ReplaceAll(uuid.NewString(), "-", "") + "=="
}

// constructMultipart frames metadata and data as a two part
// multipart/related body.
func constructMultipart(data, metadata []byte, contentType string) ([]byte, string) {
	boundary := newBoundary()
	delim := "--" + boundary

	var buf bytes.Buffer
	buf.Grow(len(data) + len(metadata) + 3*len(delim) + 128)

	buf.WriteString(delim + "\r\n")
	buf.WriteString("content-type: " + jsonType + "\r\n\r\n")
	buf.Write(metadata)
	buf.WriteString("\r\n" + delim + "\r\n")
	buf.WriteString("content-type: " + contentType + "\r\n\r\n")
	buf.Write(data)
	buf.WriteString("\r\n" + delim + "--")

	return buf.Bytes(), boundary
}
