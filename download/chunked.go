package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/adamwoolhether/resumable/byterange"
	"github.com/adamwoolhether/resumable/checksum"
	"github.com/adamwoolhether/resumable/internal/validate"
	"github.com/adamwoolhether/resumable/retry"
	"github.com/adamwoolhether/resumable/transfer"
	"github.com/adamwoolhether/resumable/transport"
)

type chunkedParams struct {
	ChunkSize int64 `name:"chunk_size" validate:"gt=0"`
	Start     int64 `name:"start" validate:"gte=0"`
}

// ChunkedDownload fetches an object, or a slice of it, chunkSize bytes per
// request.
type ChunkedDownload struct {
	url       string
	header    http.Header
	start     int64
	end       *int64
	chunkSize int64
	stream    io.Writer
	raw       bool
	policy    *retry.Policy
	logger    *slog.Logger
	timeout   transport.Timeout

	bytesDownloaded int64
	totalBytes      *int64
	hasher          *checksum.Hasher
	expected        string
	decoder         *gzipSink
	progress        *transfer.Progress
	state           transfer.State
	invalid         bool
}

// NewChunked returns a ChunkedDownload of mediaURL writing to stream.
// Start defaults to 0 and must not be negative; chunkSize must be
// positive. Chunks encoded with gzip are decoded before being written.
func NewChunked(mediaURL string, chunkSize int64, stream io.Writer, optFns ...Option) (*ChunkedDownload, error) {
	return newChunked(mediaURL, chunkSize, stream, false, optFns)
}

// NewRawChunked returns a ChunkedDownload that writes chunks exactly as
// they were sent.
func NewRawChunked(mediaURL string, chunkSize int64, stream io.Writer, optFns ...Option) (*ChunkedDownload, error) {
	return newChunked(mediaURL, chunkSize, stream, true, optFns)
}

func newChunked(mediaURL string, chunkSize int64, stream io.Writer, raw bool, optFns []Option) (*ChunkedDownload, error) {
	if mediaURL == "" {
		return nil, errors.New("media url must not be empty")
	}
	if stream == nil {
		return nil, errors.New("stream must not be nil")
	}

	opts, err := resolve(optFns)
	if err != nil {
		return nil, fmt.Errorf("applying download option: %w", err)
	}
	if opts.stream != nil {
		return nil, errors.New("chunked downloads take their stream as an argument")
	}

	var start int64
	if opts.start != nil {
		start = *opts.start
	}
	if err := validate.Struct(chunkedParams{ChunkSize: chunkSize, Start: start}); err != nil {
		return nil, fmt.Errorf("%w: %w", transfer.ErrInvalidRange, err)
	}
	if err := byterange.Validate(&start, opts.end); err != nil {
		return nil, err
	}

	hasher, err := checksum.New(opts.alg)
	if err != nil {
		return nil, err
	}

	id := transfer.NewInvocationID()
	transfer.SetInvocationID(opts.header, id)
	logger := opts.logger.With("invocation_id", id)

	cd := &ChunkedDownload{
		url:       mediaURL,
		header:    opts.header,
		start:     start,
		end:       opts.end,
		chunkSize: chunkSize,
		stream:    stream,
		raw:       raw,
		policy:    opts.policy,
		logger:    logger,
		timeout:   opts.timeout,
		hasher:    hasher,
		state:     transfer.StateActive,
	}
	if opts.progress {
		cd.progress = transfer.NewProgress(logger, "download", -1)
	}

	return cd, nil
}

// URL returns the media URL.
func (cd *ChunkedDownload) URL() string { return cd.url }

// Logger returns the logger the download reports to, tagged with its
// invocation id.
func (cd *ChunkedDownload) Logger() *slog.Logger { return cd.logger }

// ChunkSize returns the number of bytes requested per chunk.
func (cd *ChunkedDownload) ChunkSize() int64 { return cd.chunkSize }

// BytesDownloaded returns the number of bytes written so far.
func (cd *ChunkedDownload) BytesDownloaded() int64 { return cd.bytesDownloaded }

// TotalBytes returns the object size once a response has reported it.
func (cd *ChunkedDownload) TotalBytes() (int64, bool) {
	if cd.totalBytes == nil {
		return 0, false
	}
	return *cd.totalBytes, true
}

// Finished reports whether the whole requested range has been written.
func (cd *ChunkedDownload) Finished() bool { return cd.state == transfer.StateFinished }

// Invalid reports whether a response broke the protocol. An invalid
// download cannot continue.
func (cd *ChunkedDownload) Invalid() bool { return cd.invalid }

// nextRange returns the inclusive bounds of the next chunk.
func (cd *ChunkedDownload) nextRange() (int64, int64) {
	first := cd.start + cd.bytesDownloaded
	last := first + cd.chunkSize - 1
	if cd.end != nil && *cd.end < last {
		last = *cd.end
	}
	if cd.totalBytes != nil && *cd.totalBytes-1 < last {
		last = *cd.totalBytes - 1
	}
	return first, last
}

// PrepareRequest builds the GET for the next chunk without performing it.
func (cd *ChunkedDownload) PrepareRequest() (*transport.Request, error) {
	switch {
	case cd.Finished():
		return nil, transfer.ErrTransferComplete
	case cd.invalid:
		return nil, transfer.ErrInInvalidState
	}

	first, last := cd.nextRange()
	header := cd.header.Clone()
	header.Set("Range", byterange.Encode(&first, &last))

	return &transport.Request{
		Method:  http.MethodGet,
		URL:     cd.url,
		Header:  header,
		Timeout: cd.timeout,
	}, nil
}

// ProcessResponse validates a chunk response, writes its body to the
// stream and advances the download. The body is consumed and closed.
func (cd *ChunkedDownload) ProcessResponse(resp *http.Response) error {
	defer transfer.Close(resp, cd.logger)

	if cd.Finished() {
		return transfer.ErrTransferComplete
	}

	if err := cd.processResponse(resp); err != nil {
		var corrupt *transfer.DataCorruptionError
		if !errors.As(err, &corrupt) {
			cd.invalid = true
		}
		cd.abortDecoder()
		return err
	}

	return nil
}

func (cd *ChunkedDownload) processResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && cd.bytesDownloaded == 0 &&
		byterange.IsEmpty(resp.Header.Get("Content-Range")) {
		// Zero-length objects cannot satisfy any range.
		var zero int64
		cd.totalBytes = &zero
		return cd.finish(resp)
	}

	if err := transfer.RequireStatus(resp, http.StatusOK, http.StatusPartialContent); err != nil {
		return err
	}

	lengthHdr, err := transfer.RequireHeader(resp, "Content-Length")
	if err != nil {
		return err
	}
	contentLength, err := strconv.ParseInt(lengthHdr, 10, 64)
	if err != nil {
		return transfer.MalformedHeader(resp, "Content-Length", fmt.Errorf("%w: %w", transfer.ErrMalformedHeader, err))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, contentLength+1))
	if err != nil {
		return fmt.Errorf("reading chunk: %w", err)
	}
	if int64(len(body)) != contentLength {
		return &transfer.InvalidResponseError{
			Response: resp,
			Message:  "response is different size than content-length",
			Actual:   strconv.Itoa(len(body)),
			Expected: []string{lengthHdr},
		}
	}

	rangeHdr, err := transfer.RequireHeader(resp, "Content-Range")
	if err != nil {
		return err
	}
	_, endByte, total, err := byterange.ParseContentRange(rangeHdr)
	if err != nil {
		return transfer.MalformedHeader(resp, "Content-Range", err)
	}

	if cd.hasher.Enabled() {
		expected, err := checksum.Expected(resp.Header, cd.hasher.Algorithm())
		if err != nil {
			return transfer.MalformedHeader(resp, checksum.HashHeader, err)
		}
		if expected != "" {
			cd.expected = expected
		}
	}

	_, _ = cd.hasher.Write(body)
	if err := cd.write(resp, body); err != nil {
		return err
	}

	cd.bytesDownloaded += int64(len(body))
	if cd.totalBytes == nil {
		cd.totalBytes = &total
		cd.progress.SetTotal(total - cd.start)
	}
	cd.progress.Add(int64(len(body)))

	if (cd.end != nil && endByte >= *cd.end) || endByte >= total-1 {
		return cd.finish(resp)
	}

	return nil
}

func (cd *ChunkedDownload) write(resp *http.Response, body []byte) error {
	if cd.decoder == nil && !cd.raw && isGzip(resp) {
		cd.decoder = newGzipSink(cd.stream)
	}

	var w io.Writer = cd.stream
	if cd.decoder != nil {
		w = cd.decoder
	}

	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing to stream: %w", err)
	}
	return nil
}

// finish tombstones the download and, when the whole object was fetched,
// verifies its digest.
func (cd *ChunkedDownload) finish(resp *http.Response) error {
	cd.state.Advance(transfer.StateFinished)

	if dec := cd.decoder; dec != nil {
		cd.decoder = nil
		if err := dec.Close(); err != nil {
			return fmt.Errorf("decoding gzip body: %w", err)
		}
	}

	if !cd.hasher.Enabled() || cd.start != 0 || cd.end != nil {
		return nil
	}
	if cd.expected == "" {
		cd.logger.Info("no checksum was returned by the service, so client-side content integrity checking is not being performed",
			"url", cd.url, "algorithm", cd.hasher.Algorithm())
		return nil
	}

	return cd.hasher.Verify(resp, cd.url, cd.expected)
}

func (cd *ChunkedDownload) abortDecoder() {
	if cd.decoder != nil {
		cd.decoder.Abort()
		cd.decoder = nil
	}
}

// ConsumeNextChunk downloads and writes the next chunk over t.
func (cd *ChunkedDownload) ConsumeNextChunk(ctx context.Context, t transport.Transport) (*http.Response, error) {
	req, err := cd.PrepareRequest()
	if err != nil {
		return nil, err
	}

	resp, err := cd.policy.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		return t.RoundTrip(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", cd.url, err)
	}

	return resp, cd.ProcessResponse(resp)
}

// ConsumeAll downloads chunks until the download finishes or fails.
func (cd *ChunkedDownload) ConsumeAll(ctx context.Context, t transport.Transport) error {
	for !cd.Finished() {
		if err := ctx.Err(); err != nil {
			cd.abortDecoder()
			return err
		}
		if _, err := cd.ConsumeNextChunk(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the gzip decoder of a download abandoned before it
// finished. It is a no-op otherwise.
func (cd *ChunkedDownload) Close() error {
	cd.abortDecoder()
	return nil
}
