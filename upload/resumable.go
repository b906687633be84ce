package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/adamwoolhether/resumable/byterange"
	"github.com/adamwoolhether/resumable/checksum"
	"github.com/adamwoolhether/resumable/transfer"
	"github.com/adamwoolhether/resumable/transport"
)

// ChunkGranularity is the unit every resumable chunk size must be a
// multiple of.
const ChunkGranularity = 256 * 1024 // 256KB

// ResumableUpload sends an object in chunks over a session that survives
// failed requests.
type ResumableUpload struct {
	base
	chunkSize   int64
	autoRecover int

	resumableURL     string
	stream           io.ReadSeeker
	contentType      string
	bytesUploaded    int64
	totalBytes       *int64
	hasher           *checksum.Hasher
	bytesChecksummed int64
	progressLog      *transfer.Progress
	invalid          bool
}

// NewResumable returns a ResumableUpload that will initiate its session
// at uploadURL. chunkSize must be a positive multiple of
// [ChunkGranularity].
func NewResumable(uploadURL string, chunkSize int64, optFns ...Option) (*ResumableUpload, error) {
	if chunkSize <= 0 || chunkSize%ChunkGranularity != 0 {
		return nil, fmt.Errorf("%w: %d is not a positive multiple of %d", transfer.ErrInvalidChunkSize, chunkSize, ChunkGranularity)
	}

	b, opts, err := newBase(uploadURL, optFns)
	if err != nil {
		return nil, err
	}
	b.state = transfer.StateUninitiated

	hasher, err := checksum.New(opts.alg)
	if err != nil {
		return nil, err
	}

	return &ResumableUpload{
		base:        b,
		chunkSize:   chunkSize,
		autoRecover: opts.autoRecover,
		hasher:      hasher,
	}, nil
}

// ChunkSize returns the number of bytes sent per chunk.
func (u *ResumableUpload) ChunkSize() int64 { return u.chunkSize }

// ResumableURL returns the session URL, empty until initiated.
func (u *ResumableUpload) ResumableURL() string { return u.resumableURL }

// Initiated reports whether a session exists.
func (u *ResumableUpload) Initiated() bool { return u.resumableURL != "" }

// BytesUploaded returns the number of bytes the server has persisted.
func (u *ResumableUpload) BytesUploaded() int64 { return u.bytesUploaded }

// TotalBytes returns the upload size once it is known.
func (u *ResumableUpload) TotalBytes() (int64, bool) {
	if u.totalBytes == nil {
		return 0, false
	}
	return *u.totalBytes, true
}

// Invalid reports whether a chunk response broke the protocol. An invalid
// upload must be recovered before it can continue.
func (u *ResumableUpload) Invalid() bool { return u.invalid }

// PrepareInitiateRequest binds stream to the upload and builds the POST
// that creates the session, without performing it. The stream must be
// positioned at its start.
func (u *ResumableUpload) PrepareInitiateRequest(stream io.ReadSeeker, metadata any, contentType string, optFns ...InitiateOption) (*transport.Request, error) {
	if u.Initiated() {
		return nil, transfer.ErrAlreadyInitiated
	}
	if stream == nil {
		return nil, errors.New("stream must not be nil")
	}

	opts := initiateOptions{streamFinal: true}
	for _, opt := range optFns {
		opt(&opts)
	}

	pos, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("locating stream position: %w", err)
	}
	if pos != 0 {
		return nil, fmt.Errorf("%w: stream is at byte %d", transfer.ErrStreamNotAtStart, pos)
	}

	total := opts.totalBytes
	if total == nil && opts.streamFinal {
		end, err := stream.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, fmt.Errorf("measuring stream: %w", err)
		}
		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewinding stream: %w", err)
		}
		total = &end
	}

	meta, err := encodeMetadata(metadata)
	if err != nil {
		return nil, err
	}

	u.stream = stream
	u.contentType = contentType
	u.totalBytes = total

	header := u.header.Clone()
	header.Set("Content-Type", jsonType)
	header.Set("X-Upload-Content-Type", contentType)
	if total != nil {
		header.Set("X-Upload-Content-Length", strconv.FormatInt(*total, 10))
	}

	return &transport.Request{
		Method:  http.MethodPost,
		URL:     u.url,
		Body:    meta,
		Header:  header,
		Timeout: u.timeout,
	}, nil
}

// ProcessInitiateResponse records the session URL from the location
// header of a successful initiate response.
func (u *ResumableUpload) ProcessInitiateResponse(resp *http.Response) error {
	if err := transfer.RequireStatus(resp, http.StatusOK); err != nil {
		return err
	}

	location, err := transfer.RequireHeader(resp, "Location")
	if err != nil {
		return err
	}

	u.resumableURL = location
	u.state.Advance(transfer.StateActive)
	if u.progress {
		total := int64(-1)
		if u.totalBytes != nil {
			total = *u.totalBytes
		}
		u.progressLog = transfer.NewProgress(u.logger, "upload", total)
	}

	u.logger.Debug("resumable session initiated", "url", location)
	return nil
}

// Initiate creates the upload session over t.
func (u *ResumableUpload) Initiate(ctx context.Context, t transport.Transport, stream io.ReadSeeker, metadata any, contentType string, optFns ...InitiateOption) (*http.Response, error) {
	req, err := u.PrepareInitiateRequest(stream, metadata, contentType, optFns...)
	if err != nil {
		return nil, err
	}

	resp, err := u.send(ctx, t, req)
	if err != nil {
		return nil, err
	}

	return resp, u.ProcessInitiateResponse(resp)
}

// PrepareRequest reads the next chunk from the stream and builds the PUT
// carrying it, without performing it.
func (u *ResumableUpload) PrepareRequest() (*transport.Request, error) {
	switch {
	case u.Finished():
		return nil, transfer.ErrTransferComplete
	case u.invalid:
		return nil, transfer.ErrInInvalidState
	case !u.Initiated():
		return nil, transfer.ErrNotInitiated
	}

	start, payload, contentRange, err := u.nextChunk()
	if err != nil {
		return nil, err
	}

	// Bytes resent after a rewind were already fed to the hasher.
	if end := start + int64(len(payload)); end > u.bytesChecksummed {
		_, _ = u.hasher.Write(payload[max(u.bytesChecksummed-start, 0):])
		u.bytesChecksummed = end
	}

	header := u.header.Clone()
	if u.contentType != "" {
		header.Set("Content-Type", u.contentType)
	}
	header.Set("Content-Range", contentRange)

	return &transport.Request{
		Method:  http.MethodPut,
		URL:     u.resumableURL,
		Body:    payload,
		Header:  header,
		Timeout: u.timeout,
	}, nil
}

// nextChunk reads up to one chunk from the current stream position and
// frames it. A short read from a stream of unknown size fixes the total.
func (u *ResumableUpload) nextChunk() (int64, []byte, string, error) {
	start, err := u.stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, nil, "", fmt.Errorf("locating stream position: %w", err)
	}
	if start != u.bytesUploaded {
		return 0, nil, "", fmt.Errorf("%w: stream is at byte %d but %d bytes were uploaded",
			transfer.ErrStreamPositionMismatch, start, u.bytesUploaded)
	}

	size := u.chunkSize
	if u.totalBytes != nil && *u.totalBytes > 0 && start+size >= *u.totalBytes {
		size = max(*u.totalBytes-start, 0)
	}

	payload := make([]byte, size)
	n, err := io.ReadFull(u.stream, payload)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, nil, "", fmt.Errorf("reading chunk: %w", err)
	}
	payload = payload[:n]
	end := start + int64(n) - 1

	switch {
	case u.totalBytes == nil:
		if int64(n) < u.chunkSize {
			total := end + 1
			u.totalBytes = &total
			u.progressLog.SetTotal(total)
		}
	case *u.totalBytes == 0:
		if n != 0 {
			return 0, nil, "", fmt.Errorf("%w: stream declared empty produced content", transfer.ErrStreamLengthMismatch)
		}
	case n == 0:
		return 0, nil, "", fmt.Errorf("%w: no content remains at byte %d", transfer.ErrStreamExhausted, start)
	}

	return start, payload, byterange.ContentRange(start, end, u.totalBytes), nil
}

// ProcessResponse advances the upload from a chunk response. A 200
// finishes it and verifies the digest; a 308 records how much the server
// kept, rewinding the stream if it kept less than was sent. Anything else
// marks the upload invalid.
func (u *ResumableUpload) ProcessResponse(resp *http.Response) error {
	if err := u.processable(); err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return u.finish(resp)

	case http.StatusPermanentRedirect:
		rangeHdr, err := transfer.RequireHeader(resp, "Range")
		if err != nil {
			u.invalid = true
			return err
		}
		end, err := byterange.ParseProgress(rangeHdr)
		if err != nil {
			u.invalid = true
			return transfer.MalformedHeader(resp, "Range", err)
		}

		u.bytesUploaded = end + 1
		if err := u.seek(); err != nil {
			u.invalid = true
			return err
		}
		u.progressLog.Set(u.bytesUploaded)
		return nil

	default:
		u.invalid = true
		return transfer.RequireStatus(resp, http.StatusOK, http.StatusPermanentRedirect)
	}
}

// processable reports why a response cannot be applied to the upload.
func (u *ResumableUpload) processable() error {
	switch {
	case u.Finished():
		return transfer.ErrTransferComplete
	case u.stream == nil || !u.Initiated():
		return transfer.ErrNotInitiated
	}
	return nil
}

func (u *ResumableUpload) finish(resp *http.Response) error {
	u.state.Advance(transfer.StateFinished)

	if u.totalBytes == nil {
		total := u.bytesChecksummed
		u.totalBytes = &total
	}
	u.bytesUploaded = *u.totalBytes
	u.progressLog.Set(u.bytesUploaded)

	return u.verify(resp, u.resumableURL, u.hasher)
}

// seek moves the stream to the first byte the server has not persisted.
func (u *ResumableUpload) seek() error {
	pos, err := u.stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("locating stream position: %w", err)
	}
	if pos == u.bytesUploaded {
		return nil
	}

	u.logger.Debug("rewinding stream to persisted offset", "from", pos, "to", u.bytesUploaded)
	if _, err := u.stream.Seek(u.bytesUploaded, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding stream: %w", err)
	}
	return nil
}

// TransmitNextChunk sends the next chunk over t. Retryable failures are
// retried with the same bytes; a rejected chunk leaves the upload invalid.
func (u *ResumableUpload) TransmitNextChunk(ctx context.Context, t transport.Transport) (*http.Response, error) {
	req, err := u.PrepareRequest()
	if err != nil {
		return nil, err
	}

	resp, err := u.send(ctx, t, req)
	if err != nil {
		u.invalid = true
		return nil, err
	}

	return resp, u.ProcessResponse(resp)
}

// PrepareRecoverRequest builds the PUT that asks the server how much of
// an invalid upload it has persisted, without performing it.
func (u *ResumableUpload) PrepareRecoverRequest() (*transport.Request, error) {
	if !u.invalid {
		return nil, transfer.ErrNotInvalid
	}

	header := http.Header{}
	header.Set("Content-Range", byterange.UnknownProgress)
	if v := u.header.Get(transfer.APIClientHeader); v != "" {
		header.Set(transfer.APIClientHeader, v)
	}

	return &transport.Request{
		Method:  http.MethodPut,
		URL:     u.resumableURL,
		Header:  header,
		Timeout: u.timeout,
	}, nil
}

// ProcessRecoverResponse resynchronises the upload and its stream with
// the server and clears the invalid flag.
func (u *ResumableUpload) ProcessRecoverResponse(resp *http.Response) error {
	if err := u.processable(); err != nil {
		return err
	}
	if !u.invalid {
		return transfer.ErrNotInvalid
	}
	if err := transfer.RequireStatus(resp, http.StatusPermanentRedirect); err != nil {
		return err
	}

	var uploaded int64
	if rangeHdr := resp.Header.Get("Range"); rangeHdr != "" {
		end, err := byterange.ParseProgress(rangeHdr)
		if err != nil {
			return transfer.MalformedHeader(resp, "Range", err)
		}
		uploaded = end + 1
	}

	u.bytesUploaded = uploaded
	if _, err := u.stream.Seek(uploaded, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding stream: %w", err)
	}
	u.progressLog.Set(uploaded)
	u.invalid = false

	u.logger.Info("recovered resumable upload", "url", u.resumableURL, "bytes_uploaded", uploaded)
	return nil
}

// Recover queries the session over t and resumes from the last byte the
// server persisted.
func (u *ResumableUpload) Recover(ctx context.Context, t transport.Transport) (*http.Response, error) {
	req, err := u.PrepareRecoverRequest()
	if err != nil {
		return nil, err
	}

	resp, err := u.send(ctx, t, req)
	if err != nil {
		return nil, err
	}

	return resp, u.ProcessRecoverResponse(resp)
}

// TransmitAll sends chunks until the upload finishes. Invalid responses
// are recovered from as many times as [WithAutoRecover] allows.
func (u *ResumableUpload) TransmitAll(ctx context.Context, t transport.Transport) error {
	recoveries := 0
	for !u.Finished() {
		resp, err := u.TransmitNextChunk(ctx, t)
		if resp != nil {
			transfer.Close(resp, u.logger)
		}
		if err == nil {
			continue
		}

		if !u.invalid || recoveries >= u.autoRecover || ctx.Err() != nil {
			return err
		}
		recoveries++
		u.logger.Warn("chunk rejected, recovering", "attempt", recoveries, "error", err)

		resp, rerr := u.Recover(ctx, t)
		if resp != nil {
			transfer.Close(resp, u.logger)
		}
		if rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	return nil
}
