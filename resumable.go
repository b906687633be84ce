// Package resumable transfers objects to and from cloud object storage
// over HTTP, resuming interrupted chunked transfers where the server left
// off.
//
// The protocol logic lives in the [download] and [upload] packages and
// never performs I/O itself; requests go through a [transport.Transport].
// This package wires the two together for the common cases: building a
// transport, moving a file in either direction and running many transfers
// at once.
//
//	t, err := resumable.NewTransport(transport.WithUserAgent("backup/1.0"))
//	err = resumable.DownloadFile(ctx, t.Raw(), mediaURL, "obj.bin", 8<<20)
package resumable

import (
	"github.com/adamwoolhether/resumable/transfer"
	"github.com/adamwoolhether/resumable/transport"
)

// NewTransport instantiates a new buffered [transport.Client] with the
// provided options. If not specified, the default http.Client and
// http.Transport are used. Call Raw on the result for the streaming
// flavor.
func NewTransport(opts ...transport.Option) (*transport.Client, error) {
	return transport.Build(opts...)
}

// Error types returned by transfers.
type (
	// InvalidResponseError reports a response the protocol did not expect.
	InvalidResponseError = transfer.InvalidResponseError

	// DataCorruptionError reports a digest mismatch on a finished transfer.
	DataCorruptionError = transfer.DataCorruptionError

	// Result represents an in-flight or completed batched transfer.
	Result = transfer.Result
)

// Sentinel errors, for use with errors.Is.
var (
	ErrInvalidResponse        = transfer.ErrInvalidResponse
	ErrDataCorruption         = transfer.ErrDataCorruption
	ErrMalformedHeader        = transfer.ErrMalformedHeader
	ErrAlreadyFinished        = transfer.ErrAlreadyFinished
	ErrTransferComplete       = transfer.ErrTransferComplete
	ErrInInvalidState         = transfer.ErrInInvalidState
	ErrNotInvalid             = transfer.ErrNotInvalid
	ErrNotInitiated           = transfer.ErrNotInitiated
	ErrAlreadyInitiated       = transfer.ErrAlreadyInitiated
	ErrStreamPositionMismatch = transfer.ErrStreamPositionMismatch
	ErrStreamNotAtStart       = transfer.ErrStreamNotAtStart
	ErrStreamExhausted        = transfer.ErrStreamExhausted
	ErrStreamLengthMismatch   = transfer.ErrStreamLengthMismatch
	ErrUnsupportedAlgorithm   = transfer.ErrUnsupportedAlgorithm
	ErrInvalidChunkSize       = transfer.ErrInvalidChunkSize
	ErrInvalidRange           = transfer.ErrInvalidRange
	ErrQueueShutdown          = transfer.ErrQueueShutdown
)
