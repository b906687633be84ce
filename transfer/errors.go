package transfer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidResponse is the sentinel wrapped by [InvalidResponseError].
	ErrInvalidResponse = errors.New("invalid response")
	// ErrDataCorruption is the sentinel wrapped by [DataCorruptionError].
	ErrDataCorruption = errors.New("data corruption")
	// ErrMalformedHeader is joined with [ErrInvalidResponse] when a required
	// header is missing or fails to parse.
	ErrMalformedHeader = errors.New("malformed header")

	ErrAlreadyFinished  = errors.New("transfer can only be used once")
	ErrTransferComplete = errors.New("transfer is complete")

	ErrInInvalidState = errors.New("upload is in an invalid state, recover before continuing")
	ErrNotInvalid     = errors.New("upload is not in an invalid state, no need to recover")

	ErrNotInitiated     = errors.New("upload has not been initiated")
	ErrAlreadyInitiated = errors.New("upload has already been initiated")

	ErrStreamPositionMismatch = errors.New("stream position does not match bytes uploaded")
	ErrStreamNotAtStart       = errors.New("stream must be at beginning")
	ErrStreamExhausted        = errors.New("stream is exhausted")
	ErrStreamLengthMismatch   = errors.New("stream length does not match declared total")

	ErrUnsupportedAlgorithm = errors.New("unsupported checksum algorithm")
	ErrInvalidChunkSize     = errors.New("invalid chunk size")
	ErrInvalidRange         = errors.New("invalid byte range")
)

// InvalidResponseError is returned when a response carries an unexpected
// status code or a header the protocol depends on is missing or malformed.
type InvalidResponseError struct {
	Response *http.Response
	Message  string
	Actual   string
	Expected []string
	Err      error
}

func (e *InvalidResponseError) Error() string {
	var b strings.Builder
	b.WriteString(ErrInvalidResponse.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Actual != "" || len(e.Expected) > 0 {
		fmt.Fprintf(&b, " (got %q, want %s)", e.Actual, strings.Join(e.Expected, " | "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *InvalidResponseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidResponse}
	}
	return []error{ErrInvalidResponse, e.Err}
}

// DataCorruptionError is returned when the digest computed over the
// transferred bytes differs from the one reported by the server.
type DataCorruptionError struct {
	Response  *http.Response
	URL       string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *DataCorruptionError) Error() string {
	return fmt.Sprintf("%v: checksum mismatch while transferring\n\n  URL: %s\n  Expected %s checksum: %s\n  Actual %s checksum: %s\n",
		ErrDataCorruption, e.URL, e.Algorithm, e.Expected, e.Algorithm, e.Actual)
}

func (e *DataCorruptionError) Unwrap() error {
	return ErrDataCorruption
}
