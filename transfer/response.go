package transfer

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// maxDrainSize caps how much of an unused body is read before closing,
// so a connection can be reused without pulling a large payload.
const maxDrainSize = 64 << 10 // 64KB

// RequireStatus returns an [*InvalidResponseError] unless the response
// status code is one of codes.
func RequireStatus(resp *http.Response, codes ...int) error {
	for _, code := range codes {
		if resp.StatusCode == code {
			return nil
		}
	}

	expected := make([]string, len(codes))
	for i, code := range codes {
		expected[i] = strconv.Itoa(code)
	}

	return &InvalidResponseError{
		Response: resp,
		Message:  "request failed",
		Actual:   strconv.Itoa(resp.StatusCode),
		Expected: expected,
	}
}

// RequireHeader returns the value of the named header, failing with an
// [*InvalidResponseError] wrapping [ErrMalformedHeader] when it is absent.
func RequireHeader(resp *http.Response, name string) (string, error) {
	v := resp.Header.Get(name)
	if v == "" {
		return "", &InvalidResponseError{
			Response: resp,
			Message:  fmt.Sprintf("response headers must contain header %q", name),
			Err:      ErrMalformedHeader,
		}
	}

	return v, nil
}

// MalformedHeader wraps a header parse failure with the response that carried it.
func MalformedHeader(resp *http.Response, name string, err error) error {
	return &InvalidResponseError{
		Response: resp,
		Message:  fmt.Sprintf("unexpected %q header", name),
		Actual:   resp.Header.Get(name),
		Err:      err,
	}
}

// Close drains a bounded amount of the body and closes it.
func Close(resp *http.Response, logger *slog.Logger) {
	if resp == nil || resp.Body == nil {
		return
	}
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainSize)); err != nil {
		logger.Debug("failed to discard unused body", "error", err)
	}
	if err := resp.Body.Close(); err != nil {
		logger.Error("failed to close response body", "error", err)
	}
}
