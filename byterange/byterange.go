// Package byterange encodes and decodes the byte-range headers used by
// ranged downloads and resumable uploads.
package byterange

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/adamwoolhether/resumable/transfer"
)

// UnknownProgress is the content-range value used to ask the server how
// much of a resumable upload it has persisted.
const UnknownProgress = "bytes */*"

var (
	contentRangeRE = regexp.MustCompile(`(?i)^bytes (\d+)-(\d+)/(\d+)`)
	progressRE     = regexp.MustCompile(`(?i)^bytes=0-(\d+)$`)
	emptyRangeRE   = regexp.MustCompile(`(?i)^bytes \*/0$`)
)

// Encode returns the value of a Range request header for the given
// bounds, or "" when both are nil and no header should be sent.
//
//	start=nil  end=E    bytes=0-E
//	start=S    end=nil  bytes=S-   (S >= 0)
//	start=S    end=nil  bytes=S    (S < 0, the last |S| bytes)
//	start=S    end=E    bytes=S-E
func Encode(start, end *int64) string {
	switch {
	case start == nil && end == nil:
		return ""
	case start == nil:
		return fmt.Sprintf("bytes=0-%d", *end)
	case end == nil:
		if *start < 0 {
			return fmt.Sprintf("bytes=%d", *start)
		}
		return fmt.Sprintf("bytes=%d-", *start)
	default:
		return fmt.Sprintf("bytes=%d-%d", *start, *end)
	}
}

// Validate reports an error when both bounds are present and start > end.
func Validate(start, end *int64) error {
	if start != nil && end != nil && *start > *end {
		return fmt.Errorf("%w: start %d is after end %d", transfer.ErrInvalidRange, *start, *end)
	}
	return nil
}

// ParseContentRange decodes a content-range response header of the form
// "bytes {start}-{end}/{total}". The unit keyword is case-insensitive.
func ParseContentRange(v string) (start, end, total int64, err error) {
	m := contentRangeRE.FindStringSubmatch(v)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("%w: content-range %q", transfer.ErrMalformedHeader, v)
	}

	vals := make([]int64, 3)
	for i, s := range m[1:] {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: content-range %q: %w", transfer.ErrMalformedHeader, v, err)
		}
		vals[i] = n
	}

	return vals[0], vals[1], vals[2], nil
}

// IsEmpty reports whether v is the "bytes */0" content-range a server
// sends with a 416 for a zero-length object.
func IsEmpty(v string) bool {
	return emptyRangeRE.MatchString(v)
}

// ContentRange returns the content-range request header for an upload
// chunk covering [start, end]. A nil total is sent as "*". When end is
// before start the chunk is empty and only the total is declared.
func ContentRange(start, end int64, total *int64) string {
	size := "*"
	if total != nil {
		size = strconv.FormatInt(*total, 10)
	}

	if end < start {
		return "bytes */" + size
	}

	return fmt.Sprintf("bytes %d-%d/%s", start, end, size)
}

// ParseProgress decodes the "bytes=0-{end}" range header a server
// attaches to a 308 during a resumable upload, returning end.
func ParseProgress(v string) (int64, error) {
	m := progressRE.FindStringSubmatch(v)
	if m == nil {
		return 0, fmt.Errorf("%w: range %q", transfer.ErrMalformedHeader, v)
	}

	end, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: range %q: %w", transfer.ErrMalformedHeader, v, err)
	}

	return end, nil
}
