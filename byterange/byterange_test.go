package byterange_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/adamwoolhether/resumable/byterange"
	"github.com/adamwoolhether/resumable/transfer"
)

func ptr(v int64) *int64 { return &v }

func TestEncode(t *testing.T) {
	testCases := []struct {
		name  string
		start *int64
		end   *int64
		exp   string
	}{
		{name: "whole resource", exp: ""},
		{name: "end only", end: ptr(99), exp: "bytes=0-99"},
		{name: "open ended", start: ptr(500), exp: "bytes=500-"},
		{name: "zero start", start: ptr(0), exp: "bytes=0-"},
		{name: "suffix", start: ptr(-256), exp: "bytes=-256"},
		{name: "closed", start: ptr(500), end: ptr(999), exp: "bytes=500-999"},
		{name: "single byte", start: ptr(7), end: ptr(7), exp: "bytes=7-7"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := byterange.Encode(tc.start, tc.end); got != tc.exp {
				t.Errorf("expected %q, got %q", tc.exp, got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := byterange.Validate(ptr(10), ptr(5)); !errors.Is(err, transfer.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if err := byterange.Validate(ptr(5), ptr(5)); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := byterange.Validate(nil, ptr(5)); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestParseContentRange(t *testing.T) {
	testCases := []struct {
		name   string
		value  string
		start  int64
		end    int64
		total  int64
		expErr error
	}{
		{name: "basic", value: "bytes 500-999/5000", start: 500, end: 999, total: 5000},
		{name: "upper case unit", value: "BYTES 0-9/10", start: 0, end: 9, total: 10},
		{name: "mixed case unit", value: "Bytes 1-2/3", start: 1, end: 2, total: 3},
		{name: "unknown total", value: "bytes 0-9/*", expErr: transfer.ErrMalformedHeader},
		{name: "wrong unit", value: "items 0-9/10", expErr: transfer.ErrMalformedHeader},
		{name: "empty", value: "", expErr: transfer.ErrMalformedHeader},
		{name: "overflow", value: "bytes 0-1/99999999999999999999", expErr: transfer.ErrMalformedHeader},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			start, end, total, err := byterange.ParseContentRange(tc.value)
			if tc.expErr != nil {
				if !errors.Is(err, tc.expErr) {
					t.Fatalf("expected %v, got %v", tc.expErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if start != tc.start || end != tc.end || total != tc.total {
				t.Errorf("expected %d-%d/%d, got %d-%d/%d", tc.start, tc.end, tc.total, start, end, total)
			}
		})
	}
}

// A range request answered with the matching content-range decodes to
// the bounds that were asked for.
func TestEncodeParseRoundTrip(t *testing.T) {
	const total = 1 << 20
	bounds := [][2]int64{{0, 0}, {0, total - 1}, {500, 999}, {262144, 524287}, {total - 1, total - 1}}

	for _, b := range bounds {
		hdr := byterange.Encode(&b[0], &b[1])
		if want := fmt.Sprintf("bytes=%d-%d", b[0], b[1]); hdr != want {
			t.Fatalf("expected %q, got %q", want, hdr)
		}

		resp := fmt.Sprintf("bytes %d-%d/%d", b[0], b[1], total)
		start, end, gotTotal, err := byterange.ParseContentRange(resp)
		if err != nil {
			t.Fatalf("parse %q: %v", resp, err)
		}
		if start != b[0] || end != b[1] || gotTotal != total {
			t.Errorf("round trip of %v gave %d-%d/%d", b, start, end, gotTotal)
		}
	}
}

func TestContentRange(t *testing.T) {
	testCases := []struct {
		name  string
		start int64
		end   int64
		total *int64
		exp   string
	}{
		{name: "known total", start: 0, end: 262143, total: ptr(700000), exp: "bytes 0-262143/700000"},
		{name: "unknown total", start: 262144, end: 524287, exp: "bytes 262144-524287/*"},
		{name: "empty final chunk", start: 524288, end: 524287, total: ptr(524288), exp: "bytes */524288"},
		{name: "empty unknown", start: 10, end: 9, exp: "bytes */*"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := byterange.ContentRange(tc.start, tc.end, tc.total); got != tc.exp {
				t.Errorf("expected %q, got %q", tc.exp, got)
			}
		})
	}
}

func TestParseProgress(t *testing.T) {
	testCases := []struct {
		name   string
		value  string
		expEnd int64
		expErr error
	}{
		{name: "progress", value: "bytes=0-262143", expEnd: 262143},
		{name: "upper case unit", value: "BYTES=0-99", expEnd: 99},
		{name: "not from zero", value: "bytes=10-20", expErr: transfer.ErrMalformedHeader},
		{name: "prefixed unit", value: "xbytes=0-5", expErr: transfer.ErrMalformedHeader},
		{name: "trailing data", value: "bytes=0-5,7-9", expErr: transfer.ErrMalformedHeader},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			end, err := byterange.ParseProgress(tc.value)
			if !errors.Is(err, tc.expErr) {
				t.Fatalf("expected %v, got %v", tc.expErr, err)
			}
			if tc.expErr == nil && end != tc.expEnd {
				t.Errorf("expected end %d, got %d", tc.expEnd, end)
			}
		})
	}
}

func TestIsEmpty(t *testing.T) {
	if !byterange.IsEmpty("bytes */0") {
		t.Error("expected bytes */0 to be empty")
	}
	if byterange.IsEmpty("bytes */10") {
		t.Error("expected bytes */10 not to be empty")
	}
}
