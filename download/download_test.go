package download_test

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/adamwoolhether/resumable/checksum"
	"github.com/adamwoolhether/resumable/download"
	"github.com/adamwoolhether/resumable/internal/mediatest"
	"github.com/adamwoolhether/resumable/retry"
	"github.com/adamwoolhether/resumable/transfer"
	"github.com/adamwoolhether/resumable/transport"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func fastRetry(t *testing.T) *retry.Policy {
	t.Helper()
	p, err := retry.New(
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxSleep(4*time.Millisecond),
		retry.WithMaxJitter(0),
		retry.WithMaxRetries(3),
	)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func newClient(t *testing.T) *transport.Client {
	t.Helper()
	c, err := transport.Build()
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestDownload_PrepareRequest(t *testing.T) {
	testCases := []struct {
		name     string
		opts     []download.Option
		expRange string
	}{
		{name: "whole", expRange: ""},
		{name: "closed", opts: []download.Option{download.WithRange(500, 999)}, expRange: "bytes=500-999"},
		{name: "open", opts: []download.Option{download.WithStart(500)}, expRange: "bytes=500-"},
		{name: "end only", opts: []download.Option{download.WithEnd(99)}, expRange: "bytes=0-99"},
		{name: "suffix", opts: []download.Option{download.WithStart(-256)}, expRange: "bytes=-256"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts := append(tc.opts, download.WithHeaders(http.Header{"X-Goog-Encryption-Algorithm": {"AES256"}}))
			d, err := download.New("https://storage.example/o/obj", opts...)
			if err != nil {
				t.Fatal(err)
			}

			req, err := d.PrepareRequest()
			if err != nil {
				t.Fatal(err)
			}
			if req.Method != http.MethodGet {
				t.Errorf("expected GET, got %s", req.Method)
			}
			if got := req.Header.Get("Range"); got != tc.expRange {
				t.Errorf("expected range %q, got %q", tc.expRange, got)
			}
			if req.Header.Get("X-Goog-Encryption-Algorithm") != "AES256" {
				t.Error("expected extra headers to be sent")
			}
			if req.Header.Get(transfer.APIClientHeader) == "" {
				t.Error("expected invocation id header")
			}
		})
	}
}

func TestDownload_InvalidRange(t *testing.T) {
	if _, err := download.New("u", download.WithRange(10, 5)); !errors.Is(err, transfer.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestDownload_ProcessResponse(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		expErr error
	}{
		{name: "ok", status: http.StatusOK},
		{name: "partial", status: http.StatusPartialContent},
		{name: "not found", status: http.StatusNotFound, expErr: transfer.ErrInvalidResponse},
		{name: "redirect", status: http.StatusPermanentRedirect, expErr: transfer.ErrInvalidResponse},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := download.New("u")
			if err != nil {
				t.Fatal(err)
			}

			err = d.ProcessResponse(&http.Response{StatusCode: tc.status, Header: http.Header{}})
			if !errors.Is(err, tc.expErr) {
				t.Fatalf("expected %v, got %v", tc.expErr, err)
			}
			if !d.Finished() {
				t.Error("expected the download to be tombstoned regardless of status")
			}
			if _, err := d.PrepareRequest(); !errors.Is(err, transfer.ErrAlreadyFinished) {
				t.Errorf("expected ErrAlreadyFinished, got %v", err)
			}
			if err := d.ProcessResponse(&http.Response{StatusCode: http.StatusOK, Header: http.Header{}}); !errors.Is(err, transfer.ErrAlreadyFinished) {
				t.Errorf("expected ErrAlreadyFinished for a second response, got %v", err)
			}
		})
	}
}

func TestDownload_Consume(t *testing.T) {
	data := payload(5000)
	srv := mediatest.New(t)
	srv.Put("obj", data)
	client := newClient(t)

	testCases := []struct {
		name    string
		opts    []download.Option
		setup   func()
		expData []byte
		expErr  error
	}{
		{name: "whole md5", expData: data},
		{name: "whole crc32c", opts: []download.Option{download.WithChecksum(checksum.CRC32C)}, expData: data},
		{name: "ranged", opts: []download.Option{download.WithRange(500, 999)}, expData: data[500:1000]},
		{name: "suffix", opts: []download.Option{download.WithStart(-100)}, expData: data[4900:]},
		{name: "end only", opts: []download.Option{download.WithEnd(9)}, expData: data[:10]},
		{
			name:    "missing hash is informational",
			setup:   func() { srv.OmitHash(true) },
			expData: data,
		},
		{
			name:   "corrupt hash",
			setup:  func() { srv.CorruptHash(true) },
			expErr: transfer.ErrDataCorruption,
		},
		{
			name:    "corrupt hash ignored without checksum",
			opts:    []download.Option{download.WithChecksum(checksum.None)},
			setup:   func() { srv.CorruptHash(true) },
			expData: data,
		},
		{
			name:    "checksum disabled by name",
			opts:    []download.Option{download.WithChecksum("none")},
			setup:   func() { srv.CorruptHash(true) },
			expData: data,
		},
		{
			name:    "corrupt hash ignored on partial content",
			opts:    []download.Option{download.WithRange(0, 99)},
			setup:   func() { srv.CorruptHash(true) },
			expData: data[:100],
		},
		{
			name:    "retries transient failures",
			setup:   func() { srv.FailNext(mediatest.Fault{Status: 503}, mediatest.Fault{Status: 429}) },
			expData: data,
		},
		{
			name:   "non retryable status",
			setup:  func() { srv.FailNext(mediatest.Fault{Status: 403}) },
			expErr: transfer.ErrInvalidResponse,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv.OmitHash(false)
			srv.CorruptHash(false)
			if tc.setup != nil {
				tc.setup()
			}

			var buf bytes.Buffer
			opts := append([]download.Option{download.WithStream(&buf), download.WithRetry(fastRetry(t))}, tc.opts...)
			d, err := download.New(srv.MediaURL("obj"), opts...)
			if err != nil {
				t.Fatal(err)
			}

			resp, err := d.Consume(t.Context(), client.Raw())
			if !errors.Is(err, tc.expErr) {
				t.Fatalf("expected %v, got %v", tc.expErr, err)
			}
			if resp == nil {
				t.Fatal("expected a response")
			}
			if !d.Finished() {
				t.Error("expected download to be finished")
			}
			if tc.expErr == nil && !bytes.Equal(buf.Bytes(), tc.expData) {
				t.Errorf("expected %d bytes, got %d", len(tc.expData), buf.Len())
			}

			if _, err := d.Consume(t.Context(), client.Raw()); !errors.Is(err, transfer.ErrAlreadyFinished) {
				t.Errorf("expected ErrAlreadyFinished on reuse, got %v", err)
			}
		})
	}
}

func TestDownload_CorruptionCarriesDigests(t *testing.T) {
	srv := mediatest.New(t)
	srv.Put("obj", payload(64))
	srv.CorruptHash(true)

	d, err := download.New(srv.MediaURL("obj"), download.WithStream(new(bytes.Buffer)))
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.Consume(t.Context(), newClient(t).Raw())

	var corrupt *transfer.DataCorruptionError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected *DataCorruptionError, got %v", err)
	}
	if corrupt.URL != srv.MediaURL("obj") || corrupt.Expected == "" || corrupt.Actual == "" || corrupt.Expected == corrupt.Actual {
		t.Errorf("unexpected corruption details: %+v", corrupt)
	}
}

func TestDownload_Gzip(t *testing.T) {
	plain := []byte("hello compressed world, hello compressed world")
	srv := mediatest.New(t)
	compressed := srv.PutGzip("obj", plain)
	client := newClient(t)

	testCases := []struct {
		name    string
		raw     bool
		t       transport.Transport
		expData []byte
	}{
		{name: "decoding over raw transport", t: client.Raw(), expData: plain},
		{name: "raw download over raw transport", raw: true, t: client.Raw(), expData: compressed},
		{name: "decoding over buffered transport", t: client, expData: plain},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			newFn := download.New
			if tc.raw {
				newFn = download.NewRaw
			}
			d, err := newFn(srv.MediaURL("obj"), download.WithStream(&buf))
			if err != nil {
				t.Fatal(err)
			}

			if _, err := d.Consume(t.Context(), tc.t); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf.Bytes(), tc.expData) {
				t.Errorf("expected %q, got %q", tc.expData, buf.Bytes())
			}
		})
	}
}

func TestDownload_NoStream(t *testing.T) {
	srv := mediatest.New(t)
	srv.Put("obj", []byte("body left for caller"))

	d, err := download.New(srv.MediaURL("obj"))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := d.Consume(t.Context(), newClient(t))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "body left for caller" {
		t.Errorf("unexpected body %q", buf.String())
	}
}

func ExampleNew() {
	d, err := download.New("https://storage.example/download/obj", download.WithRange(500, 999))
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	req, _ := d.PrepareRequest()
	fmt.Println(req.Method, req.Header.Get("Range"))
	// Output: GET bytes=500-999
}
