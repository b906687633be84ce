package resumable_test

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adamwoolhether/resumable"
	"github.com/adamwoolhether/resumable/download"
	"github.com/adamwoolhether/resumable/internal/mediatest"
	"github.com/adamwoolhether/resumable/transport"
	"github.com/adamwoolhether/resumable/upload"
)

const chunkSize = 256 << 10

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func newTransport(t *testing.T) *transport.Client {
	t.Helper()
	c, err := resumable.NewTransport(transport.WithUserAgent("resumable-test"))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestDownloadFile(t *testing.T) {
	testCases := []struct {
		name    string
		object  string
		corrupt bool
		expErr  error
	}{
		{name: "whole object", object: "obj"},
		{name: "missing object", object: "nope", expErr: resumable.ErrInvalidResponse},
		{name: "corrupt", object: "obj", corrupt: true, expErr: resumable.ErrDataCorruption},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := mediatest.New(t)
			data := payload(700000)
			srv.Put("obj", data)
			srv.CorruptHash(tc.corrupt)

			dir := t.TempDir()
			dest := filepath.Join(dir, "obj.bin")

			err := resumable.DownloadFile(t.Context(), newTransport(t).Raw(), srv.MediaURL(tc.object), dest, chunkSize)
			if !errors.Is(err, tc.expErr) {
				t.Fatalf("expected err %v, got %v", tc.expErr, err)
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatal(err)
			}

			if tc.expErr != nil {
				if len(entries) != 0 {
					t.Errorf("expected no files left behind, found %d", len(entries))
				}
				return
			}

			if len(entries) != 1 {
				t.Errorf("expected only the destination file, found %d entries", len(entries))
			}
			got, err := os.ReadFile(dest)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, data) {
				t.Error("downloaded file does not match object")
			}
		})
	}
}

func TestDownloadFile_LogsToDownloadLogger(t *testing.T) {
	srv := mediatest.New(t)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	dest := filepath.Join(t.TempDir(), "obj.bin")
	err := resumable.DownloadFile(t.Context(), newTransport(t).Raw(), srv.MediaURL("nope"), dest, chunkSize,
		download.WithLogger(logger))
	if !errors.Is(err, resumable.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}

	out := logs.String()
	for _, want := range []string{"removed partial download", "invocation_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in download logger output:\n%s", want, out)
		}
	}
}

func TestUploadFile(t *testing.T) {
	srv := mediatest.New(t)
	data := payload(600000)

	src := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		t.Fatal(err)
	}

	u, err := resumable.UploadFile(t.Context(), newTransport(t), srv.UploadURL("resumable", ""), src,
		map[string]string{"name": "obj"}, "application/octet-stream", upload.ChunkGranularity)
	if err != nil {
		t.Fatal(err)
	}
	if !u.Finished() || u.BytesUploaded() != int64(len(data)) {
		t.Errorf("expected finished upload of %d bytes, got finished=%v uploaded=%d", len(data), u.Finished(), u.BytesUploaded())
	}

	stored, ok := srv.Object("obj")
	if !ok || !bytes.Equal(stored, data) {
		t.Error("stored object does not match file")
	}
}

func TestUploadFile_MissingSource(t *testing.T) {
	_, err := resumable.UploadFile(t.Context(), newTransport(t), "https://storage.example/upload",
		filepath.Join(t.TempDir(), "absent"), nil, "text/plain", upload.ChunkGranularity)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestBatch(t *testing.T) {
	srv := mediatest.New(t)
	dir := t.TempDir()

	objects := map[string][]byte{
		"a": payload(1000),
		"b": payload(300000),
		"c": payload(10),
	}
	for name, data := range objects {
		srv.Put(name, data)
	}

	src := filepath.Join(dir, "up.bin")
	upData := payload(5000)
	if err := os.WriteFile(src, upData, 0o600); err != nil {
		t.Fatal(err)
	}

	tr := newTransport(t).Raw()
	b := resumable.NewBatch(tr, 2)

	for name := range objects {
		b.Download(t.Context(), srv.MediaURL(name), filepath.Join(dir, name), chunkSize)
	}
	missing := b.Download(t.Context(), srv.MediaURL("missing"), filepath.Join(dir, "missing"), chunkSize)
	b.Upload(t.Context(), srv.UploadURL("resumable", ""), src, map[string]string{"name": "up"}, "text/plain", upload.ChunkGranularity)

	if err := missing.Err(); !errors.Is(err, resumable.ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse for missing object, got %v", err)
	}

	if got := missing.Name(); got != filepath.Join(dir, "missing") {
		t.Errorf("expected result named after its destination, got %q", got)
	}

	err := b.Wait()
	if !errors.Is(err, resumable.ErrInvalidResponse) {
		t.Errorf("expected joined error to carry ErrInvalidResponse, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), missing.Name()) {
		t.Errorf("expected joined error to name %s, got %v", missing.Name(), err)
	}

	for name, data := range objects {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("%s: downloaded file does not match object", name)
		}
	}
	if stored, _ := srv.Object("up"); !bytes.Equal(stored, upData) {
		t.Error("uploaded object does not match file")
	}
}

func TestBatch_Shutdown(t *testing.T) {
	b := resumable.NewBatch(newTransport(t), 1)
	b.Shutdown()

	r := b.Download(t.Context(), "http://127.0.0.1:0/download/x", filepath.Join(t.TempDir(), "x"), chunkSize)
	if err := r.Err(); !errors.Is(err, resumable.ErrQueueShutdown) {
		t.Errorf("expected ErrQueueShutdown, got %v", err)
	}
}

func ExampleNewTransport() {
	t, err := resumable.NewTransport(
		transport.WithUserAgent("backup-agent/1.0"),
		transport.WithThrottle(20, 5),
	)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	var _ transport.Transport = t.Raw()

	fmt.Println("transport ready")
	// Output: transport ready
}
