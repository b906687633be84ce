package resumable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adamwoolhether/resumable/download"
	"github.com/adamwoolhether/resumable/transport"
	"github.com/adamwoolhether/resumable/upload"
)

// DownloadFile fetches mediaURL chunkSize bytes at a time into a temp
// file beside destPath, renaming it into place once the whole object has
// arrived and its digest matches. On any error the temp file is removed
// and destPath is left untouched. Cleanup is logged to the logger given
// with [download.WithLogger].
func DownloadFile(ctx context.Context, t transport.Transport, mediaURL, destPath string, chunkSize int64, optFns ...download.Option) error {
	logger := slog.Default()

	file, err := os.CreateTemp(filepath.Dir(destPath), ".resumable-dl-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	var successful bool
	defer func() {
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Error("defer closing temp file", "error", err)
		}
		if successful {
			return
		}
		if err := os.Remove(file.Name()); err != nil {
			logger.Error("failed to remove temp file", "path", file.Name(), "error", err)
			return
		}
		logger.Debug("removed partial download", "path", file.Name(), "dest", destPath)
	}()

	cd, err := download.NewChunked(mediaURL, chunkSize, file, optFns...)
	if err != nil {
		return err
	}
	defer cd.Close()
	logger = cd.Logger()

	if err := cd.ConsumeAll(ctx, t); err != nil {
		return fmt.Errorf("downloading %s: %w", mediaURL, err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(file.Name(), destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	successful = true

	return nil
}

// UploadFile sends srcPath to uploadURL through a resumable session,
// chunkSize bytes per request. The returned upload reports how far a
// failed upload got; pass [upload.WithAutoRecover] to recover from
// rejected chunks along the way.
func UploadFile(ctx context.Context, t transport.Transport, uploadURL, srcPath string, metadata any, contentType string, chunkSize int64, optFns ...upload.Option) (*upload.ResumableUpload, error) {
	file, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("opening source file: %w", err)
	}
	defer file.Close()

	u, err := upload.NewResumable(uploadURL, chunkSize, optFns...)
	if err != nil {
		return nil, err
	}

	resp, err := u.Initiate(ctx, t, file, metadata, contentType)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return u, fmt.Errorf("initiating upload of %s: %w", srcPath, err)
	}

	if err := u.TransmitAll(ctx, t); err != nil {
		return u, fmt.Errorf("uploading %s: %w", srcPath, err)
	}

	return u, nil
}
