package resumable

import (
	"context"

	"github.com/adamwoolhether/resumable/download"
	"github.com/adamwoolhether/resumable/transfer"
	"github.com/adamwoolhether/resumable/transport"
	"github.com/adamwoolhether/resumable/upload"
)

// Batch runs file transfers concurrently over one transport, at most
// maxConcurrent at a time. Each transfer still issues its requests one
// after another.
type Batch struct {
	t     transport.Transport
	queue *transfer.Queue
}

// NewBatch creates a Batch over t. If maxConcurrent <= 0, concurrency is
// unlimited.
func NewBatch(t transport.Transport, maxConcurrent int) *Batch {
	return &Batch{
		t:     t,
		queue: transfer.NewQueue(maxConcurrent),
	}
}

// Download queues a [DownloadFile] and returns a Result for tracking it.
// The Result is named after destPath.
func (b *Batch) Download(ctx context.Context, mediaURL, destPath string, chunkSize int64, optFns ...download.Option) *Result {
	return b.queue.Go(ctx, destPath, func(ctx context.Context) error {
		return DownloadFile(ctx, b.t, mediaURL, destPath, chunkSize, optFns...)
	})
}

// Upload queues an [UploadFile] and returns a Result for tracking it.
// The Result is named after srcPath.
func (b *Batch) Upload(ctx context.Context, uploadURL, srcPath string, metadata any, contentType string, chunkSize int64, optFns ...upload.Option) *Result {
	return b.queue.Go(ctx, srcPath, func(ctx context.Context) error {
		_, err := UploadFile(ctx, b.t, uploadURL, srcPath, metadata, contentType, chunkSize, optFns...)
		return err
	})
}

// Wait blocks until every queued transfer completes and returns their
// errors joined, each prefixed with the transfer's file path.
func (b *Batch) Wait() error {
	return b.queue.Wait()
}

// Shutdown fails queued transfers that have not started yet with
// [ErrQueueShutdown].
func (b *Batch) Shutdown() {
	b.queue.Shutdown()
}
