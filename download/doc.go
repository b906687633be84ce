// Package download implements the download side of resumable media
// transfer: single requests for a whole object or a byte range, and
// chunked downloads that walk an object one range at a time.
//
// # Single Download
//
// [Download] issues one GET, optionally ranged, and streams the body to a
// writer while verifying the server's digest:
//
//	d, err := download.New(mediaURL, download.WithStream(f))
//	resp, err := d.Consume(ctx, client.Raw())
//
// # Chunked Download
//
// [ChunkedDownload] requests chunkSize bytes per call and learns the
// object size from the first content-range it sees:
//
//	cd, err := download.NewChunked(mediaURL, 1<<20, f)
//	for !cd.Finished() {
//		if _, err := cd.ConsumeNextChunk(ctx, client); err != nil {
//			return err
//		}
//	}
//
// Both types are tombstoned once finished; further calls fail with
// [transfer.ErrAlreadyFinished] or [transfer.ErrTransferComplete].
//
// Digests are computed over the bytes as they arrive off the wire, before
// any gzip decoding. Partial responses are never verified, since the
// server's digest describes the whole object.
package download
