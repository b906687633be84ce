// Package upload implements the upload side of resumable media transfer.
//
// [SimpleUpload] and [MultipartUpload] send an object in one request, the
// latter framing JSON metadata and the bytes as multipart/related.
// [ResumableUpload] opens a session and sends the object in chunks:
//
//	u, err := upload.NewResumable(uploadURL, 4*upload.ChunkGranularity)
//	if _, err := u.Initiate(ctx, client, f, meta, "video/mp4"); err != nil {
//		return err
//	}
//	for !u.Finished() {
//		if _, err := u.TransmitNextChunk(ctx, client); err != nil {
//			if !u.Invalid() {
//				return err
//			}
//			if _, err := u.Recover(ctx, client); err != nil {
//				return err
//			}
//		}
//	}
//
// A chunk the server rejects leaves the upload invalid. Recover asks the
// server how many bytes it persisted and rewinds the stream to match.
//
// Digests are computed over the bytes read from the stream and compared
// with the one the server reports once the object is complete.
package upload
