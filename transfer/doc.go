// Package transfer holds the pieces shared by the download and upload
// state machines: the error taxonomy, the forward-only [State] enum,
// response validation helpers, progress logging and a bounded [Queue]
// for running many independent transfers at once.
//
// Errors returned by this module can be matched with [errors.Is]
// against the sentinels declared here, and inspected with [errors.As]
// for [*InvalidResponseError] and [*DataCorruptionError]:
//
//	var ire *transfer.InvalidResponseError
//	if errors.As(err, &ire) {
//		log.Println(ire.Response.StatusCode, ire.Expected)
//	}
package transfer
