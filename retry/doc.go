// Package retry implements the exponential backoff used around every
// request a transfer makes.
//
// A request is retried when the server answers 429, 500, 502, 503 or 504,
// or when the transport fails with a connection-level error. The wait
// before retry k is
//
//	min(initial * multiplier^k, maxSleep) + jitter
//
// with jitter uniformly distributed in [0, 1s) by default. Retrying stops once either
// the cumulative sleep exceeds its budget (600s by default) or, when
// configured with [WithMaxRetries], the retry count is spent.
//
// 308 is never retried: resumable uploads use it to report progress.
package retry
