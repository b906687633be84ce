// Package transport defines the contract the download and upload state
// machines use to perform HTTP requests, and provides the net/http backed
// adapters that satisfy it.
//
// # Flavors
//
// [Client] is the buffered adapter: the response body is read fully into
// memory before RoundTrip returns, and net/http may transparently decode
// gzip content. [Raw] streams the body and forces an explicit
// Accept-Encoding so the bytes arrive exactly as the server stored them,
// which is what checksum verification needs.
//
//	c, err := transport.Build(
//		transport.WithUserAgent("backup-agent/1.0"),
//		transport.WithThrottle(20, 5),
//	)
//	raw := c.Raw()
//
// # Timeouts
//
// Every [Request] carries a connect and a read timeout. The connect timeout
// bounds dialing; the read timeout bounds each wait for the server, both
// for the response headers and between body reads. Expired timeouts
// surface as [*TimeoutError], which the retry policy treats as transient.
package transport
