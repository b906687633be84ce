// Package throttle provides an [http.RoundTripper] that paces outbound
// transfer requests with a token bucket from [golang.org/x/time/rate].
//
// A throttled transport blocks a request until a token is available or
// its context ends:
//
//	rt, err := throttle.NewRoundTripper(throttle.Config{RPS: 10, Burst: 5}, logger, http.DefaultTransport)
//
// Chunked transfers issue one request per chunk, so RPS bounds the chunk
// rate across every transfer sharing the transport.
package throttle
