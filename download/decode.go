package download

import (
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
)

var (
	errDecodeAborted = errors.New("gzip decoding aborted")
	errTrailingData  = errors.New("data after end of gzip stream")
)

// gzipSink decodes a gzip stream that arrives over several chunk
// responses. A decoder goroutine writes to dst, but only while a Write is
// in progress: Write hands over its bytes and returns once the decoder has
// consumed all of them and is waiting for more.
type gzipSink struct {
	in    chan []byte
	ready chan struct{}
	quit  chan struct{}
	done  chan error

	idle   bool
	exited bool
	err    error
}

func newGzipSink(dst io.Writer) *gzipSink {
	s := &gzipSink{
		in:    make(chan []byte),
		ready: make(chan struct{}),
		quit:  make(chan struct{}),
		done:  make(chan error, 1),
	}
	feed := &inputFeed{in: s.in, ready: s.ready, quit: s.quit}

	go func() {
		zr, err := gzip.NewReader(feed)
		if err == nil {
			_, err = io.Copy(dst, zr)
		}
		s.done <- err
	}()

	return s
}

// await blocks until the decoder asks for more input or exits.
func (s *gzipSink) await() {
	if s.idle || s.exited {
		return
	}
	select {
	case <-s.ready:
		s.idle = true
	case err := <-s.done:
		s.exited, s.err = true, err
	}
}

func (s *gzipSink) Write(p []byte) (int, error) {
	s.await()
	if s.exited {
		if s.err == nil {
			return 0, errTrailingData
		}
		return 0, s.err
	}

	s.in <- p
	s.idle = false

	s.await()
	if s.exited && s.err != nil {
		return 0, s.err
	}
	return len(p), nil
}

// Close signals the end of the compressed stream and waits for the
// decoder to flush.
func (s *gzipSink) Close() error {
	s.await()
	if !s.exited {
		close(s.in)
		s.exited, s.err = true, <-s.done
	}
	return s.err
}

// Abort stops the decoder without waiting for a clean end of stream.
func (s *gzipSink) Abort() {
	if s.exited {
		return
	}
	close(s.quit)
	s.exited, s.err = true, <-s.done
}

// inputFeed is the decoder's side of a gzipSink. Each time it runs dry it
// signals ready and blocks for the next chunk.
type inputFeed struct {
	in    <-chan []byte
	ready chan<- struct{}
	quit  <-chan struct{}
	buf   []byte
	eof   bool
}

func (f *inputFeed) Read(p []byte) (int, error) {
	for len(f.buf) == 0 {
		if f.eof {
			return 0, io.EOF
		}

		select {
		case f.ready <- struct{}{}:
		case <-f.quit:
			return 0, errDecodeAborted
		}

		select {
		case b, ok := <-f.in:
			if !ok {
				f.eof = true
				continue
			}
			f.buf = b
		case <-f.quit:
			return 0, errDecodeAborted
		}
	}

	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}
