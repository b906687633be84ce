package mediatest

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// logged writes a line per request to log, so a failing test shows the
// exchange that led up to it.
func logged(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()

		path := r.URL.Path
		if r.URL.RawQuery != "" {
			path = fmt.Sprintf("%s?%s", path, r.URL.RawQuery)
		}

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		log.Debug("request completed",
			"method", r.Method,
			"path", path,
			"range", r.Header.Get("Range")+r.Header.Get("Content-Range"),
			"statusCode", sw.status,
			"since", time.Since(now).String())
	})
}
