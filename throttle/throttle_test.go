package throttle_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adamwoolhether/resumable/throttle"
)

func TestNewRoundTripper_Validation(t *testing.T) {
	testCases := []struct {
		name   string
		cfg    throttle.Config
		expErr error
	}{
		{name: "zero rps", cfg: throttle.Config{RPS: 0, Burst: 10}, expErr: throttle.ErrInvalidConfig},
		{name: "negative rps", cfg: throttle.Config{RPS: -5, Burst: 10}, expErr: throttle.ErrInvalidConfig},
		{name: "zero burst", cfg: throttle.Config{RPS: 10, Burst: 0}, expErr: throttle.ErrInvalidConfig},
		{name: "fractional rps", cfg: throttle.Config{RPS: 0.5, Burst: 1}},
		{name: "valid", cfg: throttle.Config{RPS: 10, Burst: 20}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rt, err := throttle.NewRoundTripper(tc.cfg, nil, http.DefaultTransport)
			if !errors.Is(err, tc.expErr) {
				t.Fatalf("expected %v, got %v", tc.expErr, err)
			}
			if tc.expErr == nil && rt == nil {
				t.Error("expected non-nil RoundTripper")
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		name        string
		cfg         throttle.Config
		numRequests int
		reqTimeout  time.Duration
		preCancel   bool
		expFailures int
		expErr      error
		minDuration time.Duration
	}{
		{
			name:        "within burst",
			cfg:         throttle.Config{RPS: 5, Burst: 5},
			numRequests: 5,
		},
		{
			name:        "exceed burst and wait",
			cfg:         throttle.Config{RPS: 10, Burst: 5},
			numRequests: 8,
			reqTimeout:  time.Second,
			minDuration: 300 * time.Millisecond,
		},
		{
			name:        "exceed burst and time out",
			cfg:         throttle.Config{RPS: 5, Burst: 2},
			numRequests: 5,
			reqTimeout:  50 * time.Millisecond,
			expFailures: 3,
			expErr:      throttle.ErrWaitingFailed,
		},
		{
			name:        "pre-cancelled context",
			cfg:         throttle.Config{RPS: 20, Burst: 10},
			numRequests: 1,
			preCancel:   true,
			expFailures: 1,
			expErr:      throttle.ErrContextEnded,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			rt, err := throttle.NewRoundTripper(tc.cfg, slog.Default(), http.DefaultTransport)
			if err != nil {
				t.Fatal(err)
			}
			client := &http.Client{Transport: rt}

			var wg sync.WaitGroup
			errs := make([]error, tc.numRequests)
			start := time.Now()

			for i := range tc.numRequests {
				wg.Add(1)
				go func() {
					defer wg.Done()

					ctx, cancel := context.WithCancel(t.Context())
					if tc.reqTimeout > 0 {
						ctx, cancel = context.WithTimeout(t.Context(), tc.reqTimeout)
					}
					defer cancel()
					if tc.preCancel {
						cancel()
					}

					req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
					if err != nil {
						errs[i] = err
						return
					}
					resp, err := client.Do(req)
					if err != nil {
						errs[i] = err
						return
					}
					resp.Body.Close()
				}()
			}
			wg.Wait()
			elapsed := time.Since(start)

			var failures int
			for _, err := range errs {
				if err == nil {
					continue
				}
				failures++
				if !errors.Is(err, tc.expErr) {
					t.Errorf("expected %v, got %v", tc.expErr, err)
				}
			}

			if failures != tc.expFailures {
				t.Errorf("expected %d failures, got %d", tc.expFailures, failures)
			}
			if got := int(calls.Load()); got != tc.numRequests-failures {
				t.Errorf("expected %d server calls, got %d", tc.numRequests-failures, got)
			}
			if elapsed < tc.minDuration {
				t.Errorf("expected throttling to take at least %v, took %v", tc.minDuration, elapsed)
			}
		})
	}
}
