package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"
)

// TimeoutMiddleware bounds a request with a deadline. Handlers must observe
// ctx.Done(); when one returns after the deadline without writing anything,
// the client gets a 504 in the API's error shape.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{ResponseWriter: w}
			next.ServeHTTP(tw, r.WithContext(ctx))

			if !tw.wrote.Load() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				AddLogField(r.Context(), "timeout", timeout.String())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusGatewayTimeout)
				_, _ = w.Write([]byte(`{"error":{"code":"timed_out","message":"request timed out"}}` + "\n"))
			}
		})
	}
}

type timeoutWriter struct {
	http.ResponseWriter
	wrote atomic.Bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.wrote.Store(true)
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.wrote.Store(true)
	return tw.ResponseWriter.Write(b)
}

func (tw *timeoutWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}
