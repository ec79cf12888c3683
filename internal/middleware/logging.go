package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size.
func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush implements http.Flusher interface for streaming support.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

type logInfoKey struct{}

// logInfo is filled by inner middleware so the outer log line can report
// values resolved after it ran.
type logInfo struct {
	identity string
}

func setLoggedIdentity(r *http.Request, identity string) {
	if info, ok := r.Context().Value(logInfoKey{}).(*logInfo); ok {
		info.identity = identity
	}
}

// Logging returns a middleware that logs one line per request and counts
// it by method and status. Denied requests log at WARN, server errors at
// ERROR, everything else at DEBUG so admitted traffic stays quiet at the
// default level.
func Logging(logger observability.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			info := &logInfo{}
			ctx := util.ContextWithStartTime(r.Context(), start)
			ctx = context.WithValue(ctx, logInfoKey{}, info)
			r = r.WithContext(ctx)

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			metrics.recordRequest(r.Method, rw.status)

			fields := []observability.Field{
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.Int("status", rw.status),
				observability.Int("size", rw.size),
				observability.Duration("duration", time.Since(start)),
				observability.String("client_ip", info.identity),
				observability.String("user_agent", r.UserAgent()),
				observability.String("request_id", util.RequestIDFromContext(ctx)),
			}

			log := logger.WithContext(ctx)
			switch {
			case rw.status >= http.StatusInternalServerError:
				log.Error("http request", fields...)
			case rw.status == http.StatusForbidden || rw.status == http.StatusTooManyRequests:
				log.Warn("http request", fields...)
			default:
				log.Debug("http request", fields...)
			}
		})
	}
}
