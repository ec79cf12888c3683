package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avaguard/internal/util"
)

// maxRequestIDLength bounds client supplied request IDs carried into logs
// and audit metadata.
const maxRequestIDLength = 128

// RequestID returns a middleware that reuses an incoming X-Request-ID or
// generates a UUID, stores it in the request context and echoes it on the
// response.
func RequestID() func(http.Handler) http.Handler {
	return RequestIDWithGenerator(uuid.NewString)
}

// RequestIDWithGenerator is RequestID with a custom ID generator.
func RequestIDWithGenerator(generator func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderXRequestID)
			if requestID == "" || len(requestID) > maxRequestIDLength {
				requestID = generator()
			}

			r = r.WithContext(util.ContextWithRequestID(r.Context(), requestID))
			w.Header().Set(HeaderXRequestID, requestID)

			next.ServeHTTP(w, r)
		})
	}
}
