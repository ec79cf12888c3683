package middleware

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderRetryAfter is the Retry-After header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderXForwardedFor is the X-Forwarded-For header name.
	HeaderXForwardedFor = "X-Forwarded-For"

	// HeaderXRealIP is the X-Real-IP header name.
	HeaderXRealIP = "X-Real-IP"

	// HeaderXAdmissionBlockedBy names the component that denied the request.
	// The full reason, which may be non-ASCII, is only in the body.
	HeaderXAdmissionBlockedBy = "X-Admission-Blocked-By"
)

// ContentTypeJSON is the JSON content type.
const ContentTypeJSON = "application/json"

// ErrInternalServerError is the body written after a recovered panic.
const ErrInternalServerError = `{"error":"internal server error"}`
