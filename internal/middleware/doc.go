// Package middleware puts the admission engine in front of plain net/http
// handlers.
//
// # Middleware Components
//
//   - Admission: asks a mitigation.Admitter about every request and
//     answers denials itself (403, 429 with Retry-After, or 503)
//   - Client IP: trusted proxy aware identity extraction
//   - Logging: one structured line per request
//   - Recovery: panic recovery with stack trace logging
//   - Request ID: unique request identifier injection
//
// # Usage
//
//	metrics := middleware.NewMetrics("avaguard", reg)
//	handler := middleware.Recovery(logger, metrics)(
//	    middleware.RequestID()(
//	        middleware.Logging(logger, metrics)(
//	            middleware.Admission(engine,
//	                middleware.WithIPExtractor(middleware.NewClientIPExtractor(trusted)),
//	            )(upstream),
//	        ),
//	    ),
//	)
//
// Logging must wrap Admission for denied requests to carry the client IP.
package middleware
