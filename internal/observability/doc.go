// Package observability provides the logger, Prometheus metrics and
// OpenTelemetry tracer shared by the admission engine and its binary.
//
// # Logging
//
// Logger is a thin interface over zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Warn("clock moved backwards", observability.String("identity", id))
//
// WithContext attaches the trace and span IDs of the active span, if any.
//
// # Metrics
//
// Metrics are registered on a caller supplied registerer so tests and
// multiple engines never collide on the global registry:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics("avaguard", reg)
//
// # Tracing
//
// NewTracer installs an SDK provider with OTLP gRPC export when enabled and
// falls back to the global (noop) provider otherwise.
package observability
