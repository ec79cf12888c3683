package config

import (
	"time"
)

// FailureMode selects the verdict returned when evaluation hits an internal fault.
type FailureMode string

// Failure modes.
const (
	// FailOpen allows the request when evaluation faults.
	FailOpen FailureMode = "open"

	// FailClosed denies the request when evaluation faults.
	FailClosed FailureMode = "closed"
)

// Default configuration values.
const (
	DefaultMaxRequestsPerWindow = 100
	DefaultTimeWindow           = 60 * time.Second
	DefaultBlockDuration        = 300 * time.Second
	DefaultViolationCeiling     = 1
	DefaultSuspiciousThreshold  = 10.0
	DefaultDetectionWindow      = 10 * time.Second
	DefaultAlertThreshold       = 3
	DefaultAlertBufferSize      = 100
	DefaultReapInterval         = 30 * time.Second
	DefaultShards               = 32
	DefaultFaultTripThreshold   = 5
	DefaultFaultResetTimeout    = 30 * time.Second

	// idleTimeoutFactor multiplies the longest configured window when no
	// explicit idle timeout is set.
	idleTimeoutFactor = 3
)

// Config is the complete configuration of the admission engine and the
// binary that hosts it.
type Config struct {
	// RateLimiting configures the per-identity token bucket.
	RateLimiting RateLimitConfig `yaml:"rateLimiting" json:"rateLimiting"`

	// Monitoring configures anomaly detection.
	Monitoring MonitoringConfig `yaml:"monitoring" json:"monitoring"`

	// IPBlocking configures the access filter.
	IPBlocking IPBlockingConfig `yaml:"ipBlocking" json:"ipBlocking"`

	// Engine configures coordination and housekeeping.
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Logging configures the process logger (binary only).
	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`

	// Audit configures the audit sink (binary only).
	Audit AuditConfig `yaml:"audit,omitempty" json:"audit,omitempty"`

	// Server configures the demo HTTP listener (binary only).
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	// Tracing configures OpenTelemetry export (binary only).
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// RateLimitConfig configures the token bucket.
type RateLimitConfig struct {
	// MaxRequestsPerWindow is the bucket capacity.
	MaxRequestsPerWindow int `yaml:"maxRequestsPerWindow" json:"maxRequestsPerWindow"`

	// TimeWindow is the time it takes to refill an empty bucket.
	TimeWindow Duration `yaml:"timeWindow" json:"timeWindow"`

	// BlockDuration is the default temporary block length.
	BlockDuration Duration `yaml:"blockDuration" json:"blockDuration"`

	// ViolationCeiling is the number of denials within one TimeWindow that
	// escalates to an automatic block.
	ViolationCeiling int `yaml:"violationCeiling" json:"violationCeiling"`
}

// MonitoringConfig configures the traffic monitor.
type MonitoringConfig struct {
	// SuspiciousThreshold is the request rate (per second) above which an identity is suspicious.
	SuspiciousThreshold float64 `yaml:"suspiciousThreshold" json:"suspiciousThreshold"`

	// DetectionWindow is the sliding window length.
	DetectionWindow Duration `yaml:"detectionWindow" json:"detectionWindow"`

	// AlertThreshold is the number of alerts within DetectionWindow that escalates.
	AlertThreshold int `yaml:"alertThreshold" json:"alertThreshold"`

	// AlertBufferSize is the capacity of the recent alerts ring buffer.
	AlertBufferSize int `yaml:"alertBufferSize" json:"alertBufferSize"`

	// Severity holds the rate multipliers separating severity levels.
	Severity SeverityConfig `yaml:"severity" json:"severity"`
}

// SeverityConfig holds multipliers of SuspiciousThreshold. A rate below
// Medium x threshold is LOW, below High is MEDIUM, below Critical is HIGH.
type SeverityConfig struct {
	Medium   float64 `yaml:"medium" json:"medium"`
	High     float64 `yaml:"high" json:"high"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// IPBlockingConfig configures the access filter.
type IPBlockingConfig struct {
	// AutoBlock enables automatic temporary blocks on escalation.
	AutoBlock bool `yaml:"autoBlock" json:"autoBlock"`

	// Whitelist is the initial set of always-allowed identities.
	Whitelist []string `yaml:"whitelist" json:"whitelist"`

	// Blacklist is the initial set of always-denied identities.
	Blacklist []string `yaml:"blacklist" json:"blacklist"`
}

// EngineConfig configures the coordinator.
type EngineConfig struct {
	// IdleTimeout evicts per-identity state untouched for this long.
	// Zero means three times the longest configured window.
	IdleTimeout Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`

	// ReapInterval is the period of the idle reaper and expired block sweep.
	ReapInterval Duration `yaml:"reapInterval" json:"reapInterval"`

	// Shards is the number of lock stripes for per-identity state.
	Shards int `yaml:"shards" json:"shards"`

	// FailureMode is the verdict on internal faults.
	FailureMode FailureMode `yaml:"failureMode" json:"failureMode"`

	// FaultTripThreshold is the number of consecutive faults that opens the
	// fault circuit and bypasses evaluation.
	FaultTripThreshold int `yaml:"faultTripThreshold" json:"faultTripThreshold"`

	// FaultResetTimeout is how long the fault circuit stays open.
	FaultResetTimeout Duration `yaml:"faultResetTimeout" json:"faultResetTimeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// AuditConfig configures where audit events go.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Level is the minimum level written (debug, info, warn, error, critical).
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// Output is stdout, stderr, log (the process logger), or a file path.
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// Format is json or text.
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// Redis, when set, mirrors events into a capped Redis stream.
	Redis *RedisAuditConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisAuditConfig configures the Redis stream audit sink.
type RedisAuditConfig struct {
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
	Stream   string `yaml:"stream,omitempty" json:"stream,omitempty"`
	MaxLen   int64  `yaml:"maxLen,omitempty" json:"maxLen,omitempty"`
}

// ServerConfig configures the demo listener.
type ServerConfig struct {
	Address        string   `yaml:"address,omitempty" json:"address,omitempty"`
	MetricsPath    string   `yaml:"metricsPath,omitempty" json:"metricsPath,omitempty"`
	TrustedProxies []string `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		RateLimiting: RateLimitConfig{
			MaxRequestsPerWindow: DefaultMaxRequestsPerWindow,
			TimeWindow:           Duration(DefaultTimeWindow),
			BlockDuration:        Duration(DefaultBlockDuration),
			ViolationCeiling:     DefaultViolationCeiling,
		},
		Monitoring: MonitoringConfig{
			SuspiciousThreshold: DefaultSuspiciousThreshold,
			DetectionWindow:     Duration(DefaultDetectionWindow),
			AlertThreshold:      DefaultAlertThreshold,
			AlertBufferSize:     DefaultAlertBufferSize,
			Severity:            DefaultSeverityConfig(),
		},
		IPBlocking: IPBlockingConfig{
			AutoBlock: true,
			Whitelist: []string{"127.0.0.1", "::1"},
		},
		Engine: EngineConfig{
			ReapInterval:       Duration(DefaultReapInterval),
			Shards:             DefaultShards,
			FailureMode:        FailOpen,
			FaultTripThreshold: DefaultFaultTripThreshold,
			FaultResetTimeout:  Duration(DefaultFaultResetTimeout),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			Enabled: true,
			Level:   "info",
			Output:  "stdout",
			Format:  "json",
		},
		Server: ServerConfig{
			Address:     ":8080",
			MetricsPath: "/metrics",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
			ServiceName:  "avaguard",
		},
	}
}

// DefaultSeverityConfig returns the 2x/4x/8x severity multipliers.
func DefaultSeverityConfig() SeverityConfig {
	return SeverityConfig{Medium: 2, High: 4, Critical: 8}
}

// Clone returns a deep copy so callers cannot mutate a configuration
// shared with a running engine.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.IPBlocking.Whitelist = append([]string(nil), c.IPBlocking.Whitelist...)
	out.IPBlocking.Blacklist = append([]string(nil), c.IPBlocking.Blacklist...)
	out.Server.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	if c.Audit.Redis != nil {
		r := *c.Audit.Redis
		out.Audit.Redis = &r
	}
	return &out
}

// RefillRate returns the token refill rate in tokens per second.
func (c *RateLimitConfig) RefillRate() float64 {
	return float64(c.MaxRequestsPerWindow) / c.TimeWindow.Seconds()
}

// EffectiveIdleTimeout returns the idle eviction threshold.
func (c *Config) EffectiveIdleTimeout() time.Duration {
	if c.Engine.IdleTimeout > 0 {
		return c.Engine.IdleTimeout.Duration()
	}
	longest := c.RateLimiting.TimeWindow.Duration()
	if d := c.Monitoring.DetectionWindow.Duration(); d > longest {
		longest = d
	}
	return idleTimeoutFactor * longest
}

// EffectiveReapInterval returns the reaper period, never longer than the idle timeout.
func (c *Config) EffectiveReapInterval() time.Duration {
	interval := c.Engine.ReapInterval.Duration()
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if idle := c.EffectiveIdleTimeout(); interval > idle {
		interval = idle
	}
	return interval
}

// EffectiveShards returns the shard count, defaulting when unset.
func (c *Config) EffectiveShards() int {
	if c.Engine.Shards <= 0 {
		return DefaultShards
	}
	return c.Engine.Shards
}
