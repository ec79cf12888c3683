package config

import (
	"fmt"

	"github.com/vyrodovalexey/avaguard/internal/util"
)

// maxShards bounds the lock stripe count.
const maxShards = 4096

// ValidateConfig validates a configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return util.NewConfigError("", "configuration is nil")
	}
	return cfg.Validate()
}

// Validate checks thresholds, windows and identity lists. It returns the
// first problem found as a *util.ConfigError.
func (c *Config) Validate() error {
	if err := c.RateLimiting.validate(); err != nil {
		return err
	}
	if err := c.Monitoring.validate(); err != nil {
		return err
	}
	if err := c.IPBlocking.validate(); err != nil {
		return err
	}
	return c.Engine.validate()
}

func (c *RateLimitConfig) validate() error {
	if c.MaxRequestsPerWindow <= 0 {
		return util.NewConfigError("rateLimiting.maxRequestsPerWindow",
			fmt.Sprintf("must be positive, got: %d", c.MaxRequestsPerWindow))
	}
	if c.TimeWindow <= 0 {
		return util.NewConfigError("rateLimiting.timeWindow",
			fmt.Sprintf("must be positive, got: %v", c.TimeWindow.Duration()))
	}
	if c.BlockDuration <= 0 {
		return util.NewConfigError("rateLimiting.blockDuration",
			fmt.Sprintf("must be positive, got: %v", c.BlockDuration.Duration()))
	}
	if c.ViolationCeiling <= 0 {
		return util.NewConfigError("rateLimiting.violationCeiling",
			fmt.Sprintf("must be positive, got: %d", c.ViolationCeiling))
	}
	return nil
}

func (c *MonitoringConfig) validate() error {
	if c.SuspiciousThreshold <= 0 {
		return util.NewConfigError("monitoring.suspiciousThreshold",
			fmt.Sprintf("must be positive, got: %v", c.SuspiciousThreshold))
	}
	if c.DetectionWindow <= 0 {
		return util.NewConfigError("monitoring.detectionWindow",
			fmt.Sprintf("must be positive, got: %v", c.DetectionWindow.Duration()))
	}
	if c.AlertThreshold <= 0 {
		return util.NewConfigError("monitoring.alertThreshold",
			fmt.Sprintf("must be positive, got: %d", c.AlertThreshold))
	}
	if c.AlertBufferSize <= 0 {
		return util.NewConfigError("monitoring.alertBufferSize",
			fmt.Sprintf("must be positive, got: %d", c.AlertBufferSize))
	}
	s := c.Severity
	if s.Medium <= 1 || s.High <= s.Medium || s.Critical <= s.High {
		return util.NewConfigError("monitoring.severity",
			fmt.Sprintf("multipliers must satisfy 1 < medium < high < critical, got: %v/%v/%v",
				s.Medium, s.High, s.Critical))
	}
	return nil
}

func (c *IPBlockingConfig) validate() error {
	white := make(map[string]struct{}, len(c.Whitelist))
	for i, id := range c.Whitelist {
		if err := util.ValidateIdentity(id); err != nil {
			return util.NewConfigErrorWithCause(fmt.Sprintf("ipBlocking.whitelist[%d]", i), "invalid identity", err)
		}
		white[id] = struct{}{}
	}
	for i, id := range c.Blacklist {
		if err := util.ValidateIdentity(id); err != nil {
			return util.NewConfigErrorWithCause(fmt.Sprintf("ipBlocking.blacklist[%d]", i), "invalid identity", err)
		}
		if _, ok := white[id]; ok {
			return util.NewConfigError(fmt.Sprintf("ipBlocking.blacklist[%d]", i),
				fmt.Sprintf("identity %s is also whitelisted", id))
		}
	}
	return nil
}

func (c *EngineConfig) validate() error {
	if c.IdleTimeout < 0 {
		return util.NewConfigError("engine.idleTimeout", "must not be negative")
	}
	if c.ReapInterval < 0 {
		return util.NewConfigError("engine.reapInterval", "must not be negative")
	}
	if c.Shards < 0 || c.Shards > maxShards {
		return util.NewConfigError("engine.shards",
			fmt.Sprintf("must be between 0 and %d, got: %d", maxShards, c.Shards))
	}
	switch c.FailureMode {
	case FailOpen, FailClosed, "":
	default:
		return util.NewConfigError("engine.failureMode",
			fmt.Sprintf("must be %q or %q, got: %q", FailOpen, FailClosed, c.FailureMode))
	}
	if c.FaultTripThreshold < 0 {
		return util.NewConfigError("engine.faultTripThreshold", "must not be negative")
	}
	if c.FaultResetTimeout < 0 {
		return util.NewConfigError("engine.faultResetTimeout", "must not be negative")
	}
	return nil
}
