package main

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/avaguard/internal/audit"
	"github.com/vyrodovalexey/avaguard/internal/config"
	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// auditOutputLog routes audit events through the process logger.
const auditOutputLog = "log"

// buildAuditSink assembles the sinks named by cfg. A writer sink is used
// when audit is enabled, or the process logger for output "log"; a Redis
// stream mirror is added when configured. With neither the engine audits
// nothing.
func buildAuditSink(
	ctx context.Context,
	cfg config.AuditConfig,
	logger observability.Logger,
	metrics *audit.Metrics,
) (audit.Sink, error) {
	level := audit.LevelInfo
	if cfg.Level != "" {
		parsed, err := audit.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	opts := []audit.SinkOption{audit.WithLogger(logger), audit.WithMetrics(metrics)}
	var sinks []audit.Sink

	switch {
	case cfg.Enabled && cfg.Output == auditOutputLog:
		sinks = append(sinks, audit.NewLoggerSink(logger, level))
	case cfg.Enabled:
		writer, err := audit.NewWriterSink(&audit.Config{
			Enabled: true,
			Level:   level,
			Output:  cfg.Output,
			Format:  cfg.Format,
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("audit writer: %w", err)
		}
		sinks = append(sinks, writer)
	}

	if cfg.Redis != nil && cfg.Redis.Address != "" {
		redisSink, err := audit.NewRedisSinkFromConfig(ctx, audit.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
			Level:    level,
		}, opts...)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, fmt.Errorf("audit redis: %w", err)
		}
		sinks = append(sinks, redisSink)
	}

	switch len(sinks) {
	case 0:
		return audit.NewNoopSink(), nil
	case 1:
		return sinks[0], nil
	default:
		return audit.NewMultiSink(sinks...), nil
	}
}
