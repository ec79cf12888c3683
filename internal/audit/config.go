package audit

import (
	"fmt"
	"strings"
)

// Level represents the audit log level.
type Level string

// Audit log levels.
const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

var levelRank = map[Level]int{
	LevelDebug:    0,
	LevelInfo:     1,
	LevelWarn:     2,
	LevelError:    3,
	LevelCritical: 4,
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(s))
	if _, ok := levelRank[l]; !ok {
		return "", fmt.Errorf("invalid audit level: %s", s)
	}
	return l, nil
}

// Enables reports whether events at other pass a minimum of l.
func (l Level) Enables(other Level) bool {
	return levelRank[other] >= levelRank[l]
}

// Output formats.
const (
	formatJSON = "json"
	formatText = "text"
)

// Config represents the audit sink configuration.
type Config struct {
	// Enabled enables audit output.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Level is the minimum audit level to write.
	Level Level `yaml:"level,omitempty" json:"level,omitempty"`

	// Output specifies the destination (stdout, stderr, file path).
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// Format specifies the output format (json, text).
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Level:   LevelInfo,
		Output:  "stdout",
		Format:  formatJSON,
	}
}

// Validate validates the audit configuration.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.Level != "" {
		if _, err := ParseLevel(string(c.Level)); err != nil {
			return err
		}
	}
	switch c.Format {
	case "", formatJSON, formatText:
	default:
		return fmt.Errorf("invalid audit format: %s", c.Format)
	}
	return nil
}

// EffectiveLevel returns the configured level or info.
func (c *Config) EffectiveLevel() Level {
	if c.Level == "" {
		return LevelInfo
	}
	return c.Level
}

// EffectiveFormat returns the configured format or json.
func (c *Config) EffectiveFormat() string {
	if c.Format == "" {
		return formatJSON
	}
	return c.Format
}

// EffectiveOutput returns the configured output or stdout.
func (c *Config) EffectiveOutput() string {
	if c.Output == "" {
		return "stdout"
	}
	return c.Output
}
