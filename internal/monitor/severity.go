package monitor

import (
	"fmt"
	"strings"
)

// Severity classifies how far an observed rate exceeds the suspicious threshold.
type Severity int

// Severity levels.
const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNone:     "NONE",
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

// String returns the upper case name of the severity.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	name := strings.ToUpper(string(b))
	for sev, n := range severityNames {
		if n == name {
			*s = sev
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", string(b))
}

// Multipliers separate severity levels as multiples of the threshold.
type Multipliers struct {
	Medium   float64
	High     float64
	Critical float64
}

// DefaultMultipliers returns the 2x/4x/8x split.
func DefaultMultipliers() Multipliers {
	return Multipliers{Medium: 2, High: 4, Critical: 8}
}

// Classify returns the severity of rate relative to threshold. Rates at or
// below the threshold are SeverityNone. The result is non-decreasing in rate.
func (m Multipliers) Classify(rate, threshold float64) Severity {
	switch {
	case rate <= threshold:
		return SeverityNone
	case rate < m.Medium*threshold:
		return SeverityLow
	case rate < m.High*threshold:
		return SeverityMedium
	case rate < m.Critical*threshold:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}
