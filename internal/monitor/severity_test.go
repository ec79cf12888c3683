package monitor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultipliers_Classify(t *testing.T) {
	t.Parallel()

	m := DefaultMultipliers()
	tests := []struct {
		rate     float64
		expected Severity
	}{
		{rate: 5, expected: SeverityNone},
		{rate: 10, expected: SeverityNone},
		{rate: 10.1, expected: SeverityLow},
		{rate: 19.9, expected: SeverityLow},
		{rate: 20, expected: SeverityMedium},
		{rate: 39.9, expected: SeverityMedium},
		{rate: 40, expected: SeverityHigh},
		{rate: 79.9, expected: SeverityHigh},
		{rate: 80, expected: SeverityCritical},
		{rate: 1e6, expected: SeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, m.Classify(tt.rate, 10), "rate %v", tt.rate)
	}
}

func TestMultipliers_ClassifyMonotonic(t *testing.T) {
	t.Parallel()

	m := Multipliers{Medium: 3, High: 5, Critical: 10}
	prev := SeverityNone
	for rate := 0.0; rate < 200; rate += 0.25 {
		got := m.Classify(rate, 7)
		require.GreaterOrEqual(t, got, prev, "rate %v", rate)
		prev = got
	}
	assert.Equal(t, SeverityCritical, prev)
}

func TestSeverity_Text(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(SeverityHigh)
	require.NoError(t, err)
	assert.Equal(t, `"HIGH"`, string(b))

	var s Severity
	require.NoError(t, json.Unmarshal([]byte(`"critical"`), &s))
	assert.Equal(t, SeverityCritical, s)

	assert.Error(t, s.UnmarshalText([]byte("apocalyptic")))
	assert.Equal(t, "Severity(42)", Severity(42).String())
}
