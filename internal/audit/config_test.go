package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{input: "debug", want: LevelDebug},
		{input: "INFO", want: LevelInfo},
		{input: "Warn", want: LevelWarn},
		{input: "error", want: LevelError},
		{input: "critical", want: LevelCritical},
		{input: "verbose", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_Enables(t *testing.T) {
	t.Parallel()

	assert.True(t, LevelInfo.Enables(LevelInfo))
	assert.True(t, LevelInfo.Enables(LevelCritical))
	assert.False(t, LevelInfo.Enables(LevelDebug))
	assert.True(t, LevelDebug.Enables(LevelDebug))
	assert.False(t, LevelCritical.Enables(LevelWarn))
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil", config: nil},
		{name: "default", config: DefaultConfig()},
		{name: "disabled ignores bad values", config: &Config{Enabled: false, Format: "xml"}},
		{name: "text format", config: &Config{Enabled: true, Format: "text"}},
		{name: "bad format", config: &Config{Enabled: true, Format: "xml"}, wantErr: true},
		{name: "bad level", config: &Config{Enabled: true, Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Effective(t *testing.T) {
	t.Parallel()

	empty := &Config{}
	assert.Equal(t, LevelInfo, empty.EffectiveLevel())
	assert.Equal(t, "json", empty.EffectiveFormat())
	assert.Equal(t, "stdout", empty.EffectiveOutput())

	set := &Config{Level: LevelWarn, Format: "text", Output: "stderr"}
	assert.Equal(t, LevelWarn, set.EffectiveLevel())
	assert.Equal(t, "text", set.EffectiveFormat())
	assert.Equal(t, "stderr", set.EffectiveOutput())
}
