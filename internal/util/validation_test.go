package util

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		identity string
		wantErr  bool
	}{
		{name: "ipv4", identity: "192.168.1.1"},
		{name: "ipv6", identity: "2001:db8::1"},
		{name: "opaque key", identity: "tenant-42/api-key"},
		{name: "empty", identity: "", wantErr: true},
		{name: "whitespace", identity: "10.0.0.1 ", wantErr: true},
		{name: "newline", identity: "10.0.0.1\n", wantErr: true},
		{name: "control char", identity: "a\x00b", wantErr: true},
		{name: "invalid utf8", identity: "\xff\xfe", wantErr: true},
		{name: "too long", identity: strings.Repeat("a", MaxIdentityLength+1), wantErr: true},
		{name: "max length", identity: strings.Repeat("a", MaxIdentityLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateIdentity(tt.identity)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidIdentity))
				assert.True(t, IsValidationError(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidatePositiveDuration(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidatePositiveDuration("duration", time.Second))

	for _, d := range []time.Duration{0, -time.Second} {
		err := ValidatePositiveDuration("duration", d)
		assert.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidDuration))
	}
}
