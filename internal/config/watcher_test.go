package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, sampleConfigYAML)

	w, err := NewWatcher(configPath, func(*Config) {},
		WithDebounceDelay(10*time.Millisecond),
		WithLogger(observability.NopLogger()),
		WithErrorCallback(func(error) {}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	assert.Equal(t, configPath, w.path)
	assert.Equal(t, 10*time.Millisecond, w.debounceDelay)
	assert.NotNil(t, w.errorCallback)
	assert.Nil(t, w.LastConfig())
}

func TestWatcher_Start_InvalidConfig(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "rateLimiting:\n  timeWindow: 0\n")

	w, err := NewWatcher(configPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_FileChange(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, sampleConfigYAML)

	var capacity atomic.Int64
	w, err := NewWatcher(configPath, func(cfg *Config) {
		capacity.Store(int64(cfg.RateLimiting.MaxRequestsPerWindow))
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	require.NotNil(t, w.LastConfig())
	assert.Equal(t, 5, w.LastConfig().RateLimiting.MaxRequestsPerWindow)

	writeConfig(t, configPath, "rateLimiting:\n  maxRequestsPerWindow: 77\n")

	assert.Eventually(t, func() bool {
		return capacity.Load() == 77
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 77, w.LastConfig().RateLimiting.MaxRequestsPerWindow)
}

func TestWatcher_Reload_InvalidKeepsPrevious(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, sampleConfigYAML)

	var calls atomic.Int32
	w, err := NewWatcher(configPath, func(*Config) { calls.Add(1) })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	writeConfig(t, configPath, "monitoring:\n  alertThreshold: -1\n")
	require.Error(t, w.Reload())

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 5, w.LastConfig().RateLimiting.MaxRequestsPerWindow)
}

func TestWatcher_Reload_UnchangedContentSkipsCallback(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, sampleConfigYAML)

	var calls atomic.Int32
	w, err := NewWatcher(configPath, func(*Config) { calls.Add(1) })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	first := w.LastConfig()
	require.NoError(t, w.Reload())
	assert.Equal(t, int32(0), calls.Load())
	assert.Same(t, first, w.LastConfig())

	writeConfig(t, configPath, sampleConfigYAML+"\n# touched\n")
	require.NoError(t, w.Reload())
	assert.Equal(t, int32(1), calls.Load())
	assert.NotSame(t, first, w.LastConfig())
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	t.Parallel()

	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
