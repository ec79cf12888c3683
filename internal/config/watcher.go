package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// DefaultDebounceDelay coalesces the bursts of events editors produce on save.
const DefaultDebounceDelay = 100 * time.Millisecond

// ChangeCallback receives a freshly loaded and validated configuration.
type ChangeCallback func(*Config)

// ErrorCallback is called when a reload fails.
type ErrorCallback func(error)

// Watcher reloads a configuration file when it changes. Invalid files are
// logged and skipped so the running configuration stays in place. A file
// whose bytes did not change does not reach the callback.
type Watcher struct {
	path          string
	fs            *fsnotify.Watcher
	callback      ChangeCallback
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration

	mu      sync.RWMutex
	last    *Config
	digest  [sha256.Size]byte
	running bool

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		if delay > 0 {
			w.debounceDelay = delay
		}
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithErrorCallback sets the error callback for the watcher.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.errorCallback = callback
	}
}

// NewWatcher creates a watcher for path. Nothing is read until Start.
func NewWatcher(path string, callback ChangeCallback, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          absPath,
		fs:            fsWatcher,
		callback:      callback,
		debounceDelay: DefaultDebounceDelay,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(observability.String("component", "config_watcher"))

	return w, nil
}

// Start loads the file once and begins watching its directory. The
// initial load does not invoke the callback.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	cfg, digest, err := w.load()
	if err != nil {
		return err
	}

	// Editors replace files atomically, so watch the directory.
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.last = cfg
	w.digest = digest
	w.running = true

	w.logger.Info("started watching configuration file", observability.String("path", w.path))

	go w.watch(ctx)
	return nil
}

// Stop stops watching and releases the fsnotify handle. It is safe to call
// more than once and without Start.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		running := w.running
		w.running = false
		w.mu.Unlock()

		close(w.stopCh)
		if running {
			<-w.stoppedCh
		}
		err = w.fs.Close()
	})
	return err
}

// LastConfig returns the last successfully loaded configuration.
func (w *Watcher) LastConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	debounce := time.NewTimer(w.debounceDelay)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped due to context cancellation")
			return

		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("config file changed",
				observability.String("path", event.Name),
				observability.String("op", event.Op.String()),
			)
			debounce.Reset(w.debounceDelay)

		case <-debounce.C:
			if err := w.Reload(); err != nil && w.errorCallback != nil {
				w.errorCallback(err)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", observability.Error(err))
			if w.errorCallback != nil {
				w.errorCallback(err)
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// Reload loads the file immediately and notifies the callback when its
// content changed and validates.
func (w *Watcher) Reload() error {
	cfg, digest, err := w.load()
	if err != nil {
		w.logger.Error("configuration reload rejected, keeping previous configuration",
			observability.Error(err),
		)
		return err
	}

	w.mu.Lock()
	unchanged := w.last != nil && digest == w.digest
	if !unchanged {
		w.last = cfg
		w.digest = digest
	}
	w.mu.Unlock()

	if unchanged {
		w.logger.Debug("configuration content unchanged, skipping reload")
		return nil
	}

	w.logger.Info("configuration reloaded", observability.String("path", w.path))
	if w.callback != nil {
		w.callback(cfg)
	}
	return nil
}

func (w *Watcher) load() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, fmt.Errorf("failed to read config file %s: %w", w.path, err)
	}
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
