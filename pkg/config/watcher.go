package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk.
// Only settings that can change at runtime are expected to be picked up by
// OnChange callbacks (currently the default lookup timeout).
type Watcher struct {
	path     string
	cfg      *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	logger   *slog.Logger
	closeMu  sync.Mutex
	closed   bool
}

// NewWatcher loads path and starts watching its directory
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory: editors replace files via rename, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		path:    path,
		cfg:     cfg,
		watcher: watcher,
		logger:  logger,
	}, nil
}

// Config returns the current configuration (thread-safe)
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// OnChange registers a callback to be called after a successful reload
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// Start watches for changes until ctx is done
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting config file watcher", "path", w.path)

	debounceTimer := time.NewTimer(0)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Config watcher stopped")
			return w.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounceTimer.Reset(reloadDebounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-debounceTimer.C:
			if err := w.reload(); err != nil {
				w.logger.Error("Failed to reload config", "error", err)
				continue
			}
			w.logger.Info("Config reloaded successfully", "path", w.path)

			w.mu.RLock()
			fn, cfg := w.onChange, w.cfg
			w.mu.RUnlock()
			if fn != nil {
				fn(cfg)
			}
		}
	}
}

// reload reloads the configuration from file
func (w *Watcher) reload() error {
	newCfg, err := Load(w.path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	w.mu.Lock()
	w.cfg = newCfg
	w.mu.Unlock()

	return nil
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.closed || w.watcher == nil {
		return nil
	}
	w.closed = true
	return w.watcher.Close()
}
