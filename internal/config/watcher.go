package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file when it changes on disk and passes the new
// configuration to a callback. Invalid files are logged and ignored.
type Watcher struct {
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	path     string
	onChange func(*Config)
	debounce time.Duration
}

// NewWatcher creates a watcher for path. The file's directory is watched so
// editors that replace the file by rename are still seen.
func NewWatcher(logger *zap.Logger, path string, onChange func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		logger:   logger.With(zap.String("module", "config")),
		watcher:  watcher,
		path:     filepath.Clean(path),
		onChange: onChange,
		debounce: 250 * time.Millisecond,
	}, nil
}

// WithDebounce sets the debounce window.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

// Run watches until ctx is done, then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.logger.Info("Started watching config file", zap.String("path", w.path))

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain the timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.shouldProcessEvent(event) {
				w.logger.Debug("Config change detected",
					zap.String("file", event.Name),
					zap.String("op", event.Op.String()))
				debounceTimer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", zap.Error(err))

		case <-debounceTimer.C:
			w.reload()

		case <-ctx.Done():
			w.logger.Info("Stopping config watcher")
			return nil
		}
	}
}

func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("Failed to reload config", zap.Error(err))
		return
	}
	w.logger.Info("Config reloaded", zap.Uint32("capacity", cfg.Readback.Capacity))
	w.onChange(cfg)
}
