// Package watch turns edits of the config file into reload calls.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggonzalez94/xfer-core/internal/logging"
)

const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc is called once per debounced burst of changes.
type ReloadFunc func(ctx context.Context) error

type Option func(*ConfigWatcher)

func WithDebounce(d time.Duration) Option {
	return func(w *ConfigWatcher) { w.debounce = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *ConfigWatcher) { w.logger = l }
}

// ConfigWatcher watches the directory holding the config file, which keeps
// working across editors that replace the file on save.
type ConfigWatcher struct {
	path     string
	reload   ReloadFunc
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

func NewConfigWatcher(path string, reload ReloadFunc, opts ...Option) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w := &ConfigWatcher{path: abs, reload: reload, watcher: fw, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.OrDefault(w.logger)
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch config directory %s: %w", filepath.Dir(abs), err)
	}
	return w, nil
}

// Run blocks until ctx is done, then closes the underlying watcher.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	name := filepath.Base(w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Remove) {
				w.logger.Warn("config file removed", slog.String("path", w.path))
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.logger.Debug("reloading configuration", slog.String("path", w.path))
			if err := w.reload(ctx); err != nil {
				w.logger.Error("failed to reload configuration", logging.Error(err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", logging.Error(err))
		}
	}
}
