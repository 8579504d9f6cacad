package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arloliu/go-lis/logger"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher watches the config file and hot-applies log_level changes to a logger.
// Other settings require a restart.
type Watcher struct {
	path     string
	logger   logger.Logger
	onReload func(FileConfig)

	mu       sync.Mutex
	debounce *time.Timer
	delay    time.Duration
}

// NewWatcher creates a Watcher for the file at path applying level changes to l.
func NewWatcher(path string, l logger.Logger) *Watcher {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Watcher{path: path, logger: l, delay: defaultDebounce}
}

// OnReload registers fn to be called with every successfully reloaded file.
func (w *Watcher) OnReload(fn func(FileConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.onReload = fn
}

// Run watches the file until ctx is done. The parent directory is watched so that
// editors replacing the file by rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	w.logger.Debug("config: watching file", "path", w.path)

	defer w.stopDebounce()

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config: watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}

	w.debounce = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
}

func (w *Watcher) reload() {
	fc, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("config: reload failed", "path", w.path, "error", err)
		return
	}

	if fc.LogLevel != "" {
		level, err := logger.ParseLevel(fc.LogLevel)
		if err != nil {
			w.logger.Warn("config: ignoring log level", "error", err)
		} else if level != w.logger.Level() {
			w.logger.SetLevel(level)
			w.logger.Info("config: log level changed", "level", level.String())
		}
	}

	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()

	if fn != nil {
		fn(fc)
	}
}
