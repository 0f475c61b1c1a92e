package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ledgerexec/ledgerexec/pkg/telemetry"
)

// DefaultReloadDelay debounces bursts of writes from editors.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path   string
	delay  time.Duration
	logger *telemetry.Logger
	load   func(string) (*Config, error)
}

// NewWatcher returns a watcher for path. A nil logger disables logging.
func NewWatcher(path string, logger *telemetry.Logger) *Watcher {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Watcher{
		path:   filepath.Clean(path),
		delay:  DefaultReloadDelay,
		logger: logger.NewComponentLogger("config-watcher"),
		load:   Load,
	}
}

// Watch calls onChange with every config that loads and validates after a
// change to the file. Invalid files are logged and skipped. The parent
// directory is watched so editors that replace the file are followed. Watch
// returns once watching has started; it stops when ctx ends.
func (w *Watcher) Watch(ctx context.Context, onChange func(*Config) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	go w.processEvents(ctx, fw, onChange)
	w.logger.WithField("path", w.path).Info("watching config file")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, fw *fsnotify.Watcher, onChange func(*Config) error) {
	defer fw.Close()

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.WithField("op", event.Op.String()).Debug("config file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.delay, func() {
				if ctx.Err() != nil {
					return
				}
				if err := w.reload(onChange); err != nil {
					w.logger.WithError(err).Error("failed to reload config")
				}
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("watcher error")
		}
	}
}

func (w *Watcher) reload(onChange func(*Config) error) error {
	cfg, err := w.load(w.path)
	if err != nil {
		return err
	}
	if err := onChange(cfg); err != nil {
		return fmt.Errorf("failed to apply reloaded config: %w", err)
	}
	w.logger.WithField("nodes", len(cfg.Nodes)).Info("config reloaded")
	return nil
}
