package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"wadispatch/internal/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const defaultReloadDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes and hands the new
// config to registered callbacks. A file that fails to parse or validate
// is logged and ignored; the previous config stays in effect.
type Watcher struct {
	path     string
	logger   *logrus.Logger
	debounce time.Duration

	mu        sync.RWMutex
	config    *models.Config
	raw       []byte
	callbacks []func(old, new *models.Config)
}

// NewWatcher creates a watcher seeded with the config already loaded from path.
func NewWatcher(path string, initial *models.Config, logger *logrus.Logger) *Watcher {
	raw, _ := os.ReadFile(path) // #nosec G304 - same path LoadConfig validated
	return &Watcher{
		path:     path,
		logger:   logger,
		debounce: defaultReloadDebounce,
		config:   initial,
		raw:      raw,
	}
}

// Config returns the current configuration.
func (w *Watcher) Config() *models.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnChange registers a callback run after every successful reload.
func (w *Watcher) OnChange(fn func(old, new *models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Run watches the file's directory, so editors that replace the file by
// rename are still seen, until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	file := filepath.Base(w.path)

	w.logger.WithField("path", w.path).Info("Configuration watcher started")

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
			w.logger.Info("Configuration watcher stopping")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("config watcher closed")
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.WithField("op", ev.Op.String()).Debug("Configuration file changed")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("config watcher closed")
			}
			w.logger.WithError(err).Warn("Configuration watch error")

		case <-fire:
			fire = nil
			w.Reload()
		}
	}
}

// Reload re-reads the file now. It reports whether a new config was applied.
func (w *Watcher) Reload() bool {
	raw, err := os.ReadFile(w.path) // #nosec G304 - same path LoadConfig validated
	if err != nil {
		w.logger.WithError(err).Error("Failed to read configuration file")
		return false
	}

	w.mu.RLock()
	unchanged := bytes.Equal(raw, w.raw)
	w.mu.RUnlock()
	if unchanged {
		return false
	}

	next, err := Parse(raw)
	if err != nil {
		w.logger.WithError(err).Error("Failed to reload configuration, keeping previous")
		return false
	}

	w.mu.Lock()
	old := w.config
	w.config = next
	w.raw = raw
	callbacks := make([]func(old, new *models.Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded successfully")
	w.logChanges(old, next)

	for _, cb := range callbacks {
		w.runCallback(cb, old, next)
	}
	return true
}

func (w *Watcher) runCallback(cb func(old, new *models.Config), old, next *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	cb(old, next)
}

// logChanges logs notable configuration changes
func (w *Watcher) logChanges(old, next *models.Config) {
	if old == nil {
		return
	}
	if old.Dispatch != next.Dispatch {
		w.logger.WithFields(logrus.Fields{
			"send_timeout_sec": next.Dispatch.SendTimeoutSec,
			"min_jitter_sec":   next.Dispatch.MinJitterSec,
			"max_jitter_sec":   next.Dispatch.MaxJitterSec,
			"send_rate":        next.Dispatch.SendRatePerSec,
		}).Info("Dispatch pacing changed")
	}
	if old.Retention != next.Retention {
		w.logger.WithFields(logrus.Fields{
			"old": old.Retention.Days,
			"new": next.Retention.Days,
		}).Info("Retention settings changed; applied on restart")
	}
	if old.LogLevel != next.LogLevel {
		w.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": next.LogLevel,
		}).Info("Log level changed")
	}
}
