// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/jwhector/yggdrasil/internal/log"
)

// Watcher reloads the config file on change and reports the new timing
// section to a callback. Only timing is hot-reloadable: rows, factions, and
// the listener set are fixed for the lifetime of a show.
type Watcher struct {
	path     string
	onTiming func(TimingConfig)
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given config file. An empty path
// returns a nil watcher (ENV-only configuration; nothing to watch).
func NewWatcher(path string, onTiming func(TimingConfig)) *Watcher {
	if path == "" {
		return nil
	}
	return &Watcher{path: path, onTiming: onTiming}
}

// Start begins watching. It returns once the watch is established; the reload
// loop runs until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(w.path); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch config file: %w", err)
	}
	w.watcher = fw

	logger := log.WithComponent("config")
	logger.Info().
		Str("event", "config.watcher_started").
		Str("path", w.path).
		Msg("watching config file for timing changes")

	go w.loop(ctx, logger)
	return nil
}

func (w *Watcher) loop(ctx context.Context, logger zerolog.Logger) {
	// Debounce rapid editor write bursts into a single reload.
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					w.reload(logger)
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload(logger zerolog.Logger) {
	cfg, err := NewLoader(w.path).Load()
	if err != nil {
		logger.Error().Err(err).
			Str("event", "config.reload_failed").
			Msg("config reload failed, keeping current timing")
		return
	}
	logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded, applying timing")
	if w.onTiming != nil {
		w.onTiming(cfg.Timing)
	}
}
