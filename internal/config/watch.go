package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-scan/internal/log"
)

// reloadDebounce coalesces the burst of events a single save produces.
var reloadDebounce = 250 * time.Millisecond

// Watch calls fn with the freshly loaded configuration every time path
// changes, until ctx is done. A file that fails to load or validate is
// logged and skipped; fn only ever sees valid configs.
//
// The parent directory is watched so that editors replacing the file by
// rename keep triggering reloads.
func Watch(ctx context.Context, path string, logger zerolog.Logger, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	logger.Info().
		Str(log.FieldEvent, "config.watcher_started").
		Str("path", target).
		Msg("watching config file for changes")

	reloads := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug().
				Str(log.FieldEvent, "config.file_changed").
				Str("op", ev.Op.String()).
				Msg("config file changed")

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reloads <- struct{}{}:
				default:
				}
			})

		case <-reloads:
			cfg, err := Load(target)
			if err != nil {
				logger.Error().
					Err(err).
					Str(log.FieldEvent, "config.reload_failed").
					Msg("config reload failed, keeping previous configuration")
				continue
			}
			logger.Info().Str(log.FieldEvent, "config.reload_success").Msg("configuration reloaded")
			fn(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().
				Err(err).
				Str(log.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}
