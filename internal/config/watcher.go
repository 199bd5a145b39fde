package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file into the holder whenever it changes on
// disk, until ctx is canceled. Invalid edits are logged and skipped; the
// last good config stays in effect. Editors often replace the file
// (rename + create), so the watch is on the parent directory.
func Watch(ctx context.Context, holder *Holder, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(holder.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	target := filepath.Clean(holder.Path())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, loadErr := Load(holder.Path())
			if loadErr != nil {
				logger.Warn("config reload failed; keeping previous config",
					slog.String("error", loadErr.Error()),
				)

				continue
			}

			if updateErr := holder.Update(cfg); updateErr != nil {
				logger.Warn("reloaded config invalid; keeping previous config",
					slog.String("error", updateErr.Error()),
				)

				continue
			}

			logger.Info("config reloaded", slog.String("path", holder.Path()))
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
