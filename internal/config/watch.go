package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch hot-reloads cfg from path on file change. Only non-secret fields
// move (secrets come from env and are re-applied by Load); callers keep
// their *Config pointer because ReplaceFrom swaps contents in place.
func Watch(ctx context.Context, path string, cfg *Config, log zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				reloaded, err := Load(path)
				if err != nil {
					log.Warn().Err(err).Str("path", path).Msg("config reload failed")
					continue
				}
				cfg.ReplaceFrom(reloaded)
				log.Info().Str("path", path).Msg("config reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
