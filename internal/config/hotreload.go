package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs the burst of filesystem events editors fire per
// save.
const reloadDebounce = 300 * time.Millisecond

// Watch reloads the config file whenever it changes on disk and delivers
// each successfully loaded result on the returned channel. Delivery is
// latest-wins: an unconsumed update is replaced, never queued. The channel
// closes when ctx is cancelled or the watcher dies.
func Watch(ctx context.Context, path string) (<-chan *Config, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	updates := make(chan *Config, 1)
	go func() {
		defer close(updates)
		defer fw.Close()

		var settled <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				settled = time.After(reloadDebounce)

			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				slog.Warn("config watch error", "path", path, "error", err)

			case <-settled:
				settled = nil
				cfg, err := Load(path)
				if err != nil {
					slog.Error("config reload failed", "path", path, "error", err)
					continue
				}
				select {
				case <-updates:
				default:
				}
				updates <- cfg
				slog.Info("config reloaded", "path", path)
			}
		}
	}()

	slog.Info("watching config", "path", path)
	return updates, nil
}
