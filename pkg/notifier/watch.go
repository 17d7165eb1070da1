// Copyright 2024-2026 Aiku AI

package notifier

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// configDebounce is how long a burst of file events must settle before the
// config is reloaded. Editors often write a file in several steps.
const configDebounce = 250 * time.Millisecond

// watchConfig calls reload whenever the file at path changes, until ctx is
// done. The parent directory is watched so that atomic renames are seen.
func watchConfig(ctx context.Context, path string, log zerolog.Logger, reload func()) error {
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Debug().Str("dir", dir).Str("file", file).Msg("Config watcher started")

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(configDebounce, func() {
			if ctx.Err() == nil {
				reload()
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				log.Debug().Str("op", ev.Op.String()).Msg("Config change detected, scheduling reload")
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
