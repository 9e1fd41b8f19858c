package app

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchTokenFile rebuilds the coordinator whenever the configured credential
// file changes. Edits are debounced because editors typically fire several
// events per save. Returns immediately when no token file is configured.
func (a *App) WatchTokenFile() error {
	path := a.cfg.Gateway.TokenFile
	if path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Error("watch re-add", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				n, err := a.ReloadSessions()
				if err != nil {
					slog.Error("credential reload failed", "err", err)
					continue
				}
				slog.Info("credentials reloaded", "sessions", n)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("watch error", "err", err)
			}
		}
	}()
	return nil
}
