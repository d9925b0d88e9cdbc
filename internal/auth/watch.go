package auth

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the given files and invokes onChange after writes settle.
// Editors and the settings store replace the file rather than appending, so
// Remove/Rename re-adds the watch and events are debounced.
func Watch(onChange func(), paths ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	added := false
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := w.Add(p); err != nil {
			slog.Error("auth: watch add", "path", p, "err", err)
			continue
		}
		added = true
	}
	if !added {
		w.Close()
		return nil
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
						slog.Error("auth: watch re-add", "path", ev.Name, "err", err)
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
				onChange()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("auth: watch error", "err", err)
			}
		}
	}()
	return nil
}
