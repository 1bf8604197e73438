package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a shell's local allow-list file for external changes —
// an approval UI or a sibling process calling SaveToLocalJson out of
// process — and invokes onChange so a long-lived shell can reload its
// effective config without restarting. Grounded on vanducng-goclaw's use
// of fsnotify for live-reloadable config.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
}

// WatchLocalConfig starts watching cwd's config.local.json directory.
// The directory (not the file) is watched so the watch survives the
// file being replaced via the temp-then-rename pattern SaveToLocalJson
// uses.
func WatchLocalConfig(cwd string, onChange func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config_watcher")

	dir := filepath.Dir(LocalConfigPath(cwd))
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// The directory may not exist yet (no local config has been saved);
	// that's fine, Add will simply fail and this watcher watches nothing.
	// The next SaveToLocalJson call creates it; only a watcher created
	// after that sees changes to the file.
	_ = fsw.Add(dir)

	target := LocalConfigPath(cwd)
	w := &Watcher{watcher: fsw, logger: logger, done: make(chan struct{})}

	go func() {
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Name != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					logger.Debug("local config changed on disk", "path", ev.Name)
					if onChange != nil {
						onChange()
					}
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Warn("config watch error", "error", err)
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

// Close stops the watch.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
