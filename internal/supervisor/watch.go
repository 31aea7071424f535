package supervisor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/bialet-dev/bialet/internal/config"
)

// Watch recursively watches cfg.RootDir for writes to files ending in the
// script extension and fires s.ReloadTrigger on each event, until ctx is
// cancelled. Modelled on the debounced fsnotify loop in
// vjache-cie/cmd/cie/watch.go, generalised from its content-reindex trigger
// to bialet's reload trigger — the debounce itself lives in ReloadTrigger,
// not here, so a burst of saves still collapses into one run (spec.md
// §4.6's "File watcher").
//
// spec.md §9's redesign note calls this "an event-producing iterator
// (finite per-OS, restartable on error)"; fsnotify already gives a
// portable one, so unlike the original's Linux-only raw inotify loop this
// watcher runs on every platform Go supports.
func (s *Supervisor) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addDirsRecursive(watcher, s.cfg.RootDir); err != nil {
		s.logger.Error("Error", "watcher", "add", "error", err.Error())
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !s.relevantEvent(ev) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			s.ReloadTrigger(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Error", "watcher", "event", "error", err.Error())
		}
	}
}

// relevantEvent reports whether ev is a write/create to a script file that
// should trigger a reload, ignoring the process-wide SQLite database file
// itself and anything matching cfg.Ignored.
func (s *Supervisor) relevantEvent(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	if !strings.HasSuffix(ev.Name, config.ScriptExtension) {
		return false
	}
	base := filepath.Base(ev.Name)
	for _, pattern := range s.cfg.Ignored {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return false
		}
	}
	return true
}

func addDirsRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), ".") && path != root {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
