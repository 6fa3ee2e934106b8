package scheduler

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"fleetctl/internal/logging"
)

// ReloadFunc reloads cadences from the live config file on disk. The
// scheduler calls it whenever the watched config file changes.
type ReloadFunc func() (Cadences, error)

// watchConfig watches the directory containing configPath and calls
// reload whenever that file is created or written, swapping in the
// freshly loaded cadences under the scheduler's own mutex so the next
// due() check picks them up. Watching the containing directory rather
// than the file itself survives editors and config-management tools
// that replace the file instead of writing it in place.
func (s *Scheduler) watchConfig(ctx context.Context, configPath string, reload ReloadFunc) {
	if configPath == "" || reload == nil {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.SchedulerWarn("config watch: create watcher: %v", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(configPath)
	base := filepath.Base(configPath)
	if err := watcher.Add(dir); err != nil {
		logging.SchedulerWarn("config watch: watch %s: %v", dir, err)
		return
	}
	logging.Scheduler("config watch: watching %s for changes to %s", dir, base)

	var lastReload time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if time.Since(lastReload) < 500*time.Millisecond {
				continue // debounce the multiple events one save can fire
			}
			lastReload = time.Now()

			cadences, err := reload()
			if err != nil {
				logging.SchedulerWarn("config watch: reload %s: %v", configPath, err)
				continue
			}
			s.mu.Lock()
			s.cadences = cadences
			s.mu.Unlock()
			logging.Scheduler("config watch: reloaded cadences from %s", configPath)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.SchedulerWarn("config watch: %v", err)
		}
	}
}
