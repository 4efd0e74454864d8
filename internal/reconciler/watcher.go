package reconciler

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/abuss/syncpair/internal/statestore"
)

// debounceWindow coalesces a burst of filesystem events (e.g. an editor's
// write-then-rename save sequence) into a single sync trigger.
const debounceWindow = 500 * time.Millisecond

// Watcher triggers a Reconciler's RunOnce on local filesystem changes,
// grounded on the teacher's internal/sync.Watcher fsnotify loop. Mutual
// exclusion against the reconciler's own periodic loop is the reconciler's
// job (its shared semaphore), not the watcher's: the watcher only decides
// to drop a debounced trigger instead of queueing it when a cycle is
// already in flight.
type Watcher struct {
	rec    *Reconciler
	fsw    *fsnotify.Watcher
	logger *slog.Logger
}

// NewWatcher creates an fsnotify watch rooted at rec's configured local
// path, recursively adding every subdirectory present at start time.
func NewWatcher(rec *Reconciler, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{rec: rec, fsw: fsw, logger: logger.With("directory", rec.dir.Name)}
	if err := w.addRecursive(rec.dir.LocalPath); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return walkDirs(root, func(path string) error {
		return w.fsw.Add(path)
	})
}

// Run consumes fsnotify events until ctx is canceled, debouncing bursts and
// triggering at most one concurrent RunOnce at a time.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			saveTemp, _ := filepath.Match(".sync_state-*.tmp", name)
			if name == statestore.ParticipantStateFile || saveTemp {
				// The reconciler's own save after every cycle (its temp
				// file and the rename onto the state file) would
				// otherwise retrigger a watch cycle indefinitely.
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if isDir(ev.Name) {
					_ = w.fsw.Add(ev.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.trigger(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// trigger runs one sync cycle if none is already in flight for this
// directory (including one started by the reconciler's own periodic
// loop); a concurrent trigger is dropped, not queued, since the next
// debounce window will pick up any change missed in between.
func (w *Watcher) trigger(ctx context.Context) {
	ran, err := w.rec.TryRunOnce(ctx)
	if !ran {
		w.logger.Debug("sync already in flight, dropping debounced trigger")
		return
	}
	if err != nil {
		w.logger.Warn("watch-triggered sync failed", "error", err)
	}
}
