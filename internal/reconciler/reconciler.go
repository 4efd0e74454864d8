// Package reconciler drives one participant-side logical directory through
// its sync lifecycle, the C6 component. Grounded on the teacher's
// internal/sync.Client/Watcher loop (negotiate, apply, persist, wait,
// repeat) generalized from a single untyped "sync now" call into an
// explicit state machine with backoff, per spec.md §5.
package reconciler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/abuss/syncpair/internal/config"
	"github.com/abuss/syncpair/internal/model"
	"github.com/abuss/syncpair/internal/pathfilter"
	"github.com/abuss/syncpair/internal/planner"
	"github.com/abuss/syncpair/internal/protocol"
	"github.com/abuss/syncpair/internal/scanner"
	"github.com/abuss/syncpair/internal/statestore"
	"github.com/abuss/syncpair/internal/syncerr"
)

// State names the reconciler's lifecycle phase, per spec.md §5.
type State int

const (
	StateStarting State = iota
	StateConnecting
	StateSyncing
	StateWatching
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnecting:
		return "connecting"
	case StateSyncing:
		return "syncing"
	case StateWatching:
		return "watching"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// persistEvery caps how many applied actions accumulate before an
// intermediate save, so a crash mid-batch loses at most this many already-
// applied actions worth of bookkeeping (spec.md §5).
const persistEvery = 16

// maxBackoffSeconds caps the exponential backoff delay. Because the attempt
// index is clamped at maxBackoffAttempts first, the longest delay actually
// used is 2^4 = 16 s and this cap is never reached.
const maxBackoffSeconds = 30

// maxBackoffAttempts is the last attempt index backoff grows for (2^4=16);
// every later attempt reuses that 16 s delay.
const maxBackoffAttempts = 4

// Reconciler owns one logical directory's sync loop.
type Reconciler struct {
	dir    config.DirectoryEntry
	ref    protocol.DirectoryRef
	client *protocol.Client
	store  *statestore.Store
	filter pathfilter.PathFilter
	logger *slog.Logger

	// sem serializes RunOnce across the periodic loop (Run) and the
	// filesystem watcher (Watcher.trigger), so the two never walk and
	// apply against the same local files at once.
	sem *semaphore.Weighted

	state   State
	attempt int
}

// New builds a Reconciler for one configured directory.
func New(participantID string, dir config.DirectoryEntry, client *protocol.Client, logger *slog.Logger) (*Reconciler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	filter, err := pathfilter.Compile(dir.IgnorePatterns)
	if err != nil {
		return nil, syncerr.New(syncerr.ConfigInvalid, "reconciler.New", err)
	}
	filter = excludeStateFile(filter)
	statePath := filepath.Join(dir.LocalPath, statestore.ParticipantStateFile)
	return &Reconciler{
		dir: dir,
		ref: protocol.DirectoryRef{
			ParticipantID: participantID,
			DirectoryName: dir.Name,
			Shared:        dir.Shared,
		},
		client: client,
		store:  statestore.New(statePath, logger),
		filter: filter,
		logger: logger.With("directory", dir.Name),
		sem:    semaphore.NewWeighted(1),
		state:  StateStarting,
	}, nil
}

// excludeStateFile wraps filter so the participant's own hidden state file
// never enters the scan, no matter what IgnorePatterns says: otherwise the
// reconciler would upload it as ordinary content, the coordinator would
// store it at a path that collides with the coordinator's own state file
// for that key, and every subsequent save would make its own inventory
// hash stale (constant IntegrityMismatch, constant re-upload).
func excludeStateFile(filter pathfilter.PathFilter) pathfilter.PathFilter {
	return func(relPath string) bool {
		if relPath == statestore.ParticipantStateFile {
			return false
		}
		return filter(relPath)
	}
}

// State reports the reconciler's current lifecycle phase.
func (r *Reconciler) State() State { return r.state }

// Run loops sync cycles until ctx is canceled, sleeping dir.SyncIntervalSeconds
// between cycles (or a backoff delay after a failure).
func (r *Reconciler) Run(ctx context.Context) error {
	r.state = StateConnecting
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		err := r.RunOnce(ctx)
		var wait time.Duration
		if err != nil {
			r.logger.Warn("sync cycle failed", "error", err, "attempt", r.attempt)
			r.state = StateBackoff
			wait = backoffDelay(r.attempt)
			r.attempt++
		} else {
			r.state = StateWatching
			r.attempt = 0
			wait = time.Duration(r.dir.SyncIntervalSeconds) * time.Second
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// backoffDelay implements min(2^min(attempt, maxBackoffAttempts),
// maxBackoffSeconds) seconds: 1, 2, 4, 8, 16, then 16 for every later attempt.
func backoffDelay(attempt int) time.Duration {
	if attempt > maxBackoffAttempts {
		attempt = maxBackoffAttempts
	}
	seconds := 1 << uint(attempt)
	if seconds > maxBackoffSeconds {
		seconds = maxBackoffSeconds
	}
	return time.Duration(seconds) * time.Second
}

// RunOnce performs exactly one sync cycle, blocking until any cycle already
// in flight (triggered by the watcher) finishes first. Returns a
// *syncerr.Error on any failure; the caller decides how to back off.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)
	return r.runOnceLocked(ctx)
}

// TryRunOnce performs one sync cycle only if none is already in flight for
// this directory; ran is false if a cycle was skipped because one was
// already running, with no error in that case.
func (r *Reconciler) TryRunOnce(ctx context.Context) (ran bool, err error) {
	if !r.sem.TryAcquire(1) {
		return false, nil
	}
	defer r.sem.Release(1)
	return true, r.runOnceLocked(ctx)
}

// runOnceLocked does the actual work of one sync cycle: scan, load cached
// state, negotiate, apply the resulting plan in download/delete/upload
// order, and persist. The caller must already hold sem.
func (r *Reconciler) runOnceLocked(ctx context.Context) error {
	r.state = StateSyncing

	local, err := scanner.Scan(r.dir.LocalPath, r.filter, r.logger)
	if err != nil {
		return syncerr.New(syncerr.StorageIO, "RunOnce", err)
	}

	cached, err := r.store.Load()
	if err != nil {
		return err
	}

	// Detect local deletions: anything the last scan held that the fresh
	// scan no longer sees is a file this side removed since then.
	now := time.Now().UTC()
	for path := range cached.Inventory {
		if _, stillThere := local[path]; !stillThere {
			cached.Delete(path, now)
		}
	}

	req := protocol.SyncRequest{
		DirectoryRef: r.ref,
		Files:        local,
		DeletedFiles: millisFromTombstones(cached.Tombstones),
	}
	if cached.LastSync != nil {
		ms := protocol.ToMillis(*cached.LastSync)
		req.LastSync = &ms
	}

	resp, err := r.client.Negotiate(ctx, req)
	if err != nil {
		return err
	}
	for _, c := range resp.Conflicts {
		r.logger.Warn("sync conflict, remote wins", "path", c.Path,
			"local_instant", c.LocalInstant, "remote_instant", c.RemoteInstant)
	}

	deletePaths := make([]string, 0, len(resp.FilesToDelete))
	deleteInstants := make(map[string]time.Time, len(resp.FilesToDelete))
	for _, d := range resp.FilesToDelete {
		deletePaths = append(deletePaths, d.Path)
		deleteInstants[d.Path] = protocol.FromMillis(d.Instant)
	}

	plan := &planner.Plan{
		Upload:       resp.FilesToUpload,
		Download:     resp.FilesToDownload,
		DeleteLocal:  deletePaths,
		DeleteRemote: resp.FilesToDeleteRemote,
	}

	state := cached.Clone()
	state.Inventory = local

	applied := 0
	persist := func() error {
		if applied >= persistEvery {
			applied = 0
			return r.store.Save(state)
		}
		return nil
	}

	// Apply order per spec.md §5: downloads, then deletes, then uploads —
	// downloads and deletes shrink the working set before uploads push
	// anything new, minimizing races against a concurrent local edit.
	for _, fi := range plan.Download {
		if err := r.applyDownload(ctx, fi, state); err != nil {
			r.logger.Warn("download failed", "path", fi.Path, "error", err)
			continue
		}
		applied++
		if err := persist(); err != nil {
			return err
		}
	}
	for _, path := range plan.DeleteLocal {
		if err := r.applyDeleteLocal(path, deleteInstants[path], state); err != nil {
			r.logger.Warn("local delete failed", "path", path, "error", err)
			continue
		}
		applied++
		if err := persist(); err != nil {
			return err
		}
	}
	for _, path := range plan.Upload {
		if err := r.applyUpload(ctx, path, local, state); err != nil {
			r.logger.Warn("upload failed", "path", path, "error", err)
			continue
		}
		applied++
		if err := persist(); err != nil {
			return err
		}
	}
	for _, path := range plan.DeleteRemote {
		if err := r.applyDeleteRemote(ctx, path, state); err != nil {
			r.logger.Warn("remote delete failed", "path", path, "error", err)
			continue
		}
		applied++
		if err := persist(); err != nil {
			return err
		}
	}

	lastSync := time.Now().UTC()
	state.LastSync = &lastSync
	return r.store.Save(state)
}

func (r *Reconciler) applyDownload(ctx context.Context, fi model.FileInfo, state *model.DirectoryState) error {
	_, body, err := r.client.Download(ctx, r.ref, fi.Path)
	if err != nil {
		return err
	}
	defer body.Close()

	fullPath := filepath.Join(r.dir.LocalPath, filepath.FromSlash(fi.Path))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return syncerr.New(syncerr.StorageIO, "applyDownload", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".syncpair-*.tmp")
	if err != nil {
		return syncerr.New(syncerr.StorageIO, "applyDownload", err)
	}
	tmpPath := tmp.Name()

	h := sha256.New()
	if _, err := io.Copy(tmp, io.TeeReader(body, h)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return syncerr.New(syncerr.StorageIO, "applyDownload", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != fi.Hash {
		tmp.Close()
		os.Remove(tmpPath)
		return syncerr.New(syncerr.IntegrityMismatch, "applyDownload", fmt.Errorf("expected %s, got %s for %s", fi.Hash, got, fi.Path))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return syncerr.New(syncerr.StorageIO, "applyDownload", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return syncerr.New(syncerr.StorageIO, "applyDownload", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return syncerr.New(syncerr.StorageIO, "applyDownload", err)
	}

	state.Put(fi)
	return nil
}

// applyDeleteLocal implements rule 4's delete_local branch: the local
// tombstone is stamped with instant, the coordinator's own recorded
// deletion instant Rd[p] (spec.md §4.3), not the moment this side happened
// to apply it — that's what lets the tombstone equalize across every
// participant that eventually applies the same delete.
func (r *Reconciler) applyDeleteLocal(path string, instant time.Time, state *model.DirectoryState) error {
	fullPath := filepath.Join(r.dir.LocalPath, filepath.FromSlash(path))
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return syncerr.New(syncerr.StorageIO, "applyDeleteLocal", err)
	}
	state.Delete(path, instant)
	return nil
}

// applyDeleteRemote asks the coordinator to delete path, sending the
// instant this side already holds for it (rule 4's delete_remote branch —
// the coordinator stamps the latest of its own clock, this instant, and
// what it already holds for the path).
func (r *Reconciler) applyDeleteRemote(ctx context.Context, path string, state *model.DirectoryState) error {
	instant := time.Now().UTC()
	if held, ok := state.Tombstones[path]; ok {
		instant = held
	}
	ms := protocol.ToMillis(instant)
	if err := r.client.Delete(ctx, r.ref, path, &ms); err != nil {
		return err
	}
	state.Delete(path, instant)
	return nil
}

func (r *Reconciler) applyUpload(ctx context.Context, path string, local model.Inventory, state *model.DirectoryState) error {
	fi, ok := local[path]
	if !ok {
		return syncerr.New(syncerr.StorageIO, "applyUpload", fmt.Errorf("%s vanished before upload", path))
	}
	fullPath := filepath.Join(r.dir.LocalPath, filepath.FromSlash(path))
	f, err := os.Open(fullPath)
	if err != nil {
		return syncerr.New(syncerr.StorageIO, "applyUpload", err)
	}
	defer f.Close()

	if err := r.client.Upload(ctx, r.ref, fi, f); err != nil {
		return err
	}
	state.Put(fi)
	return nil
}

func millisFromTombstones(ts model.Tombstones) map[string]int64 {
	out := make(map[string]int64, len(ts))
	for path, t := range ts {
		out[path] = protocol.ToMillis(t)
	}
	return out
}
