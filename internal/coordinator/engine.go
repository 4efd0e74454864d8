// Package coordinator implements the server-side per-directory locked
// state and its HTTP surface, the C5 component. Grounded on the teacher's
// internal/storage.Storage (atomic Put, safePath containment,
// tombstone CRUD) generalized from a single flat store to a table of
// per-logical-directory state guarded by one lock each, and on the
// teacher's internal/api.Handler for the route/authMiddleware shape.
package coordinator

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/abuss/syncpair/internal/model"
	"github.com/abuss/syncpair/internal/planner"
	"github.com/abuss/syncpair/internal/scanner"
	"github.com/abuss/syncpair/internal/statestore"
	"github.com/abuss/syncpair/internal/syncerr"
)

// directoryEntry is one logical directory's state plus the lock guarding
// it. The lock is acquired for the duration of a handler and held across
// any mutation and its persistence — persistence uses saveLocked, which
// must never re-acquire this lock (the self-deadlock class spec.md §9
// calls out explicitly).
type directoryEntry struct {
	mu    sync.Mutex
	state *model.DirectoryState
}

// Engine owns the storage_root and the key -> directoryEntry table. The
// table itself is protected by a separate mutex from each entry's lock:
// acquiring a directory's lock never requires holding the table lock, and
// vice versa, so the two never nest in a way that could deadlock.
type Engine struct {
	storageRoot string
	logger      *slog.Logger

	tableMu sync.Mutex
	table   map[string]*directoryEntry
}

func NewEngine(storageRoot string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		storageRoot: storageRoot,
		logger:      logger,
		table:       make(map[string]*directoryEntry),
	}
}

// entry returns the directoryEntry for key, creating it lazily (spec.md
// §3: "A DirectoryState is created on first access").
func (e *Engine) entry(key string) (*directoryEntry, error) {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()

	if d, ok := e.table[key]; ok {
		return d, nil
	}

	store := statestore.New(e.keyStatePath(key), e.logger)
	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	d := &directoryEntry{state: state}
	e.table[key] = d
	return d, nil
}

func (e *Engine) keyRoot(key string) string {
	return filepath.Join(e.storageRoot, key)
}

func (e *Engine) keyStatePath(key string) string {
	return filepath.Join(e.keyRoot(key), statestore.CoordinatorStateFile)
}

func (e *Engine) store(key string) *statestore.Store {
	return statestore.New(e.keyStatePath(key), e.logger)
}

// saveLocked persists state for key. The caller MUST already hold the
// directory's own lock; saveLocked itself never touches tableMu or any
// directoryEntry.mu, so it cannot deadlock against a concurrent handler
// for a different key and cannot re-enter the lock a caller already
// holds.
func (e *Engine) saveLocked(key string, state *model.DirectoryState) error {
	return e.store(key).Save(state)
}

// ValidateIdentifier rejects the reserved ':' and '/' characters per
// spec.md §6, which is what keeps a private key "p:n" from ever
// colliding with a shared key literally named "p:n" (Open Question 2).
func ValidateIdentifier(field, v string) error {
	if strings.ContainsAny(v, ":/") {
		return syncerr.New(syncerr.ConfigInvalid, "ValidateIdentifier", fmt.Errorf("%s %q must not contain ':' or '/'", field, v))
	}
	return nil
}

// Negotiate runs the planner with the coordinator's state as "remote"
// relative to the participant's reported inventory/tombstones. It does
// not mutate state — only Upload/Delete do, when the participant follows
// through on the plan. The returned tombstones are a snapshot copy (safe
// to read after the lock is released) the caller uses to find the exact
// instant Rd[p] for any path in the plan's DeleteLocal list.
func (e *Engine) Negotiate(key string, participantInv model.Inventory, participantTombstones model.Tombstones) (*planner.Plan, model.Tombstones, error) {
	d, err := e.entry(key)
	if err != nil {
		return nil, nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	plan := planner.Plan(participantInv, participantTombstones, d.state.Inventory, d.state.Tombstones)
	tombstones := make(model.Tombstones, len(d.state.Tombstones))
	for path, instant := range d.state.Tombstones {
		tombstones[path] = instant
	}
	return plan, tombstones, nil
}

// Upload verifies the hash, writes content atomically under the key's
// storage root, clears any tombstone not newer than the write (inventory
// wins ties), updates the inventory, and persists — all under the
// directory lock. A write the state would discard (not newer than the held
// entry, or older than the held tombstone) is a no-op: nothing is written.
func (e *Engine) Upload(key string, fi model.FileInfo, content []byte) error {
	got, err := scanner.HashReader(bytes.NewReader(content))
	if err != nil {
		return syncerr.New(syncerr.StorageIO, "Upload", err)
	}
	if got != fi.Hash {
		return syncerr.New(syncerr.IntegrityMismatch, "Upload", fmt.Errorf("declared hash %s does not match content hash %s", fi.Hash, got))
	}

	d, err := e.entry(key)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	incoming := fi.Coarsen().Modified
	if held, ok := d.state.Inventory[fi.Path]; ok && !incoming.After(held.Modified) {
		return nil
	}
	if held, ok := d.state.Tombstones[fi.Path]; ok && incoming.Before(held) {
		return nil
	}

	fullPath, err := e.safePath(key, fi.Path)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(fullPath, content); err != nil {
		return syncerr.New(syncerr.StorageIO, "Upload", err)
	}

	d.state.Put(fi)
	return e.saveLocked(key, d.state)
}

// Download reads content for relPath, re-hashing it to guarantee the
// delivered bytes match the advertised inventory entry.
func (e *Engine) Download(key, relPath string) (model.FileInfo, []byte, error) {
	d, err := e.entry(key)
	if err != nil {
		return model.FileInfo{}, nil, err
	}
	d.mu.Lock()
	fi, ok := d.state.Inventory[relPath]
	d.mu.Unlock()
	if !ok {
		return model.FileInfo{}, nil, syncerr.New(syncerr.StorageIO, "Download", fmt.Errorf("%s not found", relPath))
	}

	fullPath, err := e.safePath(key, relPath)
	if err != nil {
		return model.FileInfo{}, nil, err
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return model.FileInfo{}, nil, syncerr.New(syncerr.StorageIO, "Download", err)
	}

	got, err := scanner.HashReader(bytes.NewReader(content))
	if err != nil {
		return model.FileInfo{}, nil, syncerr.New(syncerr.StorageIO, "Download", err)
	}
	if got != fi.Hash {
		return model.FileInfo{}, nil, syncerr.New(syncerr.IntegrityMismatch, "Download", fmt.Errorf("stored content no longer matches inventory hash for %s", relPath))
	}

	return fi, content, nil
}

// Delete removes the file from disk (if present) and sets a tombstone at
// the latest of the existing tombstone, the requested instant and the held
// inventory entry's modified time.
func (e *Engine) Delete(key, relPath string, requested time.Time) error {
	d, err := e.entry(key)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	fullPath, err := e.safePath(key, relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return syncerr.New(syncerr.StorageIO, "Delete", err)
	}
	removeEmptyParents(filepath.Dir(fullPath), e.keyRoot(key))

	// instant is max(existing tombstone, requested); also folds in the
	// still-live inventory entry's own modified time below so a delete
	// request racing an in-flight upload can never regress the stamped
	// instant backwards past a write the coordinator already has on disk.
	instant := requested
	if held, ok := d.state.Tombstones[relPath]; ok && held.After(instant) {
		instant = held
	}
	if held, ok := d.state.Inventory[relPath]; ok && held.Modified.After(instant) {
		instant = held.Modified
	}
	d.state.Delete(relPath, instant)
	return e.saveLocked(key, d.state)
}

// safePath resolves relPath under the key's storage root and rejects any
// escape, the same containment check as the teacher's Storage.safePath.
func (e *Engine) safePath(key, relPath string) (string, error) {
	root := e.keyRoot(key)
	cleaned := filepath.Clean(relPath)
	full := filepath.Join(root, cleaned)
	if !strings.HasPrefix(full, root+string(filepath.Separator)) && full != root {
		return "", syncerr.New(syncerr.StorageIO, "safePath", fmt.Errorf("path escapes storage root: %s", relPath))
	}
	return full, nil
}

func removeEmptyParents(dir, stopAt string) {
	for dir != stopAt && strings.HasPrefix(dir, stopAt) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
