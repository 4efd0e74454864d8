// Package statestore persists a DirectoryState atomically, the C2
// component. Grounded directly on the teacher's internal/storage
// tombstone CRUD and atomic Put: write to a sibling temp file, fsync,
// close, then rename over the target so a crash mid-write never leaves a
// torn file (I3).
package statestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/abuss/syncpair/internal/model"
	"github.com/abuss/syncpair/internal/syncerr"
)

// ParticipantStateFile is the hidden state file name inside a watched
// directory root (spec.md §6, persisted layout (participant)).
const ParticipantStateFile = ".sync_state.json"

// CoordinatorStateFile is the state file name inside a logical
// directory's storage-key root (spec.md §6, persisted layout
// (coordinator)).
const CoordinatorStateFile = ".sync_state.json"

// Store persists a single DirectoryState at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
}

// New returns a Store backed by the state file at path (the caller picks
// ParticipantStateFile or CoordinatorStateFile joined onto a root).
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// onDiskState is the persisted schema: a plain JSON document of the
// inventory/tombstones/last_sync triple (Open Question 1: JSON chosen
// over an embedded store).
type onDiskState struct {
	Inventory  model.Inventory  `json:"inventory"`
	Tombstones map[string]int64 `json:"tombstones"` // unix millis, for a stable wire-independent format
	LastSync   *int64           `json:"last_sync,omitempty"`
}

// Load reads the persisted state. A missing file returns a fresh empty
// state, not an error. A corrupt file is renamed aside
// (`<name>.corrupt.<unix-ts>`) per spec.md §7 and Load falls back to an
// empty state, logging a warning — callers are expected to rescan.
func (s *Store) Load() (*model.DirectoryState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.NewDirectoryState(), nil
		}
		return nil, syncerr.New(syncerr.StorageIO, "statestore.Load", err)
	}

	var disk onDiskState
	if err := json.Unmarshal(data, &disk); err != nil {
		s.quarantine(err)
		return model.NewDirectoryState(), nil
	}

	state := model.NewDirectoryState()
	if disk.Inventory != nil {
		state.Inventory = disk.Inventory
	}
	for path, millis := range disk.Tombstones {
		state.Tombstones[path] = time.UnixMilli(millis).UTC()
	}
	if disk.LastSync != nil {
		t := time.UnixMilli(*disk.LastSync).UTC()
		state.LastSync = &t
	}
	return state, nil
}

func (s *Store) quarantine(cause error) {
	quarantinePath := fmt.Sprintf("%s.corrupt.%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, quarantinePath); err != nil {
		s.logger.Warn("statestore: failed to quarantine corrupt state file", "path", s.path, "error", err)
		return
	}
	s.logger.Warn("statestore: state file corrupt, quarantined and starting fresh",
		"path", s.path, "quarantined_as", quarantinePath, "cause", cause)
}

// Save atomically persists state: temp file in the same directory, fsync,
// close, rename over the target (I3 — a crash between steps leaves the
// previous state intact).
func (s *Store) Save(state *model.DirectoryState) error {
	disk := onDiskState{
		Inventory:  state.Inventory,
		Tombstones: make(map[string]int64, len(state.Tombstones)),
	}
	if disk.Inventory == nil {
		disk.Inventory = model.Inventory{}
	}
	for path, t := range state.Tombstones {
		disk.Tombstones[path] = t.UnixMilli()
	}
	if state.LastSync != nil {
		millis := state.LastSync.UnixMilli()
		disk.LastSync = &millis
	}

	data, err := json.Marshal(disk)
	if err != nil {
		return syncerr.New(syncerr.StorageIO, "statestore.Save", fmt.Errorf("marshal: %w", err))
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return syncerr.New(syncerr.StorageIO, "statestore.Save", fmt.Errorf("mkdir %s: %w", dir, err))
	}

	tmp, err := os.CreateTemp(dir, ".sync_state-*.tmp")
	if err != nil {
		return syncerr.New(syncerr.StorageIO, "statestore.Save", fmt.Errorf("create temp: %w", err))
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return syncerr.New(syncerr.StorageIO, "statestore.Save", fmt.Errorf("write temp: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return syncerr.New(syncerr.StorageIO, "statestore.Save", fmt.Errorf("sync temp: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return syncerr.New(syncerr.StorageIO, "statestore.Save", fmt.Errorf("close temp: %w", err))
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return syncerr.New(syncerr.StorageIO, "statestore.Save", fmt.Errorf("rename: %w", err))
	}
	return syncDir(dir)
}

// syncDir fsyncs the directory entry so the rename itself is durable, not
// just the file contents. Best-effort: some filesystems/platforms don't
// support directory fsync, so failures are ignored, not fatal.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
