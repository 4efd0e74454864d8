// Package model defines the shared inventory/tombstone data model used by
// every other package in syncpair: the scanner produces it, the state store
// persists it, the planner reasons over it, and the protocol carries it on
// the wire.
package model

import (
	"sort"
	"time"
)

// FileInfo is an inventory entry for one file relative to a directory root.
type FileInfo struct {
	Path     string    `json:"path"`
	Hash     string    `json:"hash"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Coarsen truncates Modified to millisecond precision, the precision floor
// the wire format and the planner both assume (spec Open Question 3).
func (f FileInfo) Coarsen() FileInfo {
	f.Modified = f.Modified.UTC().Truncate(time.Millisecond)
	return f
}

// Tombstone records when a path was deleted.
type Tombstone struct {
	Path      string    `json:"path"`
	DeletedAt time.Time `json:"deleted_at"`
}

func (t Tombstone) Coarsen() Tombstone {
	t.DeletedAt = t.DeletedAt.UTC().Truncate(time.Millisecond)
	return t
}

// Inventory maps relpath to FileInfo.
type Inventory map[string]FileInfo

// Tombstones maps relpath to deletion instant.
type Tombstones map[string]time.Time

// DirectoryState is the authoritative (coordinator) or cached (participant)
// state for one logical directory.
type DirectoryState struct {
	Inventory  Inventory  `json:"inventory"`
	Tombstones Tombstones `json:"tombstones"`
	// LastSync is set only on the participant side: the instant the last
	// successful negotiation with this coordinator completed.
	LastSync *time.Time `json:"last_sync,omitempty"`
}

// NewDirectoryState returns an empty, ready-to-use state.
func NewDirectoryState() *DirectoryState {
	return &DirectoryState{
		Inventory:  make(Inventory),
		Tombstones: make(Tombstones),
	}
}

// Put inserts or updates a live file, enforcing invariant I1 (a path is
// never simultaneously live and tombstoned) and I2 (monotonicity): the
// write is discarded if a held record for the same path is not strictly
// older, except that an inventory entry beats a tombstone with an equal
// instant (ties favor resurrection requiring strict newness is handled by
// callers; Put itself only arbitrates equal-instant inventory-vs-tombstone
// per I1's tie-break: inventory wins).
func (s *DirectoryState) Put(fi FileInfo) {
	fi = fi.Coarsen()
	if held, ok := s.Tombstones[fi.Path]; ok {
		if fi.Modified.Before(held) {
			return
		}
		// Equal or newer: inventory wins ties (I1).
		delete(s.Tombstones, fi.Path)
	}
	if held, ok := s.Inventory[fi.Path]; ok && !fi.Modified.After(held.Modified) {
		return
	}
	s.Inventory[fi.Path] = fi
}

// Delete records a tombstone at the given instant, enforcing I1/I2: a
// tombstone strictly newer than (or equal to, per the tie-break below) the
// held inventory modification instant wins; anything older is a no-op.
func (s *DirectoryState) Delete(path string, at time.Time) {
	at = at.UTC().Truncate(time.Millisecond)
	if held, ok := s.Inventory[path]; ok {
		if at.Before(held.Modified) {
			return
		}
		delete(s.Inventory, path)
	}
	if held, ok := s.Tombstones[path]; ok && !at.After(held) {
		return
	}
	s.Tombstones[path] = at
}

// Clone deep-copies the state so callers can mutate the copy without
// racing a concurrent reader of the original.
func (s *DirectoryState) Clone() *DirectoryState {
	out := NewDirectoryState()
	for k, v := range s.Inventory {
		out.Inventory[k] = v
	}
	for k, v := range s.Tombstones {
		out.Tombstones[k] = v
	}
	if s.LastSync != nil {
		t := *s.LastSync
		out.LastSync = &t
	}
	return out
}

// SortedInventoryPaths returns the keys of inv in lexical order, used wherever a
// deterministic iteration order is needed (diagnostics, tests, dir walks).
func SortedInventoryPaths(inv Inventory) []string {
	paths := make([]string, 0, len(inv))
	for p := range inv {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func SortedTombstonePaths(ts Tombstones) []string {
	paths := make([]string, 0, len(ts))
	for p := range ts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
