package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abuss/syncpair/internal/model"
)

func TestLoad_MissingFile_ReturnsEmptyState(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, ParticipantStateFile), nil)

	state, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, state.Inventory)
	assert.Empty(t, state.Tombstones)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ParticipantStateFile)
	s := New(path, nil)

	state := model.NewDirectoryState()
	state.Put(model.FileInfo{Path: "doc.txt", Hash: "H1", Size: 2, Modified: time.Unix(100, 0)})
	state.Delete("gone.txt", time.Unix(200, 0))

	require.NoError(t, s.Save(state))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Contains(t, loaded.Inventory, "doc.txt")
	assert.Equal(t, "H1", loaded.Inventory["doc.txt"].Hash)
	require.Contains(t, loaded.Tombstones, "gone.txt")
	assert.Equal(t, time.Unix(200, 0).UTC(), loaded.Tombstones["gone.txt"])
}

func TestSave_LeavesPreviousStateIntactOnCrashBeforeRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ParticipantStateFile)
	s := New(path, nil)

	original := model.NewDirectoryState()
	original.Put(model.FileInfo{Path: "a.txt", Hash: "H1", Modified: time.Unix(1, 0)})
	require.NoError(t, s.Save(original))

	// Simulate a crash mid-save: a temp file is left behind, but the
	// target path must still hold the previous, complete snapshot.
	tmp, err := os.CreateTemp(dir, ".sync_state-*.tmp")
	require.NoError(t, err)
	_, _ = tmp.WriteString(`{"inventory":{"b.txt"`) // deliberately truncated/invalid
	tmp.Close()

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Contains(t, loaded.Inventory, "a.txt")
	assert.NotContains(t, loaded.Inventory, "b.txt")
}

func TestLoad_CorruptFile_QuarantinedAndStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ParticipantStateFile)
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	s := New(path, nil)
	state, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, state.Inventory)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	foundQuarantine := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" && e.Name() != filepath.Base(path) {
			foundQuarantine = true
		}
	}
	assert.True(t, foundQuarantine, "expected a quarantined .corrupt. file")
}
