package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/abuss/syncpair/internal/model"
)

func at(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}

func TestPut_NewEntry_IsStored(t *testing.T) {
	s := model.NewDirectoryState()
	s.Put(model.FileInfo{Path: "a.txt", Hash: "h1", Modified: at(10)})
	assert.Equal(t, "h1", s.Inventory["a.txt"].Hash)
}

func TestPut_DiscardsOlderWrite(t *testing.T) {
	s := model.NewDirectoryState()
	s.Put(model.FileInfo{Path: "a.txt", Hash: "h2", Modified: at(20)})
	s.Put(model.FileInfo{Path: "a.txt", Hash: "h1", Modified: at(10)})
	assert.Equal(t, "h2", s.Inventory["a.txt"].Hash, "an older write must not overwrite a newer one")
}

func TestPut_InventoryWinsTieAgainstTombstone(t *testing.T) {
	s := model.NewDirectoryState()
	s.Delete("a.txt", at(10))
	s.Put(model.FileInfo{Path: "a.txt", Hash: "h1", Modified: at(10)})

	_, tombstoned := s.Tombstones["a.txt"]
	assert.False(t, tombstoned)
	assert.Equal(t, "h1", s.Inventory["a.txt"].Hash)
}

func TestPut_OlderThanTombstone_IsDiscarded(t *testing.T) {
	s := model.NewDirectoryState()
	s.Delete("a.txt", at(20))
	s.Put(model.FileInfo{Path: "a.txt", Hash: "h1", Modified: at(10)})

	_, live := s.Inventory["a.txt"]
	assert.False(t, live)
	assert.Equal(t, at(20), s.Tombstones["a.txt"])
}

func TestDelete_TombstoneTieWinsAgainstInventory(t *testing.T) {
	s := model.NewDirectoryState()
	s.Put(model.FileInfo{Path: "a.txt", Hash: "h1", Modified: at(10)})
	s.Delete("a.txt", at(10))

	_, live := s.Inventory["a.txt"]
	assert.False(t, live, "a tombstone at the same instant as the held modification wins")
}

func TestDelete_OlderThanInventory_IsNoOp(t *testing.T) {
	s := model.NewDirectoryState()
	s.Put(model.FileInfo{Path: "a.txt", Hash: "h1", Modified: at(20)})
	s.Delete("a.txt", at(10))

	assert.Equal(t, "h1", s.Inventory["a.txt"].Hash)
	_, tombstoned := s.Tombstones["a.txt"]
	assert.False(t, tombstoned)
}

func TestClone_IsIndependentOfOriginal(t *testing.T) {
	s := model.NewDirectoryState()
	s.Put(model.FileInfo{Path: "a.txt", Hash: "h1", Modified: at(10)})

	clone := s.Clone()
	clone.Put(model.FileInfo{Path: "a.txt", Hash: "h2", Modified: at(20)})

	assert.Equal(t, "h1", s.Inventory["a.txt"].Hash, "mutating the clone must not affect the original")
	assert.Equal(t, "h2", clone.Inventory["a.txt"].Hash)
}

func TestSortedPaths_AreLexicallyOrdered(t *testing.T) {
	inv := model.Inventory{"b.txt": {}, "a.txt": {}, "c.txt": {}}
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, model.SortedInventoryPaths(inv))
}
