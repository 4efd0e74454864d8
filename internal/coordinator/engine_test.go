package coordinator_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abuss/syncpair/internal/coordinator"
	"github.com/abuss/syncpair/internal/model"
	"github.com/abuss/syncpair/internal/syncerr"
)

func hashOf(t *testing.T, content []byte) string {
	t.Helper()
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func TestEngine_UploadThenDownload_RoundTrips(t *testing.T) {
	engine := coordinator.NewEngine(t.TempDir(), nil)
	content := []byte("hello engine")
	fi := model.FileInfo{Path: "a.txt", Hash: hashOf(t, content), Size: int64(len(content)), Modified: time.Now().UTC()}

	require.NoError(t, engine.Upload("notes", fi, content))

	gotFI, gotContent, err := engine.Download("notes", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, content, gotContent)
	assert.Equal(t, fi.Hash, gotFI.Hash)
}

func TestEngine_Upload_RejectsHashMismatch(t *testing.T) {
	engine := coordinator.NewEngine(t.TempDir(), nil)
	content := []byte("hello engine")
	fi := model.FileInfo{Path: "a.txt", Hash: "not-the-real-hash", Size: int64(len(content)), Modified: time.Now().UTC()}

	err := engine.Upload("notes", fi, content)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.IntegrityMismatch))
}

func TestEngine_Delete_RemovesFileAndTombstones(t *testing.T) {
	engine := coordinator.NewEngine(t.TempDir(), nil)
	content := []byte("bye")
	fi := model.FileInfo{Path: "a.txt", Hash: hashOf(t, content), Size: int64(len(content)), Modified: time.Now().UTC()}
	require.NoError(t, engine.Upload("notes", fi, content))

	require.NoError(t, engine.Delete("notes", "a.txt", time.Now().UTC().Add(time.Second)))

	_, _, err := engine.Download("notes", "a.txt")
	assert.Error(t, err)

	_, tombstones, err := engine.Negotiate("notes", model.Inventory{}, model.Tombstones{})
	require.NoError(t, err)
	assert.Contains(t, tombstones, "a.txt")
}

func TestEngine_Negotiate_UploadOnlyOnRemote_ReturnsDownload(t *testing.T) {
	engine := coordinator.NewEngine(t.TempDir(), nil)
	content := []byte("seed")
	fi := model.FileInfo{Path: "seed.txt", Hash: hashOf(t, content), Size: int64(len(content)), Modified: time.Now().UTC()}
	require.NoError(t, engine.Upload("notes", fi, content))

	plan, _, err := engine.Negotiate("notes", model.Inventory{}, model.Tombstones{})
	require.NoError(t, err)
	require.Len(t, plan.Download, 1)
	assert.Equal(t, "seed.txt", plan.Download[0].Path)
}

func TestValidateIdentifier_RejectsReservedCharacters(t *testing.T) {
	assert.NoError(t, coordinator.ValidateIdentifier("name", "notes"))
	assert.Error(t, coordinator.ValidateIdentifier("name", "a:b"))
	assert.Error(t, coordinator.ValidateIdentifier("name", "a/b"))
}
