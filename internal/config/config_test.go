package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abuss/syncpair/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MinimalConfig(t *testing.T) {
	local := t.TempDir()
	path := writeConfig(t, `
participant_id: laptop-a
server: http://localhost:8080
directories:
  - name: notes
    local_path: `+local+`
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "laptop-a", cfg.ParticipantID)
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	require.Len(t, cfg.Directories, 1)
	assert.Equal(t, "notes", cfg.Directories[0].Name)
	assert.True(t, cfg.Directories[0].Enabled, "enabled defaults to true")
	assert.Equal(t, uint32(30), cfg.Directories[0].SyncIntervalSeconds, "interval defaults to 30")
	assert.False(t, cfg.Directories[0].Shared, "shared defaults to false")
}

func TestLoad_DirectorySettingsOverrideDefaults(t *testing.T) {
	local := t.TempDir()
	path := writeConfig(t, `
participant_id: laptop-a
server: http://localhost:8080
default:
  enabled: true
  sync_interval_seconds: 60
  ignore_patterns:
    - "*.tmp"
directories:
  - name: notes
    local_path: `+local+`
    settings:
      shared: true
      sync_interval_seconds: 5
      ignore_patterns:
        - "*.log"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	dir := cfg.Directories[0]
	assert.True(t, dir.Shared)
	assert.Equal(t, uint32(5), dir.SyncIntervalSeconds, "directory-specific interval overrides default")
	assert.ElementsMatch(t, []string{"*.tmp", "*.log"}, dir.IgnorePatterns, "ignore patterns union defaults and directory-specific")
}

func TestLoad_RejectsIdentifierWithReservedCharacters(t *testing.T) {
	local := t.TempDir()
	path := writeConfig(t, `
participant_id: "bad:id"
server: http://localhost:8080
directories:
  - name: notes
    local_path: `+local+`
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsDuplicateDirectoryNames(t *testing.T) {
	local := t.TempDir()
	path := writeConfig(t, `
participant_id: laptop-a
server: http://localhost:8080
directories:
  - name: notes
    local_path: `+local+`
  - name: notes
    local_path: `+local+`
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_RequiresAtLeastOneDirectory(t *testing.T) {
	path := writeConfig(t, `
participant_id: laptop-a
server: http://localhost:8080
directories: []
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}
