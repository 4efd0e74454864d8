package scanner_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abuss/syncpair/internal/pathfilter"
	"github.com/abuss/syncpair/internal/scanner"
)

func TestScan_ProducesInventoryForRegularFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world"), 0o644))

	inv, err := scanner.Scan(root, nil, nil)
	require.NoError(t, err)

	require.Contains(t, inv, "a.txt")
	require.Contains(t, inv, "sub/b.txt")
	assert.Equal(t, int64(5), inv["a.txt"].Size)
	assert.NotEmpty(t, inv["a.txt"].Hash)
}

func TestScan_HashIsStableAndContentSensitive(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.txt"), []byte("different"), 0o644))

	inv, err := scanner.Scan(root, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, inv["a.txt"].Hash, inv["b.txt"].Hash)
	assert.NotEqual(t, inv["a.txt"].Hash, inv["c.txt"].Hash)
}

func TestScan_HonorsPathFilter(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.tmp"), []byte("y"), 0o644))

	filter, err := pathfilter.Compile([]string{"*.tmp"})
	require.NoError(t, err)

	inv, err := scanner.Scan(root, filter, nil)
	require.NoError(t, err)

	assert.Contains(t, inv, "keep.txt")
	assert.NotContains(t, inv, "skip.tmp")
}

func TestHashFile_MatchesHashReader(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("checksum me"), 0o644))

	viaFile, err := scanner.HashFile(path)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	viaReader, err := scanner.HashReader(f)
	require.NoError(t, err)

	assert.Equal(t, viaFile, viaReader)
}
