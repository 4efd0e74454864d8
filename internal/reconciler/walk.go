package reconciler

import (
	"io/fs"
	"os"
	"path/filepath"
)

// walkDirs calls fn for root and every subdirectory beneath it, skipping
// symlinks (fsnotify watches are per-directory, so a watcher must be
// registered on each one individually).
func walkDirs(root string, fn func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		return fn(path)
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
