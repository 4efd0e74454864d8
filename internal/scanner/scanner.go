// Package scanner walks a local directory tree and produces a fresh
// inventory, the C1 component of the spec. Grounded on the teacher's
// internal/storage.List and hashFile: streaming SHA-256 over an open file
// handle, skipping directories, normalizing to forward-slash relative
// paths.
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/abuss/syncpair/internal/model"
	"github.com/abuss/syncpair/internal/pathfilter"
)

// Scan walks root depth-first and returns a fresh inventory of every
// regular file admitted by filter. Symlinks are not followed (so cycles
// cannot occur); unreadable files are logged and skipped, not fatal.
func Scan(root string, filter pathfilter.PathFilter, logger *slog.Logger) (model.Inventory, error) {
	if filter == nil {
		filter = pathfilter.Always
	}
	if logger == nil {
		logger = slog.Default()
	}

	inv := make(model.Inventory)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("scan: walk error", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		relPath = filepath.ToSlash(relPath)

		if !filter(relPath) {
			return nil
		}

		fi, err := scanFile(path, relPath)
		if err != nil {
			logger.Warn("scan: unreadable file, skipping", "path", relPath, "error", err)
			return nil
		}
		inv[relPath] = fi
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return inv, nil
}

func scanFile(absPath, relPath string) (model.FileInfo, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return model.FileInfo{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return model.FileInfo{}, err
	}

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return model.FileInfo{}, err
	}

	return model.FileInfo{
		Path:     relPath,
		Hash:     hex.EncodeToString(h.Sum(nil)),
		Size:     size,
		Modified: info.ModTime(),
	}.Coarsen(), nil
}

// HashFile streams the SHA-256 of a single file without holding a
// whole-file buffer.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}

func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
