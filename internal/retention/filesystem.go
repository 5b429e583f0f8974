package retention

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// AgedFile is a regular file found by an age scan.
type AgedFile struct {
	Path      string
	ModTime   time.Time
	Size      int64
	Allocated int64
}

// FileSystem is the disk access the engine needs.
type FileSystem interface {
	// Lstat describes path without following symlinks.
	Lstat(path string) (fs.FileInfo, error)
	// Remove deletes one file.
	Remove(path string) error
	// OlderThan lists regular files under root with mtime strictly before cutoff.
	OlderThan(root string, cutoff time.Time) ([]AgedFile, error)
}

// OSFileSystem is the local filesystem.
type OSFileSystem struct{}

func (OSFileSystem) Lstat(path string) (fs.FileInfo, error) { return os.Lstat(path) }

func (OSFileSystem) Remove(path string) error { return os.Remove(path) }

func (OSFileSystem) OlderThan(root string, cutoff time.Time) ([]AgedFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}

	var files []AgedFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees and files vanishing mid-walk are skipped.
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if !fi.ModTime().Before(cutoff) {
			return nil
		}
		files = append(files, AgedFile{
			Path:      path,
			ModTime:   fi.ModTime(),
			Size:      fi.Size(),
			Allocated: allocatedBytes(fi),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return files, nil
}
