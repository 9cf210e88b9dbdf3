package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// Usage returns the number of bytes stored under a repository directory.
// The sum counts regular file sizes; a repository that was never initialized
// reports zero.
func (t *Tree) Usage(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to measure usage of %s: %w", path, err)
	}
	return total, nil
}
