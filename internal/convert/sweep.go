package convert

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SweepStale deletes files in dir that carry TempPrefix and were last modified
// before now-olderThan. Scopes clean up after themselves; this catches what a
// crashed process left behind.
func SweepStale(dir string, olderThan time.Duration, now time.Time) (int, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-olderThan)
	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), TempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
