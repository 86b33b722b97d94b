// Package atomicfile implements the write-tmp/fsync/rename pattern used
// throughout the mower core for crash-safe file exchange: the cross-process
// bridge's status frame and camera frame, the secrets store and its
// generated master key, the pattern selector's Q-table, and the PID file
// all go through WriteFile so a reader never observes a partially written
// file.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile writes data to path using the write-tmp/fsync/rename
// sequence (no separate chmod step):
//  1. Write data to path+".tmp" with the given permission bits.
//  2. fsync the tmp file so its contents survive a crash before rename.
//  3. Rename tmp -> path, atomic on the same filesystem.
//
// perm is applied to the tmp file before rename so the final file never
// briefly exists with the wrong mode.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("atomicfile: open %q: %w", tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("atomicfile: write %q: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("atomicfile: fsync %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("atomicfile: close %q: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("atomicfile: rename %q -> %q: %w", tmp, path, err)
	}

	// Best-effort: fsync the containing directory so the rename itself is
	// durable, not just the file contents. Not fatal if unsupported.
	if dirf, err := os.Open(dir); err == nil {
		_ = dirf.Sync()
		_ = dirf.Close()
	}

	return nil
}
