// Package atomicio provides crash-safe JSON persistence: write to a sibling
// temp file, fsync, then rename over the target. A crash mid-write never
// leaves a partial file at the target path, matching the atomic-write-then-
// rename idiom used throughout the teacher's quota/doltserver/feed packages,
// generalized here into one shared helper for the state store and ralph state.
package atomicio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteJSON marshals v as indented JSON and persists it atomically at path.
// The temp sibling's name carries a uuid suffix so concurrent writers from
// different processes never collide on the same temp path before rename.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	return WriteFile(path, data)
}

// WriteFile persists raw bytes atomically at path.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, filepath.Base(path)+".tmp."+uuid.NewString())

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec // operational state, not secrets
	if err != nil {
		return fmt.Errorf("creating temp file %s: %w", tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp file %s: %w", tmp, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temp file %s: %w", tmp, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}

	return nil
}
