// Package artifact locates the on-disk provider session files that are handed
// to users as account credentials.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const ext = ".session"

// Store maps phone numbers to credential files under a single directory.
type Store struct {
	dir string
}

// NewStore creates dir if needed and returns a store rooted there.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("artifact: empty sessions dir")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("artifact: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the credential file for the E.164 number.
func (s *Store) Path(e164 string) string {
	return filepath.Join(s.dir, strings.TrimPrefix(e164, "+")+ext)
}

// Exists reports whether a credential file is already present for e164.
func (s *Store) Exists(e164 string) bool {
	info, err := os.Stat(s.Path(e164))
	return err == nil && !info.IsDir()
}

// Remove deletes the credential file for e164.
func (s *Store) Remove(e164 string) error {
	return RemoveFile(s.Path(e164))
}

// RemoveFile deletes path; a missing file is not an error.
func RemoveFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("artifact: remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
