// Package store reads and writes the single-token persisted lock.
package store

import (
	stdErrors "errors"
	"fmt"
	"os"

	"filemutex/internal/errors"
	"filemutex/internal/filesystem"
	"filemutex/internal/models"
)

// DefaultPerm is the permission given to the lock file.
const DefaultPerm os.FileMode = 0644

// LockStore is durable storage for one lock token.
type LockStore struct {
	fs   filesystem.FileSystemAdapter
	path string
	perm os.FileMode
}

// New returns a LockStore for the lock file at path.
func New(fs filesystem.FileSystemAdapter, path string) *LockStore {
	return &LockStore{fs: fs, path: path, perm: DefaultPerm}
}

// Path returns the lock file location.
func (s *LockStore) Path() string { return s.path }

// Read returns the persisted state. It fails with a NotFound error when the
// file is missing and a ReadError otherwise; both mean the state is unknown.
func (s *LockStore) Read() (models.LockState, error) {
	data, err := s.fs.ReadFileBytes(s.path)
	if err != nil {
		if stdErrors.Is(err, os.ErrNotExist) {
			return models.Available, errors.NewNotFoundError("read", s.path, err)
		}
		return models.Available, errors.NewReadError("read", s.path, err)
	}
	state, err := models.ParseLockState(data)
	if err != nil {
		return models.Available, errors.NewReadError("read", s.path, err)
	}
	return state, nil
}

// Write replaces the persisted token with the one for state. The replacement
// is atomic; on failure the previous token is left in place.
func (s *LockStore) Write(state models.LockState) error {
	if !state.Valid() {
		return errors.NewWriteError("write", s.path, fmt.Errorf("invalid state %d", int(state)))
	}
	if err := s.fs.WriteFileBytesAtomic(s.path, []byte(state.String()), s.perm); err != nil {
		return errors.NewWriteError("write", s.path, err)
	}
	return nil
}

// Stat returns the current state together with the time it was last written.
// A missing file is reported through Status.Exists, not as an error.
func (s *LockStore) Stat() (models.Status, error) {
	st := models.Status{Path: s.path}
	stats, err := s.fs.GetFileStats(s.path)
	if err != nil {
		if stdErrors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, errors.NewReadError("stat", s.path, err)
	}
	state, err := s.Read()
	if err != nil {
		if stdErrors.Is(err, errors.ErrNotFound) {
			return st, nil
		}
		return st, err
	}
	st.Exists = true
	st.State = state
	st.ModTime = stats.ModTime
	return st, nil
}

// Init creates the lock file in the Available state. An existing file is left
// untouched unless force is set. It reports whether the file was written.
func (s *LockStore) Init(force bool) (bool, error) {
	exists, err := s.fs.FileExists(s.path)
	if err != nil {
		return false, errors.NewReadError("init", s.path, err)
	}
	if exists && !force {
		return false, nil
	}
	if err := s.Write(models.Available); err != nil {
		return false, err
	}
	return true, nil
}
