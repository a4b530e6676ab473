package store

import (
	stdErrors "errors"
	"os"
	"path/filepath"
	"testing"

	"filemutex/internal/errors"
	"filemutex/internal/filesystem"
	"filemutex/internal/models"
)

// faultyFS wraps the default adapter and fails selected calls.
type faultyFS struct {
	*filesystem.DefaultFileSystemAdapter
	readErr  error
	writeErr error
}

func (f *faultyFS) ReadFileBytes(path string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.DefaultFileSystemAdapter.ReadFileBytes(path)
}

func (f *faultyFS) WriteFileBytesAtomic(path string, content []byte, perm os.FileMode) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.DefaultFileSystemAdapter.WriteFileBytesAtomic(path, content, perm)
}

func newTestStore(t *testing.T) *LockStore {
	t.Helper()
	return New(filesystem.NewDefaultFileSystemAdapter(), filepath.Join(t.TempDir(), "lock.txt"))
}

func TestLockStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	for _, state := range []models.LockState{models.Available, models.Held, models.Available} {
		if err := s.Write(state); err != nil {
			t.Fatalf("Write(%v) error = %v", state, err)
		}
		got, err := s.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got != state {
			t.Errorf("Read() = %v, want %v", got, state)
		}
	}
}

func TestLockStore_PersistedFormat(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write(models.Held); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "Wait" {
		t.Errorf("persisted content = %q, want %q", data, "Wait")
	}
}

func TestLockStore_ReadToleratesWhitespace(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("Ready\r\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := s.Read()
	if err != nil || got != models.Available {
		t.Fatalf("Read() = %v, %v; want Available, nil", got, err)
	}
}

func TestLockStore_ReadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read()
	if !stdErrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Read() error = %v, want NotFound", err)
	}
}

func TestLockStore_ReadCorrupt(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("Ready-v2"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := s.Read()
	if !stdErrors.Is(err, errors.ErrReadError) {
		t.Fatalf("Read() error = %v, want ReadError", err)
	}
	if !stdErrors.Is(err, models.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken in chain, got %v", err)
	}
}

func TestLockStore_Faults(t *testing.T) {
	fs := &faultyFS{DefaultFileSystemAdapter: filesystem.NewDefaultFileSystemAdapter()}
	s := New(fs, filepath.Join(t.TempDir(), "lock.txt"))
	if err := s.Write(models.Available); err != nil {
		t.Fatalf("Write: %v", err)
	}

	fs.readErr = os.ErrPermission
	if _, err := s.Read(); !stdErrors.Is(err, errors.ErrReadError) {
		t.Errorf("Read() with fault = %v, want ReadError", err)
	}

	fs.readErr = nil
	fs.writeErr = stdErrors.New("disk full")
	if err := s.Write(models.Held); !stdErrors.Is(err, errors.ErrWriteError) {
		t.Errorf("Write() with fault = %v, want WriteError", err)
	}
	got, err := s.Read()
	if err != nil || got != models.Available {
		t.Errorf("state after failed write = %v, %v; want previous value Available", got, err)
	}
}

func TestLockStore_WriteInvalidState(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write(models.LockState(9)); !stdErrors.Is(err, errors.ErrWriteError) {
		t.Fatalf("Write(invalid) error = %v, want WriteError", err)
	}
}

func TestLockStore_Stat(t *testing.T) {
	s := newTestStore(t)
	st, err := s.Stat()
	if err != nil {
		t.Fatalf("Stat() on missing file error = %v", err)
	}
	if st.Exists {
		t.Errorf("Stat().Exists = true for missing file")
	}

	if err := s.Write(models.Held); err != nil {
		t.Fatalf("Write: %v", err)
	}
	st, err = s.Stat()
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !st.Exists || st.State != models.Held || st.ModTime.IsZero() || st.Path != s.Path() {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestLockStore_Init(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Init(false)
	if err != nil || !created {
		t.Fatalf("Init(false) on missing file = %v, %v", created, err)
	}
	if err := s.Write(models.Held); err != nil {
		t.Fatalf("Write: %v", err)
	}

	created, err = s.Init(false)
	if err != nil || created {
		t.Fatalf("Init(false) on existing file = %v, %v; want false, nil", created, err)
	}
	if got, _ := s.Read(); got != models.Held {
		t.Errorf("Init(false) modified existing lock: %v", got)
	}

	created, err = s.Init(true)
	if err != nil || !created {
		t.Fatalf("Init(true) = %v, %v", created, err)
	}
	if got, _ := s.Read(); got != models.Available {
		t.Errorf("Init(true) left state %v, want Available", got)
	}
}
