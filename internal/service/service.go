package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/juju/clock"

	"filemutex/internal/config"
	"filemutex/internal/errors"
	"filemutex/internal/filesystem"
	"filemutex/internal/lock"
	"filemutex/internal/models"
	"filemutex/internal/section"
	"filemutex/internal/store"
)

// ErrNotStale is returned by Recover when the lock is Held but not stale and
// force was not requested.
var ErrNotStale = fmt.Errorf("lock is held and not stale")

// LockService defines the operator operations on a persisted lock.
type LockService interface {
	Init(force bool) (bool, error)
	Status() (*StatusReport, error)
	Recover(ctx context.Context, force bool) (bool, error)
	NewSection(label string) (*section.Section, error)
}

// StatusReport describes the persisted lock as seen by this process.
type StatusReport struct {
	models.Status
	// HeldFor is how long the lock has been Held without being rewritten.
	HeldFor time.Duration
	// Stale is true when HeldFor exceeds the configured stale-after.
	Stale bool
	// Holder is the lease token held by this process, if any.
	Holder string
}

// DefaultLockService implements the LockService interface.
type DefaultLockService struct {
	fsAdapter  filesystem.FileSystemAdapter
	store      *store.LockStore
	mutex      *lock.Mutex
	clock      clock.Clock
	logger     *log.Logger
	timeout    time.Duration
	staleAfter time.Duration
}

// NewDefaultLockService creates a new DefaultLockService for cfg.LockFile.
// A nil logger discards output.
func NewDefaultLockService(
	fs filesystem.FileSystemAdapter,
	cfg *config.Config,
	logger *log.Logger,
) (*DefaultLockService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if fs == nil {
		return nil, fmt.Errorf("filesystem adapter is required")
	}
	if cfg.LockFile == "" {
		return nil, fmt.Errorf("lock file is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	absLockFile, err := filepath.Abs(cfg.LockFile)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path for lock file: %w", err)
	}

	lockStore := store.New(fs, absLockFile)
	mutex, err := lock.NewMutex(lockStore, lock.Config{
		PollInterval: cfg.PollInterval,
		StaleAfter:   cfg.StaleAfter,
		Clock:        clock.WallClock,
		Logger:       logger,
		Verbose:      cfg.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mutex: %w", err)
	}

	return &DefaultLockService{
		fsAdapter:  fs,
		store:      lockStore,
		mutex:      mutex,
		clock:      clock.WallClock,
		logger:     logger,
		timeout:    cfg.Timeout,
		staleAfter: cfg.StaleAfter,
	}, nil
}

// Path returns the absolute lock file location.
func (s *DefaultLockService) Path() string { return s.store.Path() }

// Mutex returns the service's cross-process mutex.
func (s *DefaultLockService) Mutex() *lock.Mutex { return s.mutex }

// Init creates the lock file as Ready. An existing lock is only overwritten
// when force is set. It reports whether the file was written.
func (s *DefaultLockService) Init(force bool) (bool, error) {
	dir := filepath.Dir(s.store.Path())
	if ok, err := s.fsAdapter.IsWritable(dir); !ok {
		return false, errors.NewWriteError("init", s.store.Path(), err)
	}
	created, err := s.store.Init(force)
	if err != nil {
		return false, err
	}
	if created {
		s.logger.Printf("initialized %s as %s", s.store.Path(), models.Available)
	} else {
		s.logger.Printf("%s already exists, left unchanged", s.store.Path())
	}
	return created, nil
}

// Status reports the current persisted state.
func (s *DefaultLockService) Status() (*StatusReport, error) {
	st, err := s.store.Stat()
	if err != nil {
		return nil, err
	}
	report := &StatusReport{
		Status:  st,
		HeldFor: st.HeldFor(s.clock.Now()),
		Holder:  s.mutex.Holder(),
	}
	report.Stale = s.staleAfter > 0 && report.HeldFor > s.staleAfter
	return report, nil
}

// Recover releases a lock abandoned by a crashed holder. Without force only a
// stale lock is released. It reports whether the lock was rewritten.
func (s *DefaultLockService) Recover(ctx context.Context, force bool) (bool, error) {
	report, err := s.Status()
	if err != nil {
		return false, err
	}
	if !report.Exists {
		return false, errors.NewNotFoundError("recover", s.store.Path(), nil)
	}
	if report.State == models.Available {
		return false, nil
	}
	if !force && !report.Stale {
		return false, fmt.Errorf("%s held for %v: %w", s.store.Path(), report.HeldFor.Round(time.Millisecond), ErrNotStale)
	}
	if err := s.mutex.ForceRelease(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// NewSection returns an exclusive section on the service's mutex, labelled
// for log output and bounded by the configured acquire timeout.
func (s *DefaultLockService) NewSection(label string) (*section.Section, error) {
	return section.New(s.mutex, label,
		section.WithLogger(s.logger),
		section.WithTimeout(s.timeout),
	)
}

var _ LockService = (*DefaultLockService)(nil)
