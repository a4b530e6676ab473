package lock

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"golang.org/x/sync/semaphore"

	"filemutex/internal/errors"
	"filemutex/internal/models"
)

var (
	// ErrNilLease is returned when a nil lease is provided to Release.
	ErrNilLease = fmt.Errorf("nil lease")
	// ErrStoreRequired is returned by NewMutex when no store is given.
	ErrStoreRequired = fmt.Errorf("lock store is required")
)

const (
	// DefaultPollInterval is the wait between two reads of a lock that is not Available.
	DefaultPollInterval = time.Second

	// shortPollInterval is the retry delay when waiting for the guard during a release.
	shortPollInterval = 10 * time.Millisecond

	guardSuffix = ".flock"
)

// Store is the persisted lock as seen by Mutex. *store.LockStore implements it.
type Store interface {
	Path() string
	Read() (models.LockState, error)
	Write(state models.LockState) error
	Stat() (models.Status, error)
}

// Config tunes a Mutex. The zero value polls every second, never treats a held
// lock as stale, uses the wall clock and discards log output.
type Config struct {
	PollInterval time.Duration
	// StaleAfter, when positive, lets a waiter take over a lock that has been
	// Held without being rewritten for longer than this.
	StaleAfter time.Duration
	Clock      clock.Clock
	Logger     *log.Logger
	// Verbose logs every poll, not only failures.
	Verbose bool
}

// Mutex serializes callers through a persisted lock file.
//
// Goroutines sharing a Mutex are serialized by an in-process slot that is held
// from Acquire until Release. Processes (or separate Mutex values) sharing a
// lock file are serialized by the file's Ready/Wait token; the read-check-write
// on that token runs under an advisory flock on a sidecar file, so two
// participants cannot both observe Ready and both mark it Wait.
type Mutex struct {
	store        Store
	guardPath    string
	pollInterval time.Duration
	staleAfter   time.Duration
	clock        clock.Clock
	logger       *log.Logger
	verbose      bool

	// slot admits one goroutine from Acquire until Release.
	slot *semaphore.Weighted

	mu     sync.Mutex
	holder string
}

// NewMutex returns a Mutex over the given store.
func NewMutex(s Store, cfg Config) (*Mutex, error) {
	if s == nil {
		return nil, ErrStoreRequired
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Mutex{
		store:        s,
		guardPath:    s.Path() + guardSuffix,
		pollInterval: cfg.PollInterval,
		staleAfter:   cfg.StaleAfter,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		verbose:      cfg.Verbose,
		slot:         semaphore.NewWeighted(1),
	}, nil
}

// Path returns the lock file location.
func (m *Mutex) Path() string { return m.store.Path() }

// Holder returns the token of the lease currently held through this Mutex,
// or "" when it is free.
func (m *Mutex) Holder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

// Acquire blocks until the lock is observed Available and marked Held by this
// caller. Missing or unreadable lock files are retried every poll interval.
// The wait ends with a Timeout error when ctx's deadline passes and with a
// Cancelled error when ctx is cancelled; a write failure is returned at once.
func (m *Mutex) Acquire(ctx context.Context) (*Lease, error) {
	path := m.store.Path()
	if err := m.slot.Acquire(ctx, 1); err != nil {
		return nil, errors.FromContext("acquire", path, err, nil)
	}

	var last error
	for attempt := 1; ; attempt++ {
		acquired, err := m.tryAcquire()
		if err == nil && acquired {
			lease := &Lease{Token: uuid.NewString(), Path: path, AcquiredAt: m.clock.Now()}
			m.mu.Lock()
			m.holder = lease.Token
			m.mu.Unlock()
			if m.verbose {
				m.logger.Printf("acquired %s after %d attempt(s)", path, attempt)
			}
			return lease, nil
		}
		if err != nil {
			if !errors.KindOf(err).Retryable() {
				m.slot.Release(1)
				return nil, err
			}
			last = err
			m.logger.Printf("poll %d on %s: %v", attempt, path, err)
		} else if m.verbose {
			m.logger.Printf("poll %d on %s: lock busy", attempt, path)
		}

		select {
		case <-ctx.Done():
			m.slot.Release(1)
			return nil, errors.FromContext("acquire", path, ctx.Err(), last)
		case <-m.clock.After(m.pollInterval):
		}
	}
}

// tryAcquire makes one guarded read-check-write attempt. It reports false with
// a nil error when the lock is held or the guard is busy.
func (m *Mutex) tryAcquire() (bool, error) {
	guard := flock.New(m.guardPath)
	locked, err := guard.TryLock()
	if err != nil {
		if stdErrors.Is(err, syscall.EINTR) {
			return false, errors.NewInterruptedError("guard", m.guardPath, err)
		}
		return false, errors.NewReadError("guard", m.guardPath, err)
	}
	if !locked {
		return false, nil
	}
	defer m.unlockGuard(guard)

	state, err := m.store.Read()
	if err != nil {
		return false, err
	}
	if state == models.Held {
		heldFor, stale := m.stale()
		if !stale {
			return false, nil
		}
		m.logger.Printf("WARN: %s held for %v without update (stale after %v), taking it over",
			m.store.Path(), heldFor.Round(time.Millisecond), m.staleAfter)
	}
	if err := m.store.Write(models.Held); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Mutex) stale() (time.Duration, bool) {
	if m.staleAfter <= 0 {
		return 0, false
	}
	st, err := m.store.Stat()
	if err != nil {
		return 0, false
	}
	heldFor := st.HeldFor(m.clock.Now())
	return heldFor, heldFor > m.staleAfter
}

// Release marks the lock Available and ends the lease. A lease that does not
// hold the lock is rejected with a NotHolder error and changes nothing. A
// failed write is returned; the lease is ended regardless, so recovery goes
// through ForceRelease.
func (m *Mutex) Release(lease *Lease) error {
	if lease == nil {
		return ErrNilLease
	}
	m.mu.Lock()
	if m.holder == "" || m.holder != lease.Token {
		m.mu.Unlock()
		return errors.NewNotHolderError(m.store.Path(), lease.Token)
	}
	m.holder = ""
	m.mu.Unlock()
	defer m.slot.Release(1)

	return m.writeGuarded(context.Background(), "release", models.Available)
}

// ForceRelease marks the lock Available without checking ownership. It is
// meant for recovering a lock abandoned by a crashed holder. Releasing a lock
// that is already Available leaves it Available.
func (m *Mutex) ForceRelease(ctx context.Context) error {
	if err := m.writeGuarded(ctx, "force-release", models.Available); err != nil {
		return err
	}
	m.logger.Printf("force released %s", m.store.Path())
	return nil
}

func (m *Mutex) writeGuarded(ctx context.Context, op string, state models.LockState) error {
	guard := flock.New(m.guardPath)
	locked, err := guard.TryLockContext(ctx, shortPollInterval)
	if err != nil {
		if ctx.Err() != nil {
			return errors.FromContext(op, m.store.Path(), ctx.Err(), nil)
		}
		return errors.NewWriteError(op, m.guardPath, err)
	}
	if !locked {
		return errors.FromContext(op, m.store.Path(), context.Canceled, nil)
	}
	defer m.unlockGuard(guard)
	return m.store.Write(state)
}

func (m *Mutex) unlockGuard(guard *flock.Flock) {
	if err := guard.Unlock(); err != nil {
		m.logger.Printf("unlock guard %s: %v", guard.Path(), err)
	}
}
