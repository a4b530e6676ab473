// Package section runs caller-supplied work while holding a lock, releasing
// it on every exit path.
package section

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log"
	"time"

	"filemutex/internal/lock"
)

// ErrLockerRequired is returned by New when no locker is given.
var ErrLockerRequired = fmt.Errorf("locker is required")

// timestampLayout is used for the entry and exit log lines.
const timestampLayout = "2006-01-02T15:04:05.000000"

// Section is a scoped critical section bound to one Locker.
type Section struct {
	locker  lock.Locker
	label   string
	logger  *log.Logger
	timeout time.Duration
}

// Option configures a Section.
type Option func(*Section)

// WithLogger logs entry and exit of each run. Without it the section is silent.
func WithLogger(l *log.Logger) Option {
	return func(s *Section) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout bounds how long a run waits to acquire the lock. Zero waits
// until the caller's context is done.
func WithTimeout(d time.Duration) Option {
	return func(s *Section) { s.timeout = d }
}

// New returns a Section that identifies itself as label in its log output.
func New(locker lock.Locker, label string, opts ...Option) (*Section, error) {
	if locker == nil {
		return nil, ErrLockerRequired
	}
	s := &Section{
		locker: locker,
		label:  label,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Label returns the section's identifying label.
func (s *Section) Label() string { return s.label }

// Run acquires the section's lock, runs work and releases the lock, even when
// work returns an error or panics. A release failure is joined to the error of
// work. The result of work is returned as is.
func Run[T any](ctx context.Context, s *Section, work func(ctx context.Context) (T, error)) (result T, err error) {
	acquireCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	lease, err := s.locker.Acquire(acquireCtx)
	if err != nil {
		s.logger.Printf("%s acquire failed: %v", s.label, err)
		return result, err
	}
	s.logger.Printf("%s start %s", s.label, time.Now().Format(timestampLayout))

	defer func() {
		if relErr := s.locker.Release(lease); relErr != nil {
			s.logger.Printf("%s release failed: %v", s.label, relErr)
			err = stdErrors.Join(err, relErr)
		}
		s.logger.Printf("%s end   %s", s.label, time.Now().Format(timestampLayout))
	}()

	return work(ctx)
}

// Do is Run for work that only reports an error.
func (s *Section) Do(ctx context.Context, work func(ctx context.Context) error) error {
	_, err := Run(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, work(ctx)
	})
	return err
}
