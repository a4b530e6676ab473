package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
)

// Kind classifies a lock failure.
type Kind int

// Kinds absorbed by the polling loop. The state of the lock is unknown and the
// caller retries after the poll interval.
const (
	KindUnknown Kind = iota
	// KindNotFound means the persisted lock does not exist.
	KindNotFound
	// KindReadError covers I/O faults and unparsable content on read.
	KindReadError
	// KindInterrupted means a system call was interrupted while polling.
	KindInterrupted
)

// Kinds surfaced to the caller.
const (
	// KindWriteError means the persisted lock could not be written. The on-disk
	// value may be stale.
	KindWriteError Kind = iota + 100
	// KindTimeout means the acquire deadline expired before the lock was observed Available.
	KindTimeout
	// KindCancelled means the acquire was cancelled by the caller.
	KindCancelled
	// KindNotHolder means a release was attempted with a lease that does not hold the lock.
	KindNotHolder
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindNotFound:    "not found",
	KindReadError:   "read error",
	KindInterrupted: "interrupted",
	KindWriteError:  "write error",
	KindTimeout:     "timeout",
	KindCancelled:   "cancelled",
	KindNotHolder:   "not holder",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether the acquire loop keeps polling after a failure of this kind.
func (k Kind) Retryable() bool {
	return k == KindNotFound || k == KindReadError || k == KindInterrupted
}

// Sentinels for errors.Is. They match any *LockError of the same kind.
var (
	ErrNotFound    = &LockError{Kind: KindNotFound}
	ErrReadError   = &LockError{Kind: KindReadError}
	ErrInterrupted = &LockError{Kind: KindInterrupted}
	ErrWriteError  = &LockError{Kind: KindWriteError}
	ErrTimeout     = &LockError{Kind: KindTimeout}
	ErrCancelled   = &LockError{Kind: KindCancelled}
	ErrNotHolder   = &LockError{Kind: KindNotHolder}
)

// LockError describes a failed operation on the persisted lock.
type LockError struct {
	Kind Kind
	// Op is the operation that failed, e.g. "read", "write", "acquire".
	Op string
	// Path is the lock file involved, if any.
	Path string
	Err  error
}

func (e *LockError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		if e.Path != "" {
			msg = fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
		} else {
			msg = fmt.Sprintf("%s: %s", e.Op, msg)
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LockError) Unwrap() error { return e.Err }

// Is matches sentinels by kind, so errors.Is(err, ErrTimeout) holds for every
// timeout regardless of operation or path.
func (e *LockError) Is(target error) bool {
	t, ok := target.(*LockError)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *LockError in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var le *LockError
	if stdErrors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// NewNotFoundError reports a missing lock file.
func NewNotFoundError(op, path string, err error) *LockError {
	return &LockError{Kind: KindNotFound, Op: op, Path: path, Err: err}
}

// NewReadError reports a failed or unparsable read.
func NewReadError(op, path string, err error) *LockError {
	return &LockError{Kind: KindReadError, Op: op, Path: path, Err: err}
}

// NewInterruptedError reports an interrupted system call.
func NewInterruptedError(op, path string, err error) *LockError {
	return &LockError{Kind: KindInterrupted, Op: op, Path: path, Err: err}
}

// NewWriteError reports a failed write.
func NewWriteError(op, path string, err error) *LockError {
	return &LockError{Kind: KindWriteError, Op: op, Path: path, Err: err}
}

// NewNotHolderError reports a release by a lease that does not own the lock.
func NewNotHolderError(path, token string) *LockError {
	return &LockError{Kind: KindNotHolder, Op: "release", Path: path, Err: fmt.Errorf("lease %q does not hold the lock", token)}
}

// FromContext converts a done context into a Timeout or Cancelled error.
// last is the most recent absorbed polling failure, if any, and is kept in the chain.
func FromContext(op, path string, ctxErr, last error) *LockError {
	kind := KindCancelled
	if stdErrors.Is(ctxErr, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	err := ctxErr
	if last != nil {
		err = stdErrors.Join(ctxErr, fmt.Errorf("last poll failure: %w", last))
	}
	return &LockError{Kind: kind, Op: op, Path: path, Err: err}
}
