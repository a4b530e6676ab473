package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LockState is the value held by the persisted lock file.
type LockState int

const (
	// Available means no participant holds the lock. Persisted as "Ready".
	Available LockState = iota
	// Held means some participant holds the lock. Persisted as "Wait".
	Held
)

// Tokens written to the lock file.
const (
	TokenAvailable = "Ready"
	TokenHeld      = "Wait"
)

// ErrInvalidToken is returned by ParseLockState for content that is not a lock token.
var ErrInvalidToken = errors.New("invalid lock token")

// String returns the persisted token for the state.
func (s LockState) String() string {
	switch s {
	case Available:
		return TokenAvailable
	case Held:
		return TokenHeld
	default:
		return fmt.Sprintf("LockState(%d)", int(s))
	}
}

// Valid reports whether s is one of the two defined states.
func (s LockState) Valid() bool {
	return s == Available || s == Held
}

// ParseLockState converts persisted content into a LockState. Surrounding
// whitespace is ignored; the remaining text must match a token exactly.
func ParseLockState(content []byte) (LockState, error) {
	token := strings.TrimSpace(string(content))
	switch token {
	case TokenAvailable:
		return Available, nil
	case TokenHeld:
		return Held, nil
	}
	if len(token) > 32 {
		token = token[:32] + "..."
	}
	return Available, fmt.Errorf("%w: %q", ErrInvalidToken, token)
}

// Status is a point-in-time view of the persisted lock.
type Status struct {
	// Path is the lock file location.
	Path string
	// Exists is false when the lock file has not been created yet.
	Exists bool
	// State is only meaningful when Exists is true.
	State LockState
	// ModTime is the last time the lock file was written.
	ModTime time.Time
}

// HeldFor returns how long the lock has been Held as of now, or zero when it
// is not held.
func (s Status) HeldFor(now time.Time) time.Duration {
	if !s.Exists || s.State != Held || s.ModTime.IsZero() {
		return 0
	}
	if d := now.Sub(s.ModTime); d > 0 {
		return d
	}
	return 0
}
