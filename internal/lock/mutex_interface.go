package lock

import (
	"context"
	"time"
)

// Lease is issued by a successful Acquire and must be handed back to Release.
type Lease struct {
	// Token identifies the holder. It is opaque and unique per acquisition.
	Token string
	// Path is the lock file the lease was issued for.
	Path string
	// AcquiredAt is when the lock was marked Held.
	AcquiredAt time.Time
}

// Locker is implemented by Mutex. Services depend on it so tests can
// substitute their own implementation.
type Locker interface {
	Acquire(ctx context.Context) (*Lease, error)
	Release(lease *Lease) error
}

var _ Locker = (*Mutex)(nil)
