// Package lock provides the per-workflow mutual exclusion used by the engine.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the key is already held.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out leases on keys. A lease expires after its TTL even if never released.
type Locker interface {
	// Acquire never waits: it either grants the lease or returns ErrNotAcquired.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Key() string
	// Release frees the key if this lease still owns it. Releasing twice is a no-op.
	Release(ctx context.Context) error
}

// WorkflowKey is the lock key serialising runs of one workflow.
func WorkflowKey(workflowID string) string {
	return "workflow:" + workflowID
}
