// Package locks provides short exclusive Redis locks around admin mutations.
package locks

import (
	"context"
	"errors"
	"time"
)

// ErrHeld is returned when another owner holds the lock.
var ErrHeld = errors.New("lock held")

// Lock captures the current lock ownership state.
type Lock struct {
	Resource  string    `json:"resource"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store manages resource locks.
type Store interface {
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (*Lock, bool, error)
	Release(ctx context.Context, resource, owner string) (bool, error)
	Renew(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, resource string) (*Lock, error)
}
