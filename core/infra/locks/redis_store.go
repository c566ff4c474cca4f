package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cordum/rqadmin/core/infra/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "rqadmin:lock:"
	defaultTTL = 30 * time.Second
	minTTL     = 10 * time.Millisecond
	maxTTL     = 10 * time.Minute
)

// RedisStore keeps one string key per resource holding the owner id.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing client; the caller owns its lifecycle.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// NewOwner returns a random owner id.
func NewOwner() string { return uuid.NewString() }

// Acquire takes the lock for owner. Re-acquiring a lock the owner already
// holds extends it.
func (s *RedisStore) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (*Lock, bool, error) {
	if s == nil || s.client == nil {
		return nil, false, fmt.Errorf("lock store unavailable")
	}
	resource, owner = strings.TrimSpace(resource), strings.TrimSpace(owner)
	if resource == "" || owner == "" {
		return nil, false, fmt.Errorf("resource and owner required")
	}
	ttl = normalizeTTL(ttl)
	res, err := s.client.Eval(ctx, acquireScript, []string{lockKey(resource)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, false, err
	}
	if res == 0 {
		return nil, false, nil
	}
	return &Lock{Resource: resource, Owner: owner, ExpiresAt: time.Now().UTC().Add(ttl)}, true, nil
}

// Release drops the lock if owner holds it. It reports false when the lock
// was held by someone else.
func (s *RedisStore) Release(ctx context.Context, resource, owner string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("lock store unavailable")
	}
	res, err := s.client.Eval(ctx, releaseScript, []string{lockKey(resource)}, owner).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Renew extends the TTL of a lock owner holds.
func (s *RedisStore) Renew(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("lock store unavailable")
	}
	res, err := s.client.Eval(ctx, renewScript, []string{lockKey(resource)}, owner, normalizeTTL(ttl).Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Get returns the current holder, or nil when the resource is free.
func (s *RedisStore) Get(ctx context.Context, resource string) (*Lock, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("lock store unavailable")
	}
	key := lockKey(resource)
	owner, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lock := &Lock{Resource: resource, Owner: owner}
	if ttl, err := s.client.PTTL(ctx, key).Result(); err == nil && ttl > 0 {
		lock.ExpiresAt = time.Now().UTC().Add(ttl)
	}
	return lock, nil
}

// With runs fn while holding resource and renews the lock every third of
// ttl until fn returns. It returns ErrHeld without running fn when another
// owner has the lock; the error names the holder when it can be read.
func With(ctx context.Context, s Store, resource string, ttl time.Duration, fn func() error) error {
	if s == nil {
		return fn()
	}
	ttl = normalizeTTL(ttl)
	owner := NewOwner()
	_, ok, err := s.Acquire(ctx, resource, owner, ttl)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", resource, err)
	}
	if !ok {
		if holder, err := s.Get(ctx, resource); err == nil && holder != nil {
			return fmt.Errorf("%s held by %s until %s: %w", resource, holder.Owner, holder.ExpiresAt.Format(time.RFC3339), ErrHeld)
		}
		return fmt.Errorf("%s: %w", resource, ErrHeld)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		keepAlive(ctx, s, resource, owner, ttl, done)
	}()
	defer func() {
		close(done)
		wg.Wait()
		// The caller's context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_, _ = s.Release(releaseCtx, resource, owner)
	}()
	return fn()
}

func keepAlive(ctx context.Context, s Store, resource, owner string, ttl time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := s.Renew(ctx, resource, owner, ttl)
			if err != nil || !ok {
				logging.Warn("locks", "lock renewal failed", "resource", resource, "error", err)
				return
			}
		}
	}
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	if ttl < minTTL {
		return minTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}

func lockKey(resource string) string {
	return keyPrefix + strings.TrimSpace(resource)
}

const acquireScript = `
local current = redis.call("GET", KEYS[1])
if not current or current == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return 1
end
return 0
`

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`

const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
return 0
`
