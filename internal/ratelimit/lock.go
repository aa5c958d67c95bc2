package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var errLeaseTTL = errors.New("lease_ttl_not_positive")

// compare-and-delete so only the current holder can end its lease
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out single-holder leases backed by SET NX PX. A lease ends
// on Release or when its ttl runs out, whichever comes first.
type Locker struct {
	client redis.Cmdable
}

func NewLocker(client redis.Cmdable) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// TryLock returns the holder token and true when the lease was taken, or
// false when another holder owns it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	switch {
	case l == nil:
		return "", false, ErrNotConfigured
	case key == "":
		return "", false, ErrEmptyKey
	case ttl <= 0:
		return "", false, errLeaseTTL
	}

	token := uuid.NewString()
	err := l.client.SetArgs(ctx, key, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

// Release is a no-op for an empty token, so callers holding a lease from a
// disabled limiter can release unconditionally.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || key == "" || token == "" {
		return nil
	}
	return releaseLease.Run(ctx, l.client, []string{key}, token).Err()
}
