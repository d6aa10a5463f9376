package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// acquireScript takes the lease when it is free and renews it when this
// instance already holds it.
var acquireScript = goredis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if holder == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
if not holder then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a single-holder lock with a TTL. A holder that stops renewing
// loses it when the TTL expires.
type Lease struct {
	client     *goredis.Client
	key        string
	instanceID string
	ttl        time.Duration
}

// NewLease creates a lease on key, e.g. "marketpulse:leader:retention".
func NewLease(client *goredis.Client, key, instanceID string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, instanceID: instanceID, ttl: ttl}
}

// Acquire takes or renews the lease and reports whether this instance
// holds it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	held, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	return held == 1, nil
}

// Release gives the lease up if this instance holds it.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

// Holder returns the current holder, or "" when the lease is free.
func (l *Lease) Holder(ctx context.Context) (string, error) {
	holder, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lease %s: %w", l.key, err)
	}
	return holder, nil
}
