// Package lease provides a Redis-backed lease so periodic jobs (sweep,
// sampling) run on one worker instance per tick even when several are
// deployed. The jobs themselves are idempotent; the lease only bounds
// duplicate work, it is not a correctness requirement.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease acquires short-lived named locks via SET NX.
type Lease struct {
	client *redis.Client
	owner  string
}

// New creates a Lease with a per-process owner token.
func New(client *redis.Client) *Lease {
	return &Lease{client: client, owner: uuid.New().String()}
}

// TryAcquire attempts to take the named lease for ttl. Returns false when
// another instance holds it.
func (l *Lease) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key(name), l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", name, err)
	}
	return ok, nil
}

// Release frees the lease if this process still owns it. A lease that
// expired or was taken over is left alone.
func (l *Lease) Release(ctx context.Context, name string) error {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	return l.client.Eval(ctx, script, []string{key(name)}, l.owner).Err()
}

func key(name string) string {
	return "engage:lease:" + name
}
