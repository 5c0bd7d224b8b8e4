package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Leaser hands out named, expiring leases.
type Leaser struct {
	rdb redis.UniversalClient
}

// NewLeaser creates a leaser.
func NewLeaser(rdb redis.UniversalClient) *Leaser {
	return &Leaser{rdb: rdb}
}

func leaseKey(name string) string {
	return keyPrefix + "lease:" + name
}

// Acquire takes the lease `name` for ttl. ok is false when another holder
// has it. release gives the lease back early and is safe to call after
// expiry.
func (l *Leaser) Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, leaseKey(name), token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return func() {}, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{leaseKey(name)}, token).Err()
	}
	return release, true, nil
}
