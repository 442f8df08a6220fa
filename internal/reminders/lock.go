package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockKey = "reminders:processor:lock"

// releaseScript deletes the lock only if we still hold it, so a run that
// outlived its TTL cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RunLock prevents overlapping processor runs across replicas. A run that is
// still in flight when the next tick fires is skipped, not queued.
type RunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RunLock{client: client, key: defaultLockKey, ttl: ttl}
}

// TryAcquire returns a release func and true when the lock was taken. When
// another run holds the lock it returns (nil, false, nil).
func (l *RunLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	if l == nil || l.client == nil {
		// No Redis configured: single-process deployments run unlocked.
		return func() {}, true, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reminders: acquire run lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		_, _ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{l.key}, token).Result()
	}
	return release, true, nil
}
