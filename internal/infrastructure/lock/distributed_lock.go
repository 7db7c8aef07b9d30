package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrNotHeld = errors.New("lock not held")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// DistributedLock is a Redis SET NX lease. The value identifies the holder
// so Unlock never deletes a lease that expired and was taken by someone else.
//
// The economy core never holds this lock across a balance mutation; account
// rows are serialised by the database. It only keeps background jobs from
// running on several replicas at once.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes a single non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Extend pushes the lease expiry out while the holder is still working.
func (l *DistributedLock) Extend(ctx context.Context) error {
	n, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, l.expiration.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// NewJobLock returns the single-runner lease for a background job. owner is
// usually hostname:pid so the holder shows up in redis-cli.
func NewJobLock(client *redis.Client, job, owner string, expiration time.Duration) *DistributedLock {
	return NewDistributedLock(client, "economy:job:lock:"+job, owner, expiration)
}
