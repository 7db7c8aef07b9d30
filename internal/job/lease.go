package job

import (
	"context"
	"fmt"
	"os"
	"time"

	"creditsystem/internal/infrastructure/lock"

	"github.com/go-redis/redis/v8"
)

// acquireLease takes the single-runner lock for a job. Without Redis every
// replica runs; ok is true and the lease is nil.
func acquireLease(ctx context.Context, rdb *redis.Client, job string, ttl time.Duration) (*lock.DistributedLock, bool, error) {
	if rdb == nil {
		return nil, true, nil
	}
	host, _ := os.Hostname()
	l := lock.NewJobLock(rdb, job, fmt.Sprintf("%s:%d", host, os.Getpid()), ttl)
	ok, err := l.TryLock(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s lock: %w", job, err)
	}
	if !ok {
		return nil, false, nil
	}
	return l, true, nil
}

// renew extends a held lease; a nil lease is always held.
func renew(ctx context.Context, l *lock.DistributedLock) error {
	if l == nil {
		return nil
	}
	return l.Extend(ctx)
}

func release(l *lock.DistributedLock) error {
	if l == nil {
		return nil
	}
	return l.Unlock(context.Background())
}
