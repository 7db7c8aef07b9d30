package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ReplayCache remembers the result of a completed idempotent operation so a
// retried request can be answered without opening a transaction. It is an
// accelerator only: the ledger's unique index stays the source of truth, and
// every failure here degrades to a cache miss.
//
// A nil *ReplayCache is valid and always misses.
type ReplayCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReplayCache(client *redis.Client, ttl time.Duration) *ReplayCache {
	if client == nil {
		return nil
	}
	return &ReplayCache{client: client, ttl: ttl}
}

// Key builds the cache key for one idempotency key of one user.
func Key(scope string, userID int64, idempotencyKey string) string {
	return fmt.Sprintf("economy:replay:%s:%d:%s", scope, userID, idempotencyKey)
}

// Load decodes a cached result into out and reports whether one was found.
func (c *ReplayCache) Load(ctx context.Context, key string, out interface{}) bool {
	if c == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logrus.WithError(err).WithField("key", key).Warn("replay cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("replay cache entry corrupt")
		return false
	}
	return true
}

func (c *ReplayCache) Store(ctx context.Context, key string, v interface{}) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("replay cache write failed")
	}
}
