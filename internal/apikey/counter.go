package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/BioLink/internal/cache"
	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WindowCounter answers "how many requests did this key make since T".
// Rate limiting is only as strict as the counter's read-after-write consistency.
type WindowCounter interface {
	Count(ctx context.Context, keyID uuid.UUID, since time.Time) (int64, error)
	// Oldest returns the earliest request time after since, or zero if none
	Oldest(ctx context.Context, keyID uuid.UUID, since time.Time) (time.Time, error)
	// Observe is called after a request log row has been written
	Observe(ctx context.Context, entry *models.RequestLog, window time.Duration) error
}

// LogCounter counts straight from the request log table
type LogCounter struct {
	store Store
}

// NewLogCounter creates a counter over the store's request log
func NewLogCounter(store Store) *LogCounter {
	return &LogCounter{store: store}
}

func (c *LogCounter) Count(ctx context.Context, keyID uuid.UUID, since time.Time) (int64, error) {
	return c.store.CountRequestsSince(ctx, keyID, since)
}

func (c *LogCounter) Oldest(ctx context.Context, keyID uuid.UUID, since time.Time) (time.Time, error) {
	return c.store.OldestRequestSince(ctx, keyID, since)
}

// Observe is a no-op: the log row is the count
func (c *LogCounter) Observe(ctx context.Context, entry *models.RequestLog, window time.Duration) error {
	return nil
}

const windowBreaker = "apikey-window"

// RedisCounter mirrors the request log into one sorted set per key
// (member = log id, score = unix micros) and counts with ZCOUNT.
// Reads fall back to the log when Redis fails or the breaker is open.
type RedisCounter struct {
	redis    *cache.Redis
	breakers *cache.BreakerManager
	fallback WindowCounter
}

// NewRedisCounter creates a Redis-backed counter with a fallback
func NewRedisCounter(r *cache.Redis, breakers *cache.BreakerManager, fallback WindowCounter) *RedisCounter {
	if breakers == nil {
		breakers = cache.NewBreakerManager(nil)
	}
	return &RedisCounter{redis: r, breakers: breakers, fallback: fallback}
}

func windowKey(keyID uuid.UUID) string {
	return fmt.Sprintf("apikey:window:%s", keyID)
}

func (c *RedisCounter) Count(ctx context.Context, keyID uuid.UUID, since time.Time) (int64, error) {
	res, err := c.breakers.Execute(ctx, windowBreaker, func() (any, error) {
		return c.redis.CountSince(ctx, windowKey(keyID), since)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		log.Warn().Err(err).Str("api_key_id", keyID.String()).Msg("Redis window count failed, counting from request log")
		return c.fallback.Count(ctx, keyID, since)
	}
	return res.(int64), nil
}

func (c *RedisCounter) Oldest(ctx context.Context, keyID uuid.UUID, since time.Time) (time.Time, error) {
	res, err := c.breakers.Execute(ctx, windowBreaker, func() (any, error) {
		return c.redis.OldestSince(ctx, windowKey(keyID), since)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return time.Time{}, err
		}
		return c.fallback.Oldest(ctx, keyID, since)
	}
	return res.(time.Time), nil
}

func (c *RedisCounter) Observe(ctx context.Context, entry *models.RequestLog, window time.Duration) error {
	_, err := c.breakers.Execute(ctx, windowBreaker, func() (any, error) {
		return nil, c.redis.RecordEvent(ctx, windowKey(entry.APIKeyID), entry.ID.String(), entry.CreatedAt, window)
	})
	return err
}
