package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the redis client
type Redis struct {
	Client *redis.Client
}

// NewRedisFromURL connects to Redis using a redis:// URL and pings it
func NewRedisFromURL(redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{Client: client}, nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.Client.Close()
}

// Health checks the Redis health
func (r *Redis) Health(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// AddToSet adds member to the set at key and refreshes its TTL.
// It reports whether the member was new.
func (r *Redis) AddToSet(ctx context.Context, key, member string, ttl time.Duration) (bool, error) {
	pipe := r.Client.TxPipeline()
	added := pipe.SAdd(ctx, key, member)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to add set member: %w", err)
	}
	return added.Val() == 1, nil
}

// Sorted-set scores are unix microseconds, which float64 holds exactly
func eventScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// RecordEvent appends a timestamped member to the sorted set at key, trims
// entries older than retain and refreshes the key's TTL.
func (r *Redis) RecordEvent(ctx context.Context, key, member string, at time.Time, retain time.Duration) error {
	pipe := r.Client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMicro()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "0", eventScore(at.Add(-retain)))
	pipe.Expire(ctx, key, retain*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// CountSince counts sorted-set members with a timestamp strictly after since
func (r *Redis) CountSince(ctx context.Context, key string, since time.Time) (int64, error) {
	n, err := r.Client.ZCount(ctx, key, "("+eventScore(since), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// OldestSince returns the timestamp of the earliest member strictly after
// since, or the zero time when there is none.
func (r *Redis) OldestSince(ctx context.Context, key string, since time.Time) (time.Time, error) {
	entries, err := r.Client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "(" + eventScore(since),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read oldest event: %w", err)
	}
	if len(entries) == 0 {
		return time.Time{}, nil
	}
	return time.UnixMicro(int64(entries[0].Score)).UTC(), nil
}
