package apikey

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aimerfeng/BioLink/internal/cache"
	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/aimerfeng/BioLink/internal/tier"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableRedis fails every command immediately
func unreachableRedis() *cache.Redis {
	return &cache.Redis{Client: redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})}
}

func TestRedisCounter_FallsBackToLog(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryStore()
	breakers := cache.NewBreakerManager(&cache.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2})
	counter := NewRedisCounter(unreachableRedis(), breakers, NewLogCounter(store))
	svc := newTestService(store, clock)
	svc.counter = counter

	resp, err := svc.Create(ctx, uuid.New(), tier.Free, &CreateRequest{Name: "k", RateLimit: intPtr(2)})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := svc.Validate(ctx, resp.Key)
		require.NoError(t, err)
		require.True(t, res.Valid)
		svc.LogRequest(ctx, RequestLogEntry{APIKeyID: resp.ID, Endpoint: "/e", Method: "GET", StatusCode: 200})
	}

	res, err := svc.Validate(ctx, resp.Key)
	require.NoError(t, err)
	assert.Equal(t, MsgRateLimited, res.Error, "log count must still gate while Redis is down")
	assert.True(t, breakers.IsOpen(windowBreaker))
}

func TestRedisCounter_Live(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	r, err := cache.NewRedisFromURL(redisURL)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	keyID := uuid.New()
	defer r.Client.Del(ctx, windowKey(keyID))

	counter := NewRedisCounter(r, nil, NewLogCounter(NewMemoryStore()))
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		entry := &models.RequestLog{ID: uuid.New(), APIKeyID: keyID, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, counter.Observe(ctx, entry, time.Hour))
	}

	n, err := counter.Count(ctx, keyID, base)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "the entry exactly at since is outside the window")

	oldest, err := counter.Oldest(ctx, keyID, base)
	require.NoError(t, err)
	assert.WithinDuration(t, base.Add(time.Minute), oldest, time.Microsecond)
}
