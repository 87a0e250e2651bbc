package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aimerfeng/BioLink/internal/apikey"
	apierrors "github.com/aimerfeng/BioLink/internal/errors"
	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/aimerfeng/BioLink/internal/tier"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mutableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mutableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type keyFixture struct {
	svc    *apikey.Service
	clock  *mutableClock
	userID uuid.UUID
}

func newKeyFixture() *keyFixture {
	clock := &mutableClock{t: time.Now().UTC()}
	svc := apikey.NewService(apikey.NewMemoryStore(), tier.DefaultTable(), apikey.NewArgon2Hasher(64, 1, 1),
		apikey.DefaultConfig(), apikey.WithClock(clock.Now))
	return &keyFixture{svc: svc, clock: clock, userID: uuid.New()}
}

func (f *keyFixture) create(t *testing.T, req *apikey.CreateRequest) *apikey.CreateResponse {
	t.Helper()
	resp, err := f.svc.Create(context.Background(), f.userID, tier.Pro, req)
	require.NoError(t, err)
	return resp
}

func (f *keyFixture) router(throttle *FailureThrottle) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	external := router.Group("/external", NewAPIKeyAuthenticator(f.svc, throttle).APIKeyAuth())
	external.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, GetAPIKey(c))
	})
	external.GET("/analytics", RequirePermission(models.ResourceAnalytics, models.ActionRead), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	external.GET("/broken", func(c *gin.Context) {
		_ = c.Error(errors.New("upstream exploded"))
		c.Status(http.StatusInternalServerError)
	})
	return router
}

func get(router *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAPIKeyAuth_AcceptsBothHeaders(t *testing.T) {
	f := newKeyFixture()
	key := f.create(t, &apikey.CreateRequest{Name: "ci", RateLimit: intPtr(10)})
	router := f.router(nil)

	w := get(router, "/external/me", map[string]string{"X-API-Key": key.Key})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.NotContains(t, w.Body.String(), key.Key)

	w = get(router, "/external/me", map[string]string{"Authorization": "Bearer " + key.Key})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "8", w.Header().Get("X-RateLimit-Remaining"))
}

func TestAPIKeyAuth_InvalidAndMissing(t *testing.T) {
	f := newKeyFixture()
	f.create(t, &apikey.CreateRequest{Name: "ci"})
	router := f.router(nil)

	w := get(router, "/external/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apierrors.ErrMissingAPIKey, decodeError(t, w).Error.Code)

	w = get(router, "/external/me", map[string]string{"X-API-Key": "blk_" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, apierrors.ErrInvalidAPIKey, resp.Error.Code)
	assert.Equal(t, apikey.MsgInvalidKey, resp.Error.Message)
}

func TestAPIKeyAuth_Expired(t *testing.T) {
	f := newKeyFixture()
	key := f.create(t, &apikey.CreateRequest{Name: "short", ExpiresInDays: intPtr(1)})
	router := f.router(nil)

	require.Equal(t, http.StatusOK, get(router, "/external/me", map[string]string{"X-API-Key": key.Key}).Code)

	f.clock.Advance(25 * time.Hour)
	w := get(router, "/external/me", map[string]string{"X-API-Key": key.Key})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, apierrors.ErrAPIKeyExpired, resp.Error.Code)
	assert.Equal(t, apikey.MsgExpiredKey, resp.Error.Message)
}

func TestAPIKeyAuth_RateLimited(t *testing.T) {
	f := newKeyFixture()
	key := f.create(t, &apikey.CreateRequest{Name: "tight", RateLimit: intPtr(2)})
	router := f.router(nil)
	headers := map[string]string{"X-API-Key": key.Key}

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, get(router, "/external/me", headers).Code)
		f.clock.Advance(time.Minute)
	}

	w := get(router, "/external/me", headers)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apierrors.ErrRateLimited, decodeError(t, w).Error.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	// the first request leaves the one hour window 58 minutes from now
	assert.Equal(t, 58*60, retryAfter)

	stats, err := f.svc.Stats(context.Background(), f.userID, key.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRequests, "rejected requests are not logged")

	f.clock.Advance(time.Duration(retryAfter)*time.Second + time.Second)
	assert.Equal(t, http.StatusOK, get(router, "/external/me", headers).Code)
}

func TestAPIKeyAuth_LogsHandlerOutcome(t *testing.T) {
	f := newKeyFixture()
	key := f.create(t, &apikey.CreateRequest{Name: "logs"})
	router := f.router(nil)

	assert.Equal(t, http.StatusInternalServerError, get(router, "/external/broken", map[string]string{"X-API-Key": key.Key}).Code)
	assert.Equal(t, http.StatusOK, get(router, "/external/me", map[string]string{"X-API-Key": key.Key}).Code)

	stats, err := f.svc.Stats(context.Background(), f.userID, key.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)

	byEndpoint := map[string]apikey.EndpointUsage{}
	for _, e := range stats.Endpoints {
		byEndpoint[e.Endpoint] = e
	}
	assert.Equal(t, int64(1), byEndpoint["/external/broken"].Errors)
	assert.Equal(t, int64(1), byEndpoint["/external/me"].Requests)
}

func TestRequirePermission(t *testing.T) {
	f := newKeyFixture()
	readOnly := f.create(t, &apikey.CreateRequest{Name: "default"})
	analytics := f.create(t, &apikey.CreateRequest{
		Name:        "analytics",
		Permissions: &apikey.PermissionsPatch{Analytics: &apikey.ResourcePatch{Read: boolPtr(true)}},
	})
	router := f.router(nil)

	w := get(router, "/external/analytics", map[string]string{"X-API-Key": readOnly.Key})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apierrors.ErrInsufficientScope, decodeError(t, w).Error.Code)

	w = get(router, "/external/analytics", map[string]string{"X-API-Key": analytics.Key})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuth_FailureThrottle(t *testing.T) {
	f := newKeyFixture()
	key := f.create(t, &apikey.CreateRequest{Name: "ci"})
	router := f.router(NewFailureThrottle(2))
	bad := map[string]string{"X-API-Key": "blk_nope"}

	assert.Equal(t, http.StatusUnauthorized, get(router, "/external/me", bad).Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "/external/me", bad).Code)

	w := get(router, "/external/me", map[string]string{"X-API-Key": key.Key})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apierrors.ErrTooManyFailures, decodeError(t, w).Error.Code)
}

func TestFailureThrottle_Refills(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	th := NewFailureThrottle(60)
	th.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		require.False(t, th.Blocked("203.0.113.1"))
		th.Fail("203.0.113.1")
	}
	assert.True(t, th.Blocked("203.0.113.1"))
	assert.False(t, th.Blocked("203.0.113.2"), "budgets are per IP")

	now = now.Add(time.Second)
	assert.False(t, th.Blocked("203.0.113.1"))

	// idle entries are swept
	now = now.Add(time.Hour)
	th.Blocked("198.51.100.9")
	assert.Len(t, th.limiters, 1)
}

func TestFailureThrottle_Disabled(t *testing.T) {
	th := NewFailureThrottle(0)
	assert.Nil(t, th)
	th.Fail("x")
	assert.False(t, th.Blocked("x"))
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
