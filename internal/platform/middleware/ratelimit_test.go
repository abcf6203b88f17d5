package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct{ t time.Time }

func (s *stepClock) now() time.Time { return s.t }

func newTestLimiter(rps float64, burst int) (*limiter, *stepClock) {
	clock := &stepClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newLimiter(RateLimitConfig{RequestsPerSecond: rps, BurstSize: burst, IdleTTL: time.Minute})
	l.now = clock.now
	return l, clock
}

func call(t *testing.T, h echo.HandlerFunc, tenant string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if tenant != "" {
		c.Set("tenant_key", tenant)
	}
	return rec, h(c)
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRateLimit_WithinBurst(t *testing.T) {
	l, _ := newTestLimiter(10, 5)
	h := rateLimit(l)(okHandler)
	for i := 0; i < 5; i++ {
		rec, err := call(t, h, "t1")
		require.NoError(t, err, "request %d", i+1)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimit_ExceedsAndRefills(t *testing.T) {
	l, clock := newTestLimiter(1, 2)
	h := rateLimit(l)(okHandler)

	for i := 0; i < 2; i++ {
		_, err := call(t, h, "t1")
		require.NoError(t, err)
	}
	rec, err := call(t, h, "t1")
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected echo.HTTPError, got %v", err)
	assert.Equal(t, http.StatusTooManyRequests, he.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	retry, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, convErr)
	assert.GreaterOrEqual(t, retry, 1)

	clock.t = clock.t.Add(time.Second)
	_, err = call(t, h, "t1")
	assert.NoError(t, err, "one token refilled after a second")
}

func TestRateLimit_PerTenantIsolation(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	h := rateLimit(l)(okHandler)

	_, err := call(t, h, "tenant-a")
	require.NoError(t, err)
	_, err = call(t, h, "tenant-a")
	require.Error(t, err)
	_, err = call(t, h, "tenant-b")
	assert.NoError(t, err)
	_, err = call(t, h, "")
	assert.NoError(t, err, "untenanted traffic uses the IP bucket")
}

func TestRateLimit_ZeroRate(t *testing.T) {
	l, _ := newTestLimiter(0, 1)
	assert.True(t, firstOf(l.allow("k")))
	allowed, retry := l.allow("k")
	assert.False(t, allowed)
	assert.Equal(t, 1, retry)
}

func TestRateLimit_IdleBucketsEvicted(t *testing.T) {
	l, clock := newTestLimiter(1, 1)
	l.allow("a")
	l.allow("b")
	require.Len(t, l.buckets, 2)

	clock.t = clock.t.Add(2 * time.Minute)
	l.allow("b")
	assert.Len(t, l.buckets, 1)
	_, found := l.buckets["b"]
	assert.True(t, found)
}

func firstOf(b bool, _ int) bool { return b }

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	assert.Equal(t, 50.0, cfg.RequestsPerSecond)
	assert.Equal(t, 100, cfg.BurstSize)
}
