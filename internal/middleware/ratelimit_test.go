package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/business-manager/internal/config"
	"github.com/iliyamo/business-manager/internal/metrics"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	return logrus.NewEntry(l)
}

func limitedServer(t *testing.T, cfg config.RateLimitConfig, rdb *redis.Client, m *metrics.Auth) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.POST("/login", okHandler, NewTokenBucket(cfg, rdb, quietLogger(), m))
	return e
}

func post(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTokenBucket_BlocksAfterCapacity(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		KeyStrategy:    "ip_route",
		Prefix:         "rl:test",
	}
	m := metrics.New(nil)
	e := limitedServer(t, cfg, rdb, m)

	rec := post(e, "10.0.0.1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, post(e, "10.0.0.1").Code)

	rec = post(e, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"success":false`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitedTotal.WithLabelValues("/login")))

	// separate bucket per IP
	assert.Equal(t, http.StatusOK, post(e, "10.0.0.2").Code)
	assert.True(t, mr.Exists("rl:test:ip:10.0.0.1:route:POST /login"))
}

func TestTokenBucket_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Minute, TTL: time.Hour, Prefix: "rl"}
	e := limitedServer(t, cfg, rdb, nil)
	assert.Equal(t, http.StatusOK, post(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, post(e, "10.0.0.1").Code)
}

func TestTokenBucket_DisabledOrNoRedis(t *testing.T) {
	e := limitedServer(t, config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, nil)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, post(e, "10.0.0.1").Code)
	}
}
