package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	require.True(t, rl.Allow("a"))
	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)
	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))
	time.Sleep(20 * time.Millisecond)
	require.True(t, rl.Allow("a"))
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	require.True(t, rl.Allow("a"))
	require.True(t, rl.Allow("b"))
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	handler := ClientKey(rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/dicom-web/studies", nil)
	req.Header.Set("X-Api-Key", "client-1")

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)
}
