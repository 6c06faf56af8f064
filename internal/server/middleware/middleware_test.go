package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuth(t *testing.T) {
	h := Auth("s3cret", "/health")(ok)

	cases := []struct {
		name   string
		method string
		target string
		header map[string]string
		want   int
	}{
		{"missing", http.MethodGet, "/api/fills", nil, http.StatusUnauthorized},
		{"wrong", http.MethodGet, "/api/fills", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"bearer", http.MethodGet, "/api/fills", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"header", http.MethodGet, "/api/fills", map[string]string{"X-API-Key": "s3cret"}, http.StatusOK},
		{"public", http.MethodGet, "/health", nil, http.StatusOK},
		{"preflight", http.MethodOptions, "/api/fills", nil, http.StatusOK},
		{"ws query", http.MethodGet, "/ws?api_key=s3cret", nil, http.StatusOK},
		{"query only on ws", http.MethodGet, "/api/fills?api_key=s3cret", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(tc.method, tc.target, nil)
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/fills", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type countingLimiter struct {
	calls map[string]int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.calls[key]++
	return l.calls[key] <= limit, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{calls: map[string]int{}}
	h := RateLimit(lim, 2, 30*time.Second)(ok)

	codes := make([]int, 0, 3)
	for range 3 {
		r := httptest.NewRequest(http.MethodGet, "/api/fills", nil)
		r.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "30", rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, 3, lim.calls["api:10.0.0.1"])
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(&countingLimiter{err: errors.New("redis down")}, 1, time.Minute)(ok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/fills", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(nil, 10, time.Minute)(ok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://dash.example"})(ok)

	r := httptest.NewRequest(http.MethodOptions, "/api/fills", nil)
	r.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/api/fills", nil)
	r.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
