package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ClientFromContext(r.Context())))
}

func TestAPIKeyAuth(t *testing.T) {
	ring := NewKeyRing(map[string]KeyEntry{
		"good-key": {Name: "acme"},
		"old-key":  {Name: "legacy", Disabled: true},
	})
	h := APIKeyAuth(ring, true)(http.HandlerFunc(okHandler))

	tests := []struct {
		name   string
		key    string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"unknown", "nope", http.StatusForbidden, ""},
		{"disabled", "old-key", http.StatusForbidden, ""},
		{"valid", "good-key", http.StatusOK, "acme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/markers", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyAuthDisabled(t *testing.T) {
	h := APIKeyAuth(NewKeyRing(nil), false)(http.HandlerFunc(okHandler))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DevClient, rec.Body.String())
}

func TestLoadKeyRing(t *testing.T) {
	dir := t.TempDir()

	ring, err := LoadKeyRing(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Zero(t, ring.Len())

	path := filepath.Join(dir, "keys.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"k1": {"name": "team-a"}, "k2": {"name": "team-b", "disabled": true}}`), 0o600))
	ring, err = LoadKeyRing(path)
	require.NoError(t, err)
	assert.Equal(t, 2, ring.Len())
	e, ok := ring.Lookup("k2")
	require.True(t, ok)
	assert.True(t, e.Disabled)

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o600))
	_, err = LoadKeyRing(path)
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(time.Hour)
	rl.Allow("c")
	assert.Equal(t, 1, rl.Cleanup(time.Minute))
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimit(NewRateLimiter(0.001, 1))(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error": "rate limit exceeded"}`, rec.Body.String())
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	for _, bad := range []string{"", strings.Repeat("x", 129), "bad\nid", "ünïcode"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, bad)
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Len(t, seen, 36, "a UUID replaces %q", bad)
	}
}

func TestMetrics(t *testing.T) {
	var m Metrics
	statuses := []int{200, 404, 500, 201}
	for _, s := range statuses {
		status := s
		h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	snap := m.Snapshot()
	assert.Equal(t, int64(4), snap.Requests)
	assert.Equal(t, int64(1), snap.ClientErrors)
	assert.Equal(t, int64(1), snap.ServerErrors)
	assert.Equal(t, int64(2), snap.Errors)
}

func TestLoggingRecordsClient(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ring := NewKeyRing(map[string]KeyEntry{"k": {Name: "acme"}})
	h := RequestID(Logging(zap.New(core))(APIKeyAuth(ring, true)(http.HandlerFunc(okHandler))))

	req := httptest.NewRequest(http.MethodGet, "/v1/markers", nil)
	req.Header.Set(APIKeyHeader, "k")
	h.ServeHTTP(httptest.NewRecorder(), req)

	bad := httptest.NewRequest(http.MethodGet, "/v1/markers", nil)
	h.ServeHTTP(httptest.NewRecorder(), bad)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "acme", entries[0].ContextMap()["client"])
	assert.Equal(t, int64(200), entries[0].ContextMap()["status"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.NotEmpty(t, entries[1].ContextMap()["request_id"])
}
