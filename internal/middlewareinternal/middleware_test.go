package middlewareinternal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/model"
	"github.com/stretchr/testify/assert"
)

type stubAuth struct {
	tokens map[string]string
}

func (s stubAuth) Register(context.Context, string, string) (*model.User, string, error) {
	return nil, "", errors.New("not implemented")
}

func (s stubAuth) Login(context.Context, string, string) (*model.User, string, error) {
	return nil, "", errors.New("not implemented")
}

func (s stubAuth) ValidateToken(token string) (string, error) {
	if address, ok := s.tokens[token]; ok {
		return address, nil
	}
	return "", errors.New("unknown token")
}

func TestJWTAuthMiddleware(t *testing.T) {
	var seen string
	handler := JWTAuthMiddleware(stubAuth{tokens: map[string]string{"good": "alice"}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = AddressFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	tests := []struct {
		name    string
		prepare func(r *http.Request)
		status  int
		address string
	}{
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "jwt", Value: "good"}) }, http.StatusNoContent, "alice"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, http.StatusNoContent, "alice"},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") }, http.StatusUnauthorized, ""},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic good") }, http.StatusUnauthorized, ""},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/api/ledger/deposit", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.address, seen)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(60, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/ledger/borrow", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2:1000"), "other clients have their own budget")
}

func TestRateLimiterEvictsIdleClientsPeriodically(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(60, 1)
	limiter.now = func() time.Time { return clock }
	limiter.lastSweep = clock

	limiter.limiter("10.0.0.1")
	limiter.limiter("10.0.0.2")
	assert.Len(t, limiter.visitors, 2)

	// 10.0.0.1 is expired but no sweep is due yet.
	clock = clock.Add(visitorTTL + time.Second)
	limiter.lastSweep = clock
	limiter.limiter("10.0.0.2")
	assert.Len(t, limiter.visitors, 2)

	clock = clock.Add(sweepInterval)
	limiter.limiter("10.0.0.2")
	assert.Len(t, limiter.visitors, 1)
	assert.Contains(t, limiter.visitors, "10.0.0.2")
}
