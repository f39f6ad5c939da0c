package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenBucketLimiter_ExhaustsAndIsolatesKeys(t *testing.T) {
	limiter := NewTokenBucketLimiter(3)
	defer limiter.Stop()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "caller-a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("expected request %d within capacity to be allowed", i+1)
		}
	}

	allowed, _ := limiter.Allow(ctx, "caller-a")
	if allowed {
		t.Fatal("expected the request over capacity to be denied")
	}

	allowed, _ = limiter.Allow(ctx, "caller-b")
	if !allowed {
		t.Fatal("expected a different caller to have its own bucket")
	}
}

type erroringLimiter struct{}

func (erroringLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("limiter backend down")
}

func TestRateLimitMiddleware_FailsOpenOnLimiterError(t *testing.T) {
	handler := RateLimitMiddleware(erroringLimiter{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the request to pass when the limiter errors, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_DeniesOverLimit(t *testing.T) {
	limiter := NewTokenBucketLimiter(1)
	defer limiter.Stop()

	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	req.RemoteAddr = "203.0.113.7:52100"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the first request to pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over the limit, got %d", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	testCases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr without headers",
			remoteAddr: "198.51.100.4:33000",
			want:       "198.51.100.4",
		},
		{
			name:       "first hop of x-forwarded-for",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "ipv6 remote addr with port",
			remoteAddr: "[2001:db8::1]:33000",
			want:       "2001:db8::1",
		},
		{
			name:       "bare ipv6 remote addr is not truncated",
			remoteAddr: "2001:db8::1",
			want:       "2001:db8::1",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
