package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitKey(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		remoteAddr string
		want       string
	}{
		{name: "authenticated user", user: "user-42", remoteAddr: "198.51.100.10:1234", want: "user:user-42"},
		{name: "anonymous ipv4", remoteAddr: "198.51.100.10:1234", want: "ip:198.51.100.10"},
		{name: "anonymous ipv6", remoteAddr: net.JoinHostPort("2001:db8::2", "443"), want: "ip:2001:db8::2"},
		{name: "remote without port", remoteAddr: "203.0.113.1", want: "ip:203.0.113.1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			req = req.WithContext(ContextWithUserID(req.Context(), tc.user))
			if got := rateLimitKey(req); got != tc.want {
				t.Fatalf("rateLimitKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	handler := rateLimit(2, time.Minute, func() time.Time { return now })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	submit := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/svg/generate-svg", nil)
		req.RemoteAddr = "198.51.100.10:1234"
		req = req.WithContext(ContextWithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := submit("alice"); rec.Code != http.StatusAccepted {
			t.Fatalf("submission %d status = %d, want 202", i, rec.Code)
		}
	}
	now = now.Add(15 * time.Second)
	rec := submit("alice")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "45" {
		t.Fatalf("Retry-After = %q, want 45", got)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["retryAfter"] != float64(45) || body["code"] != "RATE_LIMITED" {
		t.Fatalf("body = %s, %v", rec.Body.String(), err)
	}

	// Same address, different account.
	if rec := submit("bob"); rec.Code != http.StatusAccepted {
		t.Fatalf("bob status = %d, want 202", rec.Code)
	}

	now = now.Add(time.Minute)
	if rec := submit("alice"); rec.Code != http.StatusAccepted {
		t.Fatalf("status after window = %d, want 202", rec.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
}
