package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// window counts submissions from one caller inside a fixed window.
type window struct {
	used  int
	reset time.Time
}

type limiter struct {
	mu      sync.Mutex
	limit   int
	per     time.Duration
	now     func() time.Time
	windows map[string]*window
}

// RateLimit allows limit requests per window for each caller. Authenticated
// callers are keyed by user id, anonymous ones by remote host (chi's RealIP
// runs first and resolves forwarded headers). Rejected requests get 429 with
// Retry-After in seconds and a retryAfter body field.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return rateLimit(limit, per, time.Now)
}

func rateLimit(limit int, per time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	l := &limiter{limit: limit, per: per, now: now, windows: make(map[string]*window)}
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wait, ok := l.take(rateLimitKey(r)); !ok {
				writeRateLimited(w, wait)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// take spends one request for key, or reports how many seconds remain until
// its window resets.
func (l *limiter) take(key string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.now()
	for k, win := range l.windows {
		if !t.Before(win.reset) {
			delete(l.windows, k)
		}
	}
	win, ok := l.windows[key]
	if !ok {
		win = &window{reset: t.Add(l.per)}
		l.windows[key] = win
	}
	if win.used >= l.limit {
		return max(int(math.Ceil(win.reset.Sub(t).Seconds())), 1), false
	}
	win.used++
	return 0, true
}

func writeRateLimited(w http.ResponseWriter, wait int) {
	w.Header().Set("Retry-After", strconv.Itoa(wait))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message":    "too many generation requests",
		"code":       "RATE_LIMITED",
		"retryAfter": wait,
	})
}

func rateLimitKey(r *http.Request) string {
	if uid := UserIDFromContext(r.Context()); uid != "" {
		return "user:" + uid
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
