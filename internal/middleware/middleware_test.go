package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	h := rl.Middleware(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("expected first two requests to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request to be limited, got %d", codes[2])
	}
}

func TestRateLimiter_KeysByHostNotPort(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()
	h := rl.Middleware(okHandler)

	first := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	first.RemoteAddr = "10.0.0.2:5000"
	h.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	second.RemoteAddr = "10.0.0.2:6000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, second)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected new port from same host to share the budget, got %d", rr.Code)
	}

	other := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	other.RemoteAddr = "10.0.0.3:5000"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, other)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected a different host to pass, got %d", rr.Code)
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)
	defer rl.Stop()

	if !rl.allow("a") {
		t.Fatalf("expected first hit to pass")
	}
	if rl.allow("a") {
		t.Fatalf("expected second hit in window to be limited")
	}
	time.Sleep(30 * time.Millisecond)
	if !rl.allow("a") {
		t.Fatalf("expected hit after window to pass")
	}
}

func TestRateLimiter_SteadyClientStaysUnderBudget(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	defer rl.Stop()

	// At most two hits land in any 50ms window.
	for i := 0; i < 8; i++ {
		if !rl.allow("steady") {
			t.Fatalf("expected hit %d of a steady client to pass", i)
		}
		time.Sleep(30 * time.Millisecond)
	}
}

func TestRateLimiter_RejectedHitsDoNotExtendWindow(t *testing.T) {
	rl := NewRateLimiter(1, 40*time.Millisecond)
	defer rl.Stop()

	if !rl.allow("c") {
		t.Fatalf("expected first hit to pass")
	}
	time.Sleep(25 * time.Millisecond)
	if rl.allow("c") {
		t.Fatalf("expected second hit in window to be limited")
	}
	time.Sleep(25 * time.Millisecond)
	if !rl.allow("c") {
		t.Fatalf("expected hit after the window started by the first hit to pass")
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7"
	if got := clientKey(req); got != "203.0.113.7" {
		t.Fatalf("expected bare IP to be kept, got %q", got)
	}

	req.RemoteAddr = "[2001:db8::1]:443"
	if got := clientKey(req); got != "2001:db8::1" {
		t.Fatalf("expected IPv6 host, got %q", got)
	}
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	h := NewRedisRateLimiter(client, "ratelimit:chat", 1, time.Minute).Middleware(okHandler)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected request to pass while Redis is down, got %d", rr.Code)
		}
	}
}

func newMiniredisLimiter(t *testing.T, limit int, window time.Duration) (*miniredis.Miniredis, *RedisRateLimiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisRateLimiter(client, "ratelimit:chat", limit, window)
}

func serveChat(ctx context.Context, h http.Handler) int {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil).WithContext(ctx)
	req.RemoteAddr = "192.0.2.10:4000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestRedisRateLimiter_CountsAndResets(t *testing.T) {
	mr, rl := newMiniredisLimiter(t, 2, time.Minute)
	h := rl.Middleware(okHandler)
	ctx := context.Background()

	if code := serveChat(ctx, h); code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", code)
	}
	if ttl := mr.TTL("ratelimit:chat:192.0.2.10"); ttl != time.Minute {
		t.Fatalf("expected counter TTL of 1m after first hit, got %v", ttl)
	}
	if code := serveChat(ctx, h); code != http.StatusOK {
		t.Fatalf("expected second request to pass, got %d", code)
	}
	if code := serveChat(ctx, h); code != http.StatusTooManyRequests {
		t.Fatalf("expected third request to be limited, got %d", code)
	}

	mr.FastForward(time.Minute)
	if code := serveChat(ctx, h); code != http.StatusOK {
		t.Fatalf("expected request after the window to pass, got %d", code)
	}
}

func TestRedisRateLimiter_CanceledRequestStillSetsTTL(t *testing.T) {
	mr, rl := newMiniredisLimiter(t, 1, time.Minute)
	h := rl.Middleware(okHandler)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	serveChat(ctx, h)

	if ttl := mr.TTL("ratelimit:chat:192.0.2.10"); ttl <= 0 {
		t.Fatalf("expected counter to carry a TTL, got %v", ttl)
	}

	mr.FastForward(time.Minute)
	if code := serveChat(context.Background(), h); code != http.StatusOK {
		t.Fatalf("expected client to recover once the window expires, got %d", code)
	}
}

func TestRedisRateLimiter_Key(t *testing.T) {
	rl := NewRedisRateLimiter(nil, "ratelimit:chat", 1, time.Minute)
	if got := rl.key("10.0.0.1"); got != "ratelimit:chat:10.0.0.1" {
		t.Fatalf("unexpected key: %q", got)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(RequestIDHeader)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatalf("expected a generated request ID")
	}
	if rr.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected response header %q, got %q", seen, rr.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "client-id" || rr.Header().Get(RequestIDHeader) != "client-id" {
		t.Fatalf("expected client request ID to be kept, got %q", seen)
	}
}
