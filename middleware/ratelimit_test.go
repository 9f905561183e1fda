package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func testLimiterLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestRateLimiterDisabledPassesThrough(t *testing.T) {
	rl := NewRateLimiter(testLimiterLogger(), false, 1, 0)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with rate limiting disabled, got %d", i, rec.Code)
		}
	}
}

func TestRateLimiterBlocksBeyondRPMPlusBurst(t *testing.T) {
	rl := NewRateLimiter(testLimiterLogger(), true, 2, 1)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var lastCode int
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rec, req)
		lastCode = rec.Code
		if i < 3 && rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 within rpm+burst capacity, got %d", i, rec.Code)
		}
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected the request past rpm+burst capacity to be rejected, got %d", lastCode)
	}
}

func TestRateLimiterTracksCallersIndependently(t *testing.T) {
	rl := NewRateLimiter(testLimiterLogger(), true, 1, 0)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("caller %s: expected 200, got %d", addr, rec.Code)
		}
	}
}

func TestTruncateKey(t *testing.T) {
	if got := truncateKey("short"); got != "short" {
		t.Fatalf("expected short keys to pass through unchanged, got %q", got)
	}
	if got := truncateKey("a-long-shared-secret"); got != "a-long-s..." {
		t.Fatalf("expected a truncated key, got %q", got)
	}
}
