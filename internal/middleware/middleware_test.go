package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/EmpoweredVote/GIS-Backend/internal/middleware"
	"golang.org/x/crypto/bcrypt"
)

// call wraps a simple 200-OK inner handler in the provided middleware,
// applies mod to the request and returns the recorded response.
func call(t *testing.T, mw func(http.Handler) http.Handler, method string, mod func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(method, "/test", nil)
	if mod != nil {
		mod(req)
	}
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)
	return rec
}

// TestCORSMiddleware_AllowedOrigin verifies an allow-listed origin is echoed
// back with credentials.
func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	mw := middleware.CORSMiddleware([]string{"http://localhost:5173/"})

	rec := call(t, mw, http.MethodGet, func(r *http.Request) {
		r.Header.Set("Origin", "http://localhost:5173")
	})

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected origin echoed, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Errorf("expected credentials header")
	}
}

// TestCORSMiddleware_UnknownOrigin verifies an unknown origin gets no
// Allow-Origin header but the request still runs.
func TestCORSMiddleware_UnknownOrigin(t *testing.T) {
	mw := middleware.CORSMiddleware([]string{"http://localhost:5173"})

	rec := call(t, mw, http.MethodGet, func(r *http.Request) {
		r.Header.Set("Origin", "https://evil.example")
	})

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no Allow-Origin, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// TestCORSMiddleware_Wildcard verifies "*" allows any origin.
func TestCORSMiddleware_Wildcard(t *testing.T) {
	mw := middleware.CORSMiddleware([]string{"*"})

	rec := call(t, mw, http.MethodGet, func(r *http.Request) {
		r.Header.Set("Origin", "https://anywhere.example")
	})

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected *, got %q", got)
	}
}

// TestCORSMiddleware_Preflight verifies OPTIONS short-circuits with 204.
func TestCORSMiddleware_Preflight(t *testing.T) {
	mw := middleware.CORSMiddleware([]string{"http://localhost:5173"})

	rec := call(t, mw, http.MethodOptions, func(r *http.Request) {
		r.Header.Set("Origin", "http://localhost:5173")
	})

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

// TestRateLimiter_BurstThenReject verifies the bucket empties after burst
// requests from one IP and that other IPs are unaffected.
func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := middleware.NewRateLimiter(0.5, 2)
	mw := rl.Middleware

	from := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.RemoteAddr = ip + ":1234" }
	}

	for i := 0; i < 2; i++ {
		if rec := call(t, mw, http.MethodPost, from("10.0.0.1")); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := call(t, mw, http.MethodPost, from("10.0.0.1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "3" {
		t.Errorf("expected Retry-After 3, got %q", rec.Header().Get("Retry-After"))
	}

	if rec := call(t, mw, http.MethodPost, from("10.0.0.2")); rec.Code != http.StatusOK {
		t.Errorf("other client: expected 200, got %d", rec.Code)
	}
}

// TestClientIP_PrefersForwardedFor verifies the first forwarded hop wins.
func TestClientIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:999"
	if got := middleware.ClientIP(req); got != "10.1.1.1" {
		t.Errorf("expected remote host, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.1.1.1")
	if got := middleware.ClientIP(req); got != "203.0.113.7" {
		t.Errorf("expected forwarded ip, got %q", got)
	}
}

// TestAdminMiddleware covers missing, wrong and valid tokens.
func TestAdminMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	mw := middleware.AdminMiddleware(string(hash))

	rec := call(t, mw, http.MethodDelete, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "missing admin token") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	rec = call(t, mw, http.MethodDelete, func(r *http.Request) { r.Header.Set("X-Admin-Token", "nope") })
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong token: expected 403, got %d", rec.Code)
	}

	rec = call(t, mw, http.MethodDelete, func(r *http.Request) { r.Header.Set("X-Admin-Token", "s3cret") })
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d", rec.Code)
	}
}

// TestAdminMiddleware_Unconfigured verifies routes stay closed without a hash.
func TestAdminMiddleware_Unconfigured(t *testing.T) {
	rec := call(t, middleware.AdminMiddleware(""), http.MethodDelete, func(r *http.Request) {
		r.Header.Set("X-Admin-Token", "anything")
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestAddServerTiming(t *testing.T) {
	rec := httptest.NewRecorder()
	middleware.AddServerTiming(rec, [2]string{"parse", "12.0"}, [2]string{"reproject", middleware.Millis(1500 * time.Microsecond)})
	middleware.AddServerTiming(rec)

	got := rec.Header().Values("Server-Timing")
	if len(got) != 1 || got[0] != "parse;dur=12.0, reproject;dur=1.5" {
		t.Errorf("unexpected Server-Timing %q", got)
	}
}
