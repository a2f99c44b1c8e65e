// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-zkauth.
//
// go-zkauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(perMinute, burst int) (*Limiter, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(&Config{
		Enabled:           true,
		RequestsPerMinute: perMinute,
		Burst:             burst,
		Clock:             clk.Now,
	}), clk
}

func TestTake(t *testing.T) {
	l, clk := newTestLimiter(60, 5)

	for i := 0; i < 5; i++ {
		if ok, _ := l.Take("k"); !ok {
			t.Fatalf("Request %d should be allowed (burst)", i+1)
		}
	}

	ok, wait := l.Take("k")
	if ok {
		t.Fatal("Request should be denied after burst exhausted")
	}
	if wait != time.Second {
		t.Errorf("Expected retry after 1s, got %v", wait)
	}

	// A denied request must not consume the next token.
	clk.Advance(time.Second)
	if !l.Allow("k") {
		t.Error("Request should be allowed after waiting")
	}
	if l.Allow("k") {
		t.Error("Only one token should have been refilled")
	}
}

func TestDisabledLimiter(t *testing.T) {
	for _, cfg := range []*Config{nil, {Enabled: false, RequestsPerMinute: 1}, {Enabled: true}} {
		l := New(cfg)
		if l.IsEnabled() {
			t.Errorf("Expected %+v to be disabled", cfg)
		}
		for i := 0; i < 100; i++ {
			if !l.Allow("k") {
				t.Fatal("Disabled limiter should allow all requests")
			}
		}
		if l.Len() != 0 {
			t.Error("Disabled limiter should not track keys")
		}
	}
}

func TestScopesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, 1)

	if !l.Allow(AddressKey("203.0.113.7")) {
		t.Fatal("First address request should be allowed")
	}
	if l.Allow(AddressKey("203.0.113.7")) {
		t.Error("Second address request should be denied")
	}
	if !l.Allow(EmailKey("203.0.113.7")) {
		t.Error("Email scope must not share the address bucket")
	}
	if l.Len() != 2 {
		t.Errorf("Expected 2 tracked keys, got %d", l.Len())
	}
}

func TestSweep(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		MaxIdle:           time.Minute,
		Clock:             clk.Now,
	})

	l.Allow("old")
	clk.Advance(45 * time.Second)
	l.Allow("recent")
	clk.Advance(30 * time.Second)

	l.Sweep()
	if l.Len() != 1 {
		t.Fatalf("Expected 1 bucket after sweep, got %d", l.Len())
	}
	if _, ok := l.buckets["recent"]; !ok {
		t.Error("Expected the recently used bucket to survive")
	}
}

func TestMiddleware(t *testing.T) {
	l, _ := newTestLimiter(30, 2)

	denied := 0
	wrapped := Middleware(l, func(w http.ResponseWriter, r *http.Request) {
		denied++
		w.WriteHeader(http.StatusTeapot)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i, want := range []int{http.StatusNoContent, http.StatusNoContent, http.StatusTeapot} {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Errorf("Request %d: expected status %d, got %d", i+1, want, rr.Code)
		}
		if want == http.StatusTeapot && rr.Header().Get("Retry-After") != "2" {
			t.Errorf("Expected Retry-After 2, got %q", rr.Header().Get("Retry-After"))
		}
	}
	if denied != 1 {
		t.Errorf("Expected 1 denied request, got %d", denied)
	}

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Another address should not be throttled, got %d", rr.Code)
	}
}

func TestMiddlewareDefaultDenied(t *testing.T) {
	l, _ := newTestLimiter(60, 1)
	wrapped := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	var rr *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		rr = httptest.NewRecorder()
		wrapped.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))
	}
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", rr.Code)
	}
}

func TestSetRetryAfter(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want string
	}{
		{0, ""},
		{-time.Second, ""},
		{300 * time.Millisecond, "1"},
		{time.Second, "1"},
		{61500 * time.Millisecond, "62"},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		SetRetryAfter(rr, tt.wait)
		if got := rr.Header().Get("Retry-After"); got != tt.want {
			t.Errorf("SetRetryAfter(%v) = %q, want %q", tt.wait, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"}, "192.168.1.1:1234", "203.0.113.1"},
		{"real ip", map[string]string{"X-Real-IP": " 203.0.113.1 "}, "192.168.1.1:1234", "203.0.113.1"},
		{"remote addr", nil, "192.168.1.1:1234", "192.168.1.1"},
		{"remote addr without port", nil, "192.168.1.1", "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if ip := ClientIP(req); ip != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, ip)
			}
		})
	}
}
