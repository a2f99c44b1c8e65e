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

// Package ratelimit throttles magic-link requests with a token bucket per
// key. Keys are namespaced by scope so one limiter can throttle both the
// requesting address and the target mailbox.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxIdle   = 30 * time.Minute
	defaultSweepEach = 1024
)

// Config holds rate limiter configuration.
type Config struct {
	Enabled bool

	// RequestsPerMinute is the sustained rate per key.
	RequestsPerMinute int

	// Burst defaults to RequestsPerMinute.
	Burst int

	// MaxIdle is how long an untouched bucket is kept. Defaults to 30
	// minutes.
	MaxIdle time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one token bucket per key. A disabled Limiter allows
// everything. Idle buckets are evicted while serving requests, so a
// Limiter owns no goroutines.
type Limiter struct {
	enabled bool
	limit   rate.Limit
	burst   int
	maxIdle time.Duration
	clock   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	ops     uint64
}

// New creates a limiter. A nil config yields a disabled limiter.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = &Config{}
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = cfg.RequestsPerMinute
	}
	maxIdle := cfg.MaxIdle
	if maxIdle == 0 {
		maxIdle = defaultMaxIdle
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{
		enabled: cfg.Enabled && cfg.RequestsPerMinute > 0,
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:   burst,
		maxIdle: maxIdle,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Take(key)
	return ok
}

// Take consumes a token for key. When none is available it returns false
// and how long until one will be.
func (l *Limiter) Take(key string) (bool, time.Duration) {
	if !l.enabled {
		return true, 0
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.ops++
	if l.ops%defaultSweepEach == 0 {
		l.sweepLocked(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, 0
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Sweep evicts buckets idle for longer than MaxIdle.
func (l *Limiter) Sweep() {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)
}

func (l *Limiter) sweepLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.maxIdle {
			delete(l.buckets, k)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) IsEnabled() bool {
	return l.enabled
}

// AddressKey scopes a client address.
func AddressKey(ip string) string {
	return "ip:" + ip
}

// EmailKey scopes a normalized email address.
func EmailKey(email string) string {
	return "email:" + email
}

// Middleware throttles requests by client address. denied writes the
// response for throttled requests after Retry-After has been set.
func Middleware(l *Limiter, denied http.HandlerFunc) func(http.Handler) http.Handler {
	if denied == nil {
		denied = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ok, wait := l.Take(AddressKey(ClientIP(r))); !ok {
				SetRetryAfter(w, wait)
				denied(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetRetryAfter sets the Retry-After header in whole seconds, rounding up.
func SetRetryAfter(w http.ResponseWriter, wait time.Duration) {
	if wait <= 0 {
		return
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
}

// ClientIP returns the originating address of r, preferring the first
// X-Forwarded-For hop and then X-Real-IP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
