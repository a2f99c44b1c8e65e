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

// Package correlation carries a per-request correlation ID from the
// client transport, through the server, into every log line and audit
// event the request produces.
package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey struct{}

const (
	// Header carries the correlation ID in both directions.
	Header = "X-Correlation-ID"

	// RequestHeader is accepted from proxies that only set X-Request-ID.
	RequestHeader = "X-Request-ID"

	maxLen = 128
)

// With returns a copy of ctx carrying id.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// ID returns the correlation ID carried by ctx, or "".
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// New returns a time-ordered UUIDv7, so IDs sort by arrival in logs.
func New() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Ensure returns ctx carrying a correlation ID, generating one if needed.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return With(ctx, id), id
}

// FromRequest returns the correlation ID sent by the caller. Header wins
// over RequestHeader; oversized values and values with characters outside
// printable ASCII are ignored.
func FromRequest(r *http.Request) string {
	if id := r.Header.Get(Header); acceptable(id) {
		return id
	}
	if id := r.Header.Get(RequestHeader); acceptable(id) {
		return id
	}
	return ""
}

// Inject sets Header on an outgoing request from ctx, generating an ID
// when ctx carries none, and returns the ID sent.
func Inject(ctx context.Context, r *http.Request) string {
	_, id := Ensure(ctx)
	r.Header.Set(Header, id)
	return id
}

// Middleware adopts the caller's correlation ID or assigns one, stores it
// in the request context and echoes it in the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromRequest(r)
		if id == "" {
			id = New()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(With(r.Context(), id)))
	})
}

func acceptable(id string) bool {
	if id == "" || len(id) > maxLen {
		return false
	}
	for _, c := range []byte(id) {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}
