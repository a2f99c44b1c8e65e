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

package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAndID(t *testing.T) {
	ctx := With(context.Background(), "abc")
	assert.Equal(t, "abc", ID(ctx))
	assert.Empty(t, ID(context.Background()))

	assert.Empty(t, ID(nil))
	assert.Equal(t, "x", ID(With(nil, "x")))
}

func TestNew(t *testing.T) {
	a, b := New(), New()
	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, a[:8], b[:8])
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(With(context.Background(), "keep"))
	assert.Equal(t, "keep", id)
	assert.Equal(t, "keep", ID(ctx))

	ctx, id = Ensure(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, ID(ctx))
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, FromRequest(r))

	r.Header.Set(RequestHeader, "req-1")
	assert.Equal(t, "req-1", FromRequest(r))

	r.Header.Set(Header, "corr-1")
	assert.Equal(t, "corr-1", FromRequest(r))

	r.Header.Set(Header, "bad id")
	assert.Equal(t, "req-1", FromRequest(r))

	r.Header.Set(Header, strings.Repeat("a", maxLen+1))
	assert.Equal(t, "req-1", FromRequest(r))
}

func TestInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	assert.Equal(t, "corr-9", Inject(With(context.Background(), "corr-9"), r))
	assert.Equal(t, "corr-9", r.Header.Get(Header))

	r2 := httptest.NewRequest(http.MethodPost, "/login", nil)
	generated := Inject(context.Background(), r2)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, r2.Header.Get(Header))
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(Header, "from-client")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "from-client", seen)
	assert.Equal(t, "from-client", rec.Header().Get(Header))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "from-client", seen)
	assert.Equal(t, seen, rec.Header().Get(Header))
}
