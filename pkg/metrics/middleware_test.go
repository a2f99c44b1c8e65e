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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddlewareLabelsRoutePattern(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/api/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/items/"+id, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
	}

	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/api/v1/items/{id}", http.MethodGet, "200")); got != 3 {
		t.Errorf("Expected 3 requests on one route series, got %v", got)
	}
	if count := testutil.CollectAndCount(HTTPRequestsTotal); count != 1 {
		t.Errorf("Expected a single series, got %d", count)
	}
	if got := testutil.ToFloat64(ActiveRequests); got != 0 {
		t.Errorf("Expected no active requests after completion, got %v", got)
	}
}

func TestHTTPMiddlewareUnmatched(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/nowhere", nil))

	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(routeUnmatched, http.MethodPost, "404")); got != 1 {
		t.Errorf("Expected 1 unmatched request, got %v", got)
	}
}

func TestHTTPMiddlewareWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()
	HTTPRequestsTotal.Reset()

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if count := testutil.CollectAndCount(HTTPRequestsTotal); count != 0 {
		t.Errorf("Expected no requests recorded when disabled, got %d", count)
	}
}

func TestStatusWriterFirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	sw.WriteHeader(http.StatusCreated)
	sw.WriteHeader(http.StatusTeapot)
	if sw.status != http.StatusCreated {
		t.Errorf("Expected captured status 201, got %d", sw.status)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	Enable()
	RecordOperation(OpLogout, StatusSuccess, 0.01)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "zkauth_operations_total") {
		t.Error("Expected zkauth_operations_total in exposition output")
	}
}
