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

package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/correlation"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
)

// requestSubject is filled in by AuthenticationMiddleware so the access
// log can name the caller.
type requestSubject struct {
	userID string
}

// accessLog writes one line per request once the handler has returned.
// Server errors are logged at error level, rejections at warn.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		subject := &requestSubject{userID: "anonymous"}
		r = r.WithContext(context.WithValue(r.Context(), subjectKey, subject))

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Duration("duration", time.Since(start)),
			logger.String("subject", subject.userID),
		}
		log := logger.FromContext(r.Context(), s.logger)
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("Request failed", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("Request rejected", fields...)
		default:
			log.Info("Request completed", fields...)
		}
	})
}

// recoverPanics turns a handler panic into an internal_error response.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.FromContext(r.Context(), s.logger).Error("Panic recovered",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Any("panic", rec),
				logger.String("stack", string(debug.Stack())))
			writeError(w, withMessage(errInternal, "An unexpected error occurred"))
		}()
		next.ServeHTTP(w, r)
	})
}

var (
	corsAllowHeaders = strings.Join([]string{
		"Content-Type",
		"Authorization",
		protocol.HeaderSignature,
		protocol.HeaderTimestamp,
		protocol.HeaderNonce,
		correlation.Header,
	}, ", ")
	corsExposeHeaders = strings.Join([]string{
		protocol.HeaderServerKey,
		correlation.Header,
		"Retry-After",
	}, ", ")
)

// CORSMiddleware answers preflights and decorates responses for browser
// clients. The renewal cookie is credentialed, so the request origin is
// echoed instead of "*".
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		h.Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context(), s.logger).Warn("Login rate limited",
		logger.String("path", r.URL.Path))
	writeError(w, errRateLimited)
}
