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
	"net/http"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/audit"
	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/correlation"
	"github.com/jeremyhahn/go-zkauth/pkg/ratelimit"
)

// record stamps e with request metadata and hands it to the audit
// adapter. Adapter failures are logged and never fail the request.
func (s *Server) record(r *http.Request, e *audit.AuditEvent) {
	e.Timestamp = s.clock()
	e.RequestID = correlation.ID(r.Context())
	e.SourceIP = ratelimit.ClientIP(r)
	if e.Outcome == "" {
		e.Outcome = audit.OutcomeSuccess
	}
	if err := s.audit.LogEvent(r.Context(), e); err != nil {
		logger.FromContext(r.Context(), s.logger).Warn("Failed to record audit event",
			logger.String("event", string(e.EventType)),
			logger.Error(err))
	}
}

// rejected records a denied authentication attempt.
func (s *Server) rejected(r *http.Request, userID string, rejection *Error) {
	s.record(r, &audit.AuditEvent{
		EventType: audit.EventAuthFailure,
		Outcome:   audit.OutcomeDenied,
		UserID:    userID,
		Reason:    rejection.Code,
	})
}

func fingerprint(encodedKey string) string {
	v, _ := logger.Fingerprint("", []byte(encodedKey)).Value.(string)
	return v
}
