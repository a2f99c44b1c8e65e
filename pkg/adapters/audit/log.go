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

package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
)

// ErrQueryUnsupported is returned by adapters that cannot read events back.
var ErrQueryUnsupported = errors.New("audit: adapter does not support queries")

// LogAuditAdapter writes each event as a structured log line on a
// dedicated "audit" logger. Events cannot be queried back.
type LogAuditAdapter struct {
	log logger.Logger
}

// NewLogAuditAdapter creates an adapter writing to l.
func NewLogAuditAdapter(l logger.Logger) *LogAuditAdapter {
	return &LogAuditAdapter{log: l.With(logger.String("component", "audit"))}
}

// LogEvent writes event at info level, or warn level when denied.
func (a *LogAuditAdapter) LogEvent(_ context.Context, event *AuditEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	fields := []logger.Field{
		logger.String("event", string(event.EventType)),
		logger.String("outcome", string(event.Outcome)),
		logger.Time("at", event.Timestamp),
	}
	for k, v := range map[string]string{
		"user_id":         event.UserID,
		"reason":          event.Reason,
		"key_fingerprint": event.KeyFingerprint,
		"request_id":      event.RequestID,
		"source_ip":       event.SourceIP,
	} {
		if v != "" {
			fields = append(fields, logger.String(k, v))
		}
	}
	if event.Email != "" {
		fields = append(fields, logger.Email("email", event.Email))
	}
	for k, v := range event.Metadata {
		fields = append(fields, logger.String("meta."+k, v))
	}

	if event.Outcome == OutcomeSuccess {
		a.log.Info("audit", fields...)
	} else {
		a.log.Warn("audit", fields...)
	}
	return nil
}

// GetEvents always returns ErrQueryUnsupported.
func (a *LogAuditAdapter) GetEvents(context.Context, *EventQuery) ([]*AuditEvent, error) {
	return nil, ErrQueryUnsupported
}
