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

// Package audit records security-relevant authentication events: links
// issued and redeemed, credentials refreshed and rotated, sessions ended
// and requests rejected. Applications plug in their own Adapter to ship
// the trail to durable storage.
package audit

import (
	"context"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	EventLinkIssued   EventType = "link.issued"
	EventLinkRedeemed EventType = "link.redeemed"

	EventCredentialRefresh EventType = "credential.refresh"
	EventCredentialRotate  EventType = "credential.rotate"

	EventAuthFailure EventType = "auth.failure"
	EventAuthLogout  EventType = "auth.logout"
)

// EventOutcome indicates the result of an operation
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
	OutcomeDenied  EventOutcome = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        string
	Timestamp time.Time
	EventType EventType
	Outcome   EventOutcome

	// UserID and Email identify the subject. Failures before the
	// subject is known leave them empty.
	UserID string
	Email  string

	// Reason carries the rejection code for failures.
	Reason string

	// KeyFingerprint is a short fingerprint of the client signing key
	// involved, never the key itself.
	KeyFingerprint string

	RequestID string
	SourceIP  string
	Metadata  map[string]string
}

// AuditAdapter provides audit logging capabilities.
type AuditAdapter interface {
	// LogEvent records an audit event. Implementations fill ID and
	// Timestamp when they are empty.
	LogEvent(ctx context.Context, event *AuditEvent) error

	// GetEvents returns events matching query, newest first.
	GetEvents(ctx context.Context, query *EventQuery) ([]*AuditEvent, error)
}

// EventQuery filters GetEvents. Zero fields match everything.
type EventQuery struct {
	EventTypes []EventType
	Outcome    EventOutcome
	UserID     string
	Since      time.Time
	Limit      int
}

func (q *EventQuery) matches(e *AuditEvent) bool {
	if len(q.EventTypes) > 0 {
		found := false
		for _, t := range q.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Outcome != "" && e.Outcome != q.Outcome {
		return false
	}
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	return true
}

// NoOpAuditAdapter discards every event.
type NoOpAuditAdapter struct{}

func (NoOpAuditAdapter) LogEvent(context.Context, *AuditEvent) error { return nil }

func (NoOpAuditAdapter) GetEvents(context.Context, *EventQuery) ([]*AuditEvent, error) {
	return nil, nil
}
