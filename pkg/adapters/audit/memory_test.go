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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
)

func TestMemoryAuditAdapter_LogEvent(t *testing.T) {
	m := NewMemoryAuditAdapter(8)
	ctx := context.Background()

	require.Error(t, m.LogEvent(ctx, nil))

	event := &AuditEvent{EventType: EventLinkIssued, Outcome: OutcomeSuccess, Email: "a@example.com"}
	require.NoError(t, m.LogEvent(ctx, event))
	assert.Empty(t, event.ID, "caller's event is not mutated")

	events, err := m.GetEvents(ctx, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, "a@example.com", events[0].Email)
}

func TestMemoryAuditAdapter_RingOverwritesOldest(t *testing.T) {
	m := NewMemoryAuditAdapter(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.LogEvent(ctx, &AuditEvent{
			EventType: EventCredentialRefresh,
			UserID:    fmt.Sprintf("user-%d", i),
		}))
	}
	assert.Equal(t, 3, m.Len())

	events, err := m.GetEvents(ctx, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "user-4", events[0].UserID)
	assert.Equal(t, "user-2", events[2].UserID)
}

func TestMemoryAuditAdapter_Query(t *testing.T) {
	m := NewMemoryAuditAdapter(0)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	log := []*AuditEvent{
		{EventType: EventLinkIssued, Outcome: OutcomeSuccess, UserID: "u1", Timestamp: base},
		{EventType: EventAuthFailure, Outcome: OutcomeDenied, Reason: "signature_invalid", Timestamp: base.Add(time.Minute)},
		{EventType: EventCredentialRotate, Outcome: OutcomeSuccess, UserID: "u1", Timestamp: base.Add(2 * time.Minute)},
		{EventType: EventAuthLogout, Outcome: OutcomeSuccess, UserID: "u2", Timestamp: base.Add(3 * time.Minute)},
	}
	for _, e := range log {
		require.NoError(t, m.LogEvent(ctx, e))
	}

	tests := []struct {
		name  string
		query *EventQuery
		want  int
	}{
		{"all", &EventQuery{}, 4},
		{"by type", &EventQuery{EventTypes: []EventType{EventAuthFailure, EventAuthLogout}}, 2},
		{"by outcome", &EventQuery{Outcome: OutcomeDenied}, 1},
		{"by user", &EventQuery{UserID: "u1"}, 2},
		{"since", &EventQuery{Since: base.Add(2 * time.Minute)}, 2},
		{"limit", &EventQuery{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := m.GetEvents(ctx, tt.query)
			require.NoError(t, err)
			assert.Len(t, events, tt.want)
		})
	}
}

func TestMemoryAuditAdapter_Concurrent(t *testing.T) {
	m := NewMemoryAuditAdapter(64)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = m.LogEvent(ctx, &AuditEvent{EventType: EventCredentialRefresh})
				_, _ = m.GetEvents(ctx, &EventQuery{Limit: 5})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, m.Len())
}

func TestNoOpAuditAdapter(t *testing.T) {
	var a AuditAdapter = NoOpAuditAdapter{}
	require.NoError(t, a.LogEvent(context.Background(), &AuditEvent{}))
	events, err := a.GetEvents(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

type captureLogger struct {
	logger.NoOpLogger
	infos, warns *[]string
}

func (c captureLogger) Info(msg string, _ ...logger.Field) { *c.infos = append(*c.infos, msg) }
func (c captureLogger) Warn(msg string, _ ...logger.Field) { *c.warns = append(*c.warns, msg) }
func (c captureLogger) With(...logger.Field) logger.Logger { return c }

func TestLogAuditAdapter(t *testing.T) {
	var infos, warns []string
	a := NewLogAuditAdapter(captureLogger{infos: &infos, warns: &warns})
	ctx := context.Background()

	require.NoError(t, a.LogEvent(ctx, &AuditEvent{EventType: EventLinkIssued, Outcome: OutcomeSuccess}))
	require.NoError(t, a.LogEvent(ctx, &AuditEvent{
		EventType: EventAuthFailure,
		Outcome:   OutcomeDenied,
		Reason:    "signature_invalid",
		Metadata:  map[string]string{"path": "/api/v1/session"},
	}))
	require.Error(t, a.LogEvent(ctx, nil))

	assert.Len(t, infos, 1)
	assert.Len(t, warns, 1)

	_, err := a.GetEvents(ctx, nil)
	assert.ErrorIs(t, err, ErrQueryUnsupported)
}
