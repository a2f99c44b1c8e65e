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
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds a MemoryAuditAdapter created with capacity 0.
const DefaultCapacity = 1024

// MemoryAuditAdapter keeps the most recent events in a ring buffer. It is
// thread-safe and intended for development and tests; older events are
// overwritten once the buffer is full.
type MemoryAuditAdapter struct {
	mu     sync.RWMutex
	events []*AuditEvent
	next   int
	full   bool
	clock  func() time.Time
}

// NewMemoryAuditAdapter creates an adapter retaining capacity events.
func NewMemoryAuditAdapter(capacity int) *MemoryAuditAdapter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryAuditAdapter{
		events: make([]*AuditEvent, capacity),
		clock:  time.Now,
	}
}

// LogEvent records an audit event in memory
func (m *MemoryAuditAdapter) LogEvent(_ context.Context, event *AuditEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	stored := *event
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = m.clock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[m.next] = &stored
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// GetEvents returns matching events, newest first.
func (m *MemoryAuditAdapter) GetEvents(_ context.Context, query *EventQuery) ([]*AuditEvent, error) {
	if query == nil {
		query = &EventQuery{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.next
	if m.full {
		n = len(m.events)
	}
	results := make([]*AuditEvent, 0)
	for i := 1; i <= n; i++ {
		e := m.events[(m.next-i+len(m.events))%len(m.events)]
		if !query.matches(e) {
			continue
		}
		copied := *e
		results = append(results, &copied)
		if query.Limit > 0 && len(results) == query.Limit {
			break
		}
	}
	return results, nil
}

// Len returns the number of retained events.
func (m *MemoryAuditAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.events)
	}
	return m.next
}
