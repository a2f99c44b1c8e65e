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
	"sync"
	"time"
)

// rotationState is the derivation context sealed to a client on its last
// refresh, waiting for the matching /rotate.
type rotationState struct {
	context   []byte
	expiresAt time.Time
}

type rotationStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	pending map[string]rotationState
}

func newRotationStore(ttl time.Duration, clock func() time.Time) *rotationStore {
	return &rotationStore{
		ttl:     ttl,
		clock:   clock,
		pending: make(map[string]rotationState),
	}
}

// put replaces the pending context of userID.
func (rs *rotationStore) put(userID string, context []byte) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if old, ok := rs.pending[userID]; ok {
		wipe(old.context)
	}
	rs.pending[userID] = rotationState{
		context:   context,
		expiresAt: rs.clock().Add(rs.ttl),
	}
}

// take removes and returns the pending context of userID. The caller owns
// the returned slice.
func (rs *rotationStore) take(userID string) ([]byte, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	st, ok := rs.pending[userID]
	if !ok {
		return nil, false
	}
	delete(rs.pending, userID)
	if !rs.clock().Before(st.expiresAt) {
		wipe(st.context)
		return nil, false
	}
	return st.context, true
}

func (rs *rotationStore) size() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.pending)
}

// revocationList holds renewal credential IDs invalidated by logout until
// they would have expired anyway.
type revocationList struct {
	mu      sync.Mutex
	clock   func() time.Time
	revoked map[string]time.Time
}

func newRevocationList(clock func() time.Time) *revocationList {
	return &revocationList{
		clock:   clock,
		revoked: make(map[string]time.Time),
	}
}

func (rl *revocationList) revoke(id string, until time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock()
	for k, exp := range rl.revoked {
		if !now.Before(exp) {
			delete(rl.revoked, k)
		}
	}
	rl.revoked[id] = until
}

func (rl *revocationList) isRevoked(id string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	_, ok := rl.revoked[id]
	return ok
}

func (rl *revocationList) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.revoked)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
