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
	"crypto/sha256"
	"sync"
	"time"
)

// replayCache remembers the (user, nonce) pairs of accepted signed
// requests for ttl. Expired entries are purged lazily every purgeEach
// operations.
type replayCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	clock     func() time.Time
	entries   map[[32]byte]int64
	ops       uint64
	purgeEach uint64
}

func newReplayCache(ttl time.Duration, clock func() time.Time) *replayCache {
	return &replayCache{
		ttl:       ttl,
		clock:     clock,
		entries:   make(map[[32]byte]int64),
		purgeEach: 256,
	}
}

// checkAndMark returns false if (userID, nonce) was already seen.
func (rc *replayCache) checkAndMark(userID, nonce string) bool {
	key := sha256.Sum256([]byte(userID + "\x00" + nonce))
	now := rc.clock()
	nowSec := now.Unix()

	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.ops++
	if rc.ops%rc.purgeEach == 0 {
		for k, exp := range rc.entries {
			if exp < nowSec {
				delete(rc.entries, k)
			}
		}
	}

	if exp, ok := rc.entries[key]; ok && exp >= nowSec {
		return false
	}
	rc.entries[key] = now.Add(rc.ttl).Unix()
	return true
}

func (rc *replayCache) size() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}

// validateTimestamp checks that ts is within skew of now.
func validateTimestamp(now time.Time, ts int64, skew time.Duration) bool {
	delta := now.Sub(time.Unix(ts, 0))
	if delta < 0 {
		delta = -delta
	}
	return delta <= skew
}
