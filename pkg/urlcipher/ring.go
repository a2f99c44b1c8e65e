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

package urlcipher

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
)

// DefaultRingCapacity is the number of seeds a SeedRing keeps.
const DefaultRingCapacity = 20

// SeedSize is the size of a prehash seed.
const SeedSize = 32

// SeedStore holds the prehash seeds referenced by encrypted values.
type SeedStore interface {
	// PutSeed stores seed and returns the id it can be found under.
	PutSeed(seed []byte) (uint32, error)

	// Seed returns the seed stored under id.
	Seed(id uint32) ([]byte, bool)
}

// SeedEntry is one seed in insertion order.
type SeedEntry struct {
	ID   uint32 `cbor:"id"`
	Seed []byte `cbor:"seed"`
}

// SeedRing is a bounded FIFO of seeds. Inserting beyond capacity evicts the
// oldest seed. Ids are random so that values encrypted by another client
// fail with ErrSeedNotFound rather than resolving to an unrelated seed.
type SeedRing struct {
	mu       sync.RWMutex
	capacity int
	entries  []SeedEntry
}

// NewSeedRing returns an empty ring. A capacity below one selects
// DefaultRingCapacity.
func NewSeedRing(capacity int) *SeedRing {
	if capacity < 1 {
		capacity = DefaultRingCapacity
	}
	return &SeedRing{capacity: capacity}
}

// Capacity returns the maximum number of seeds the ring holds.
func (r *SeedRing) Capacity() int {
	return r.capacity
}

// Len returns the number of seeds currently held.
func (r *SeedRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// PutSeed implements SeedStore.
func (r *SeedRing) PutSeed(seed []byte) (uint32, error) {
	if len(seed) != SeedSize {
		return 0, fmt.Errorf("urlcipher: seed must be %d bytes", SeedSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.newIDLocked()
	if err != nil {
		return 0, err
	}
	r.entries = append(r.entries, SeedEntry{ID: id, Seed: append([]byte(nil), seed...)})
	if over := len(r.entries) - r.capacity; over > 0 {
		for i := 0; i < over; i++ {
			zero(r.entries[i].Seed)
		}
		r.entries = append([]SeedEntry(nil), r.entries[over:]...)
	}
	return id, nil
}

// Seed implements SeedStore.
func (r *SeedRing) Seed(id uint32) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.ID == id {
			return append([]byte(nil), e.Seed...), true
		}
	}
	return nil, false
}

// Snapshot returns a copy of the ring contents, oldest first.
func (r *SeedRing) Snapshot() []SeedEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SeedEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = SeedEntry{ID: e.ID, Seed: append([]byte(nil), e.Seed...)}
	}
	return out
}

// Restore replaces the ring contents with entries, keeping only the newest
// capacity-many.
func (r *SeedRing) Restore(entries []SeedEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if over := len(entries) - r.capacity; over > 0 {
		entries = entries[over:]
	}
	r.entries = make([]SeedEntry, 0, len(entries))
	for _, e := range entries {
		if len(e.Seed) != SeedSize {
			continue
		}
		r.entries = append(r.entries, SeedEntry{ID: e.ID, Seed: append([]byte(nil), e.Seed...)})
	}
}

// Clear wipes every seed.
func (r *SeedRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		zero(e.Seed)
	}
	r.entries = nil
}

func (r *SeedRing) newIDLocked() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("urlcipher: failed to generate seed id: %w", err)
		}
		id := binary.BigEndian.Uint32(buf[:])
		if !r.hasLocked(id) {
			return id, nil
		}
	}
}

func (r *SeedRing) hasLocked(id uint32) bool {
	for _, e := range r.entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
