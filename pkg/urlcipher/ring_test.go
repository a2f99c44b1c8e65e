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
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(b byte) []byte {
	return bytes.Repeat([]byte{b}, SeedSize)
}

func TestSeedRing_EvictsOldest(t *testing.T) {
	ring := NewSeedRing(3)

	ids := make([]uint32, 0, 5)
	for i := byte(0); i < 5; i++ {
		id, err := ring.PutSeed(seed(i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	assert.Equal(t, 3, ring.Len())
	for i, id := range ids {
		got, ok := ring.Seed(id)
		if i < 2 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, seed(byte(i)), got)
	}
}

func TestSeedRing_NeverExceedsCapacity(t *testing.T) {
	ring := NewSeedRing(0)
	assert.Equal(t, DefaultRingCapacity, ring.Capacity())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = ring.PutSeed(seed(byte(i)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, DefaultRingCapacity, ring.Len())
}

func TestSeedRing_SnapshotRestore(t *testing.T) {
	ring := NewSeedRing(4)
	for i := byte(0); i < 4; i++ {
		_, err := ring.PutSeed(seed(i))
		require.NoError(t, err)
	}
	snap := ring.Snapshot()
	require.Len(t, snap, 4)

	smaller := NewSeedRing(2)
	smaller.Restore(snap)
	assert.Equal(t, 2, smaller.Len())

	_, ok := smaller.Seed(snap[0].ID)
	assert.False(t, ok)
	got, ok := smaller.Seed(snap[3].ID)
	require.True(t, ok)
	assert.Equal(t, seed(3), got)
}

func TestSeedRing_RejectsBadSeed(t *testing.T) {
	ring := NewSeedRing(0)
	_, err := ring.PutSeed([]byte{1})
	assert.Error(t, err)
}

func TestSeedRing_Clear(t *testing.T) {
	ring := NewSeedRing(0)
	id, err := ring.PutSeed(seed(9))
	require.NoError(t, err)

	ring.Clear()
	_, ok := ring.Seed(id)
	assert.False(t, ok)
	assert.Zero(t, ring.Len())
}
