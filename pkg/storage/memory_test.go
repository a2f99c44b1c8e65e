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

package storage

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_PutAndGet(t *testing.T) {
	backend := NewMemory()
	defer func() { _ = backend.Close() }()

	key := "session/auth"
	value := []byte("test-value")

	require.NoError(t, backend.Put(key, value, nil))

	result, err := backend.Get(key)
	require.NoError(t, err)
	assert.Equal(t, value, result)
}

func TestMemoryBackend_Get_NotFound(t *testing.T) {
	backend := NewMemory()
	defer func() { _ = backend.Close() }()

	_, err := backend.Get("nonexistent-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackend_CopyIsolation(t *testing.T) {
	backend := NewMemory()
	defer func() { _ = backend.Close() }()

	value := []byte("original")
	require.NoError(t, backend.Put("k", value, OwnerOnly()))
	value[0] = 'X'

	result, err := backend.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), result)

	result[0] = 'Y'
	again, err := backend.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestMemoryBackend_Put_InvalidKey(t *testing.T) {
	backend := NewMemory()
	defer func() { _ = backend.Close() }()

	for _, key := range []string{"", "/abs", "../escape", "a/../../b", "nul\x00"} {
		assert.ErrorIs(t, backend.Put(key, []byte("v"), nil), ErrInvalidKey, "key %q", key)
	}
}

func TestMemoryBackend_Delete(t *testing.T) {
	backend := NewMemory()
	defer func() { _ = backend.Close() }()

	require.NoError(t, backend.Put("k", []byte("v"), nil))
	require.NoError(t, backend.Delete("k"))

	exists, err := backend.Exists("k")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, backend.Delete("k"), ErrNotFound)
}

func TestMemoryBackend_ListSorted(t *testing.T) {
	backend := NewMemory()
	defer func() { _ = backend.Close() }()

	for _, k := range []string{"session/tokens", "prefs/lang", "session/auth", "session/keys"} {
		require.NoError(t, backend.Put(k, []byte("v"), nil))
	}

	keys, err := backend.List("session/")
	require.NoError(t, err)
	assert.Equal(t, []string{"session/auth", "session/keys", "session/tokens"}, keys)

	all, err := backend.List("")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMemoryBackend_Closed(t *testing.T) {
	backend := NewMemory()
	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close())

	_, err := backend.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, backend.Put("k", nil, nil), ErrClosed)
	assert.ErrorIs(t, backend.Delete("k"), ErrClosed)
	_, err = backend.List("")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = backend.Exists("k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBackend_Concurrent(t *testing.T) {
	backend := NewMemory()
	defer func() { _ = backend.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := SessionKey("group")
			_ = backend.Put(key, []byte{byte(i)}, nil)
			_, _ = backend.Get(key)
			_, _ = backend.List(SessionPrefix)
		}(i)
	}
	wg.Wait()

	exists, err := backend.Exists(SessionKey("group"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryBackend_ZeroesOnReplaceAndClose(t *testing.T) {
	backend := NewMemory()

	require.NoError(t, backend.Put("session/keys", []byte("secret"), nil))
	first := backend.values["session/keys"]
	require.NoError(t, backend.Put("session/keys", []byte("rotated"), nil))
	assert.Equal(t, make([]byte, 6), first)
	assert.Equal(t, 1, backend.Len())

	held := backend.values["session/keys"]
	require.NoError(t, backend.Close())
	assert.Equal(t, make([]byte, 7), held)
	assert.Zero(t, backend.Len())
}

func TestKeyError(t *testing.T) {
	backend := NewMemory()
	defer func() { _ = backend.Close() }()

	_, err := backend.Get("prefs/lang")
	var ke *KeyError
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, "get", ke.Op)
	assert.Equal(t, "prefs/lang", ke.Key)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, `storage: get "prefs/lang": storage: not found`, err.Error())
}

func TestOptionsFileMode(t *testing.T) {
	var nilOpts *Options
	assert.Equal(t, OwnerOnlyMode, nilOpts.FileMode())
	assert.Equal(t, OwnerOnlyMode, (&Options{}).FileMode())
	assert.Equal(t, OwnerOnlyMode, OwnerOnly().FileMode())
	assert.Equal(t, os.FileMode(0640), (&Options{Mode: 0640}).FileMode())
}
