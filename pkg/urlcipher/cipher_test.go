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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func newTokens(t *testing.T) *TokenSet {
	t.Helper()
	tokens, err := NewTokenSet()
	require.NoError(t, err)
	require.True(t, tokens.Valid())
	return tokens
}

func TestEncryptDecrypt_ScenarioB(t *testing.T) {
	tokens := newTokens(t)
	ring := NewSeedRing(0)
	params := map[string]string{"length": "32", "alphabet": "base58"}

	value, err := Encrypt(params, tokens, ring)
	require.NoError(t, err)
	for _, c := range value {
		assert.True(t, strings.ContainsRune(base58Alphabet, c), "unexpected character %q", c)
	}

	got, err := Decrypt(value, tokens, ring)
	require.NoError(t, err)
	assert.Equal(t, params, got)

	// corrupting any single character fails, and fails the same way twice
	for i := range value {
		corrupted := replaceAt(value, i)
		_, err1 := Decrypt(corrupted, tokens, ring)
		_, err2 := Decrypt(corrupted, tokens, ring)
		assert.ErrorIs(t, err1, ErrDecryptionFailed, "position %d", i)
		assert.Equal(t, err1, err2)
	}
}

func TestEncrypt_FreshSeedPerCall(t *testing.T) {
	tokens := newTokens(t)
	ring := NewSeedRing(0)
	params := map[string]string{"k": "v"}

	a, err := Encrypt(params, tokens, ring)
	require.NoError(t, err)
	b, err := Encrypt(params, tokens, ring)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, ring.Len())
}

func TestDecrypt_WrongTokens(t *testing.T) {
	ring := NewSeedRing(0)
	value, err := Encrypt(map[string]string{"k": "v"}, newTokens(t), ring)
	require.NoError(t, err)

	_, err = Decrypt(value, newTokens(t), ring)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecrypt_ForeignSeed(t *testing.T) {
	tokens := newTokens(t)
	value, err := Encrypt(map[string]string{"k": "v"}, tokens, NewSeedRing(0))
	require.NoError(t, err)

	_, err = Decrypt(value, tokens, NewSeedRing(0))
	assert.ErrorIs(t, err, ErrSeedNotFound)
}

func TestDecrypt_Garbage(t *testing.T) {
	tokens := newTokens(t)
	ring := NewSeedRing(0)

	for _, v := range []string{"", "0OIl", "2", strings.Repeat("z", 80)} {
		_, err := Decrypt(v, tokens, ring)
		assert.ErrorIs(t, err, ErrDecryptionFailed, "value %q", v)
	}
}

func TestEncryptDecrypt_InvalidTokens(t *testing.T) {
	ring := NewSeedRing(0)
	_, err := Encrypt(map[string]string{}, nil, ring)
	assert.ErrorIs(t, err, ErrInvalidTokens)
	_, err = Decrypt("abc", &TokenSet{CipherKey: []byte{1}}, ring)
	assert.ErrorIs(t, err, ErrInvalidTokens)
}

func TestFIFOEviction(t *testing.T) {
	tokens := newTokens(t)
	ring := NewSeedRing(DefaultRingCapacity)

	const extra = 5
	values := make([]string, 0, DefaultRingCapacity+extra)
	for i := 0; i < DefaultRingCapacity+extra; i++ {
		v, err := Encrypt(map[string]string{"i": string(rune('a' + i))}, tokens, ring)
		require.NoError(t, err)
		values = append(values, v)
	}
	assert.Equal(t, DefaultRingCapacity, ring.Len())

	for i, v := range values {
		got, err := Decrypt(v, tokens, ring)
		if i < extra {
			assert.ErrorIs(t, err, ErrSeedNotFound, "value %d should be evicted", i)
			continue
		}
		require.NoError(t, err, "value %d should resolve", i)
		assert.Equal(t, string(rune('a'+i)), got["i"])
	}
}

func TestTokenSet_CloneAndWipe(t *testing.T) {
	tokens := newTokens(t)
	clone := tokens.Clone()
	assert.Equal(t, tokens, clone)

	tokens.Wipe()
	assert.Equal(t, make([]byte, KeySize), tokens.CipherKey)
	assert.NotEqual(t, tokens.CipherKey, clone.CipherKey)
	assert.Nil(t, (*TokenSet)(nil).Clone())
}

func replaceAt(s string, i int) string {
	b := []byte(s)
	for _, c := range []byte(base58Alphabet) {
		if c != b[i] {
			b[i] = c
			break
		}
	}
	return string(b)
}
