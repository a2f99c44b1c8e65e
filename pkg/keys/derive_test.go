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

package keys

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, ContextSize)
}

func TestDeriveSigningKey_Deterministic(t *testing.T) {
	ctx := testContext(0x42)

	first, err := DeriveSigningKey("user@example.com", ctx)
	require.NoError(t, err)
	second, err := DeriveSigningKey("user@example.com", ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, ed25519.PrivateKeySize)
}

func TestDeriveEncryptionKey_Deterministic(t *testing.T) {
	ctx := testContext(0x42)

	first, err := DeriveEncryptionKey("user@example.com", ctx)
	require.NoError(t, err)
	second, err := DeriveEncryptionKey("user@example.com", ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Private, second.Private)
	assert.Equal(t, first.Public, second.Public)
	assert.Len(t, first.Public, 32)
}

func TestDerive_SingleBitChangeYieldsUnrelatedKey(t *testing.T) {
	base := testContext(0x00)
	baseSign, err := DeriveSigningKey("user@example.com", base)
	require.NoError(t, err)
	baseEnc, err := DeriveEncryptionKey("user@example.com", base)
	require.NoError(t, err)

	for _, pos := range []int{0, 17, 63} {
		for bit := 0; bit < 8; bit++ {
			ctx := testContext(0x00)
			ctx[pos] ^= 1 << bit

			sign, err := DeriveSigningKey("user@example.com", ctx)
			require.NoError(t, err)
			enc, err := DeriveEncryptionKey("user@example.com", ctx)
			require.NoError(t, err)

			assert.NotEqual(t, baseSign.Seed(), sign.Seed())
			assert.NotEqual(t, baseEnc.Private, enc.Private)
			// unrelated means roughly half the bits differ, never a handful
			assert.Greater(t, hamming(baseSign.Seed(), sign.Seed()), 64)
			assert.Greater(t, hamming(baseEnc.Private, enc.Private), 64)
		}
	}
}

func TestDerive_SigningAndEncryptionIndependent(t *testing.T) {
	ctx := testContext(0x07)

	sign, err := DeriveSigningKey("user@example.com", ctx)
	require.NoError(t, err)
	enc, err := DeriveEncryptionKey("user@example.com", ctx)
	require.NoError(t, err)

	assert.NotEqual(t, sign.Seed(), enc.Private)
}

func TestDerive_EmailNormalized(t *testing.T) {
	ctx := testContext(0x01)

	a, err := DeriveSigningKey("User@Example.com ", ctx)
	require.NoError(t, err)
	b, err := DeriveSigningKey("user@example.com", ctx)
	require.NoError(t, err)
	c, err := DeriveSigningKey("other@example.com", ctx)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDerive_InvalidContextLength(t *testing.T) {
	for _, n := range []int{0, 1, 32, 63, 65, 128} {
		_, err := DeriveSigningKey("user@example.com", make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidContextLength, "length %d", n)

		_, err = DeriveEncryptionKey("user@example.com", make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidContextLength, "length %d", n)

		_, err = DeriveSeeds("user@example.com", make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidContextLength, "length %d", n)
	}
}

func TestDerivePublicKeys_MatchesDerivedKeys(t *testing.T) {
	ctx, err := NewContext()
	require.NoError(t, err)
	require.Len(t, ctx, ContextSize)

	signPub, encPub, err := DerivePublicKeys("user@example.com", ctx)
	require.NoError(t, err)

	sign, err := DeriveSigningKey("user@example.com", ctx)
	require.NoError(t, err)
	enc, err := DeriveEncryptionKey("user@example.com", ctx)
	require.NoError(t, err)

	assert.Equal(t, sign.Public(), signPub)
	assert.Equal(t, enc.Public, encPub)
}

func TestGenerateSeeds_Random(t *testing.T) {
	a, err := GenerateSeeds()
	require.NoError(t, err)
	b, err := GenerateSeeds()
	require.NoError(t, err)

	assert.NotEqual(t, a.Signing, b.Signing)
	assert.NotEqual(t, a.Signing, a.Encryption)

	a.Wipe()
	assert.Equal(t, make([]byte, SeedSize), a.Signing)
}

func hamming(a, b []byte) int {
	n := 0
	for i := range a {
		x := a[i] ^ b[i]
		for x != 0 {
			n += int(x & 1)
			x >>= 1
		}
	}
	return n
}
