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
	"context"
	"crypto"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-zkauth/pkg/storage"
)

func newCustodied(t *testing.T) (*CustodiedProvider, storage.Backend) {
	t.Helper()
	identity, err := GenerateIdentity()
	require.NoError(t, err)
	backend := storage.NewMemory()
	t.Cleanup(func() { _ = backend.Close() })

	p, err := NewCustodiedProvider(identity, backend)
	require.NoError(t, err)
	return p, backend
}

func providers(t *testing.T) map[string]Provider {
	custodied, _ := newCustodied(t)
	return map[string]Provider{
		ProviderExposed:   NewExposedProvider(),
		ProviderCustodied: custodied,
	}
}

func TestProvider_GenerateSignVerify(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			kp, err := GenerateEphemeralKeypair(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, name, kp.Ref().Provider)

			msg := []byte("payload")
			sig, err := kp.Signer().Sign(nil, msg, crypto.Hash(0))
			require.NoError(t, err)
			assert.True(t, ed25519.Verify(kp.SigningPublicKey(), msg, sig))

			_, err = kp.Signer().Sign(nil, msg, crypto.SHA256)
			assert.ErrorIs(t, err, ErrInvalidSignerOpts)
		})
	}
}

func TestProvider_ImportMatchesDerivation(t *testing.T) {
	ctx := testContext(0x33)
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			seeds, err := DeriveSeeds("user@example.com", ctx)
			require.NoError(t, err)

			kp, err := p.Import(context.Background(), seeds)
			require.NoError(t, err)
			seeds.Wipe()

			signPub, encPub, err := DerivePublicKeys("user@example.com", ctx)
			require.NoError(t, err)
			assert.Equal(t, signPub, kp.SigningPublicKey())
			assert.Equal(t, encPub, kp.EncryptionPublicKey())

			sig, err := kp.Signer().Sign(nil, []byte("m"), nil)
			require.NoError(t, err)
			assert.True(t, ed25519.Verify(signPub, []byte("m"), sig))
		})
	}
}

func TestProvider_LoadFromRef(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			kp, err := p.Generate(context.Background())
			require.NoError(t, err)

			loaded, err := p.Load(context.Background(), kp.Ref())
			require.NoError(t, err)
			assert.Equal(t, kp.SigningPublicKey(), loaded.SigningPublicKey())

			a, err := kp.KeyAgreement().SharedKey(loaded.EncryptionPublicKey())
			require.NoError(t, err)
			b, err := loaded.KeyAgreement().SharedKey(kp.EncryptionPublicKey())
			require.NoError(t, err)
			assert.Equal(t, a, b)
		})
	}
}

func TestProvider_ReleaseInvalidatesSigners(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			kp, err := p.Generate(context.Background())
			require.NoError(t, err)
			second, err := p.Load(context.Background(), kp.Ref())
			require.NoError(t, err)

			p.Release(kp.Ref())

			assert.True(t, kp.Released())
			assert.True(t, second.Released())
			_, err = kp.Signer().Sign(nil, []byte("m"), nil)
			assert.ErrorIs(t, err, ErrKeyDestroyed)
			_, err = second.KeyAgreement().SharedKey(kp.EncryptionPublicKey())
			assert.ErrorIs(t, err, ErrKeyDestroyed)

			// persisted material survives a release
			again, err := p.Load(context.Background(), kp.Ref())
			require.NoError(t, err)
			assert.False(t, again.Released())
		})
	}
}

func TestCustodiedProvider_RefCarriesNoSeeds(t *testing.T) {
	p, backend := newCustodied(t)

	kp, err := p.Generate(context.Background())
	require.NoError(t, err)

	ref := kp.Ref()
	assert.Empty(t, ref.SigningSeed)
	assert.Empty(t, ref.EncryptionSeed)
	assert.NotEmpty(t, ref.Handle)

	sealed, err := backend.Get(CustodyPrefix + ref.Handle)
	require.NoError(t, err)
	assert.NotEmpty(t, sealed)
}

func TestCustodiedProvider_Destroy(t *testing.T) {
	p, backend := newCustodied(t)

	kp, err := p.Generate(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Destroy(context.Background(), kp.Ref()))

	_, err = kp.Signer().Sign(nil, []byte("m"), nil)
	assert.ErrorIs(t, err, ErrKeyDestroyed)

	exists, err := backend.Exists(CustodyPrefix + kp.Ref().Handle)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = p.Load(context.Background(), kp.Ref())
	assert.ErrorIs(t, err, ErrKeyDestroyed)

	// destroying twice is harmless
	assert.NoError(t, p.Destroy(context.Background(), kp.Ref()))
}

func TestProvider_LoadRejectsForeignRef(t *testing.T) {
	custodied, _ := newCustodied(t)
	exposed := NewExposedProvider()

	kp, err := exposed.Generate(context.Background())
	require.NoError(t, err)

	_, err = custodied.Load(context.Background(), kp.Ref())
	assert.ErrorIs(t, err, ErrProviderMismatch)
}

func TestExposedProvider_LoadRejectsTamperedRef(t *testing.T) {
	p := NewExposedProvider()
	kp, err := p.Generate(context.Background())
	require.NoError(t, err)

	ref := kp.Ref()
	ref.SigningPublic = append([]byte(nil), ref.SigningPublic...)
	ref.SigningPublic[0] ^= 0xff

	_, err = p.Load(context.Background(), ref)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestSelectProvider(t *testing.T) {
	assert.Equal(t, ProviderExposed, SelectProvider(ProviderOptions{}).Name())

	identity, err := GenerateIdentity()
	require.NoError(t, err)
	assert.Equal(t, ProviderExposed, SelectProvider(ProviderOptions{Identity: identity}).Name())

	p := SelectProvider(ProviderOptions{Identity: identity, Backend: storage.NewMemory()})
	assert.Equal(t, ProviderCustodied, p.Name())
}

func TestNewCustodiedProvider_Requirements(t *testing.T) {
	_, err := NewCustodiedProvider(nil, storage.NewMemory())
	assert.ErrorIs(t, err, ErrIdentityRequired)

	identity, err := GenerateIdentity()
	require.NoError(t, err)
	_, err = NewCustodiedProvider(identity, nil)
	assert.ErrorIs(t, err, ErrBackendRequired)
}

func TestProvider_Close(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			kp, err := p.Generate(context.Background())
			require.NoError(t, err)
			require.NoError(t, p.Close())
			assert.True(t, kp.Released())
		})
	}
}
