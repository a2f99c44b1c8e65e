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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/google/uuid"

	"github.com/jeremyhahn/go-zkauth/pkg/storage"
)

// CustodyPrefix is the storage key prefix for sealed seeds.
const CustodyPrefix = "custody/"

// CustodiedProvider seals private seeds to an age X25519 identity and
// stores them in a storage backend. Callers only ever see the opaque handle
// in the KeyRef; the seeds are unsealed inside the provider when a keypair
// is loaded.
type CustodiedProvider struct {
	identity *age.X25519Identity
	backend  storage.Backend
	live     liveSet
}

// NewCustodiedProvider returns a CustodiedProvider that seals to identity
// and stores sealed seeds in backend.
func NewCustodiedProvider(identity *age.X25519Identity, backend storage.Backend) (*CustodiedProvider, error) {
	if identity == nil {
		return nil, ErrIdentityRequired
	}
	if backend == nil {
		return nil, ErrBackendRequired
	}
	return &CustodiedProvider{identity: identity, backend: backend}, nil
}

// Name implements Provider.
func (p *CustodiedProvider) Name() string {
	return ProviderCustodied
}

// Generate implements Provider.
func (p *CustodiedProvider) Generate(ctx context.Context) (*Keypair, error) {
	seeds, err := GenerateSeeds()
	if err != nil {
		return nil, err
	}
	defer seeds.Wipe()
	return p.Import(ctx, seeds)
}

// Import implements Provider.
func (p *CustodiedProvider) Import(_ context.Context, seeds *Seeds) (*Keypair, error) {
	signPub, encPub, err := publicKeys(seeds)
	if err != nil {
		return nil, err
	}

	plain := make([]byte, 0, 2*SeedSize)
	plain = append(plain, seeds.Signing...)
	plain = append(plain, seeds.Encryption...)
	defer zero(plain)

	sealed, err := p.seal(plain)
	if err != nil {
		return nil, err
	}

	handle := uuid.NewString()
	if err := p.backend.Put(CustodyPrefix+handle, sealed, nil); err != nil {
		return nil, fmt.Errorf("keys: failed to store custodied key: %w", err)
	}

	ref := KeyRef{
		Provider:         ProviderCustodied,
		Handle:           handle,
		SigningPublic:    signPub,
		EncryptionPublic: encPub,
	}
	m := newMaterial(seeds)
	p.live.add(handle, m)
	return newKeypair(ref, m), nil
}

// Load implements Provider.
func (p *CustodiedProvider) Load(_ context.Context, ref KeyRef) (*Keypair, error) {
	if ref.Provider != ProviderCustodied {
		return nil, fmt.Errorf("%w: %s", ErrProviderMismatch, ref.Provider)
	}
	sealed, err := p.backend.Get(CustodyPrefix + ref.Handle)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrKeyDestroyed
		}
		return nil, fmt.Errorf("keys: failed to read custodied key: %w", err)
	}

	plain, err := p.open(sealed)
	if err != nil {
		return nil, err
	}
	defer zero(plain)
	if len(plain) != 2*SeedSize {
		return nil, fmt.Errorf("keys: custodied key has invalid length %d", len(plain))
	}

	seeds := &Seeds{Signing: plain[:SeedSize], Encryption: plain[SeedSize:]}
	if err := verifyRef(ref, seeds); err != nil {
		return nil, err
	}
	m := newMaterial(seeds)
	p.live.add(ref.Handle, m)
	return newKeypair(ref, m), nil
}

// Release implements Provider.
func (p *CustodiedProvider) Release(ref KeyRef) {
	p.live.release(ref.Handle)
}

// Destroy implements Provider.
func (p *CustodiedProvider) Destroy(_ context.Context, ref KeyRef) error {
	p.live.release(ref.Handle)
	if ref.Handle == "" {
		return nil
	}
	err := p.backend.Delete(CustodyPrefix + ref.Handle)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("keys: failed to delete custodied key: %w", err)
	}
	return nil
}

// Close implements Provider.
func (p *CustodiedProvider) Close() error {
	p.live.releaseAll()
	return nil
}

func (p *CustodiedProvider) seal(plain []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := age.Encrypt(&out, p.identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("keys: creating age encryptor: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("keys: writing to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("keys: finalizing age encryption: %w", err)
	}
	return out.Bytes(), nil
}

func (p *CustodiedProvider) open(sealed []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(sealed), p.identity)
	if err != nil {
		return nil, fmt.Errorf("keys: decrypting custodied key: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("keys: reading custodied key: %w", err)
	}
	return plain, nil
}

// GenerateIdentity creates a new age identity for key custody.
func GenerateIdentity() (*age.X25519Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("keys: generating age identity: %w", err)
	}
	return identity, nil
}

// LoadIdentity reads an age identity file. Comment lines are ignored and
// the first X25519 identity is returned.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: reading identity file: %w", err)
	}
	identities, err := age.ParseIdentities(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("keys: parsing identity file: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, ErrIdentityRequired
}

// WriteIdentity writes identity to path with owner-only permissions. An
// existing file is never overwritten.
func WriteIdentity(path string, identity *age.X25519Identity) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("keys: creating identity file: %w", err)
	}
	defer func() { _ = f.Close() }()

	content := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient().String(), identity.String())
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("keys: writing identity file: %w", err)
	}
	return nil
}
