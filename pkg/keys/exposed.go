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
	"fmt"

	"github.com/google/uuid"
)

// ExposedProvider keeps private seeds in process memory and writes them
// into the KeyRef so the session store can persist them.
type ExposedProvider struct {
	live liveSet
}

// NewExposedProvider returns an ExposedProvider.
func NewExposedProvider() *ExposedProvider {
	return &ExposedProvider{}
}

// Name implements Provider.
func (p *ExposedProvider) Name() string {
	return ProviderExposed
}

// Generate implements Provider.
func (p *ExposedProvider) Generate(ctx context.Context) (*Keypair, error) {
	seeds, err := GenerateSeeds()
	if err != nil {
		return nil, err
	}
	defer seeds.Wipe()
	return p.Import(ctx, seeds)
}

// Import implements Provider.
func (p *ExposedProvider) Import(_ context.Context, seeds *Seeds) (*Keypair, error) {
	signPub, encPub, err := publicKeys(seeds)
	if err != nil {
		return nil, err
	}
	ref := KeyRef{
		Provider:         ProviderExposed,
		Handle:           uuid.NewString(),
		SigningPublic:    signPub,
		EncryptionPublic: encPub,
		SigningSeed:      append([]byte(nil), seeds.Signing...),
		EncryptionSeed:   append([]byte(nil), seeds.Encryption...),
	}
	m := newMaterial(seeds)
	p.live.add(ref.Handle, m)
	return newKeypair(ref, m), nil
}

// Load implements Provider.
func (p *ExposedProvider) Load(_ context.Context, ref KeyRef) (*Keypair, error) {
	if ref.Provider != ProviderExposed {
		return nil, fmt.Errorf("%w: %s", ErrProviderMismatch, ref.Provider)
	}
	if len(ref.SigningSeed) == 0 || len(ref.EncryptionSeed) == 0 {
		return nil, ErrKeyDestroyed
	}
	seeds := &Seeds{Signing: ref.SigningSeed, Encryption: ref.EncryptionSeed}
	if err := verifyRef(ref, seeds); err != nil {
		return nil, err
	}
	m := newMaterial(seeds)
	p.live.add(ref.Handle, m)
	return newKeypair(ref, m), nil
}

// Release implements Provider.
func (p *ExposedProvider) Release(ref KeyRef) {
	p.live.release(ref.Handle)
}

// Destroy implements Provider. Exposed seeds live only in the reference,
// so destroying them is the caller's job once the in-memory copies are gone.
func (p *ExposedProvider) Destroy(_ context.Context, ref KeyRef) error {
	p.live.release(ref.Handle)
	return nil
}

// Close implements Provider.
func (p *ExposedProvider) Close() error {
	p.live.releaseAll()
	return nil
}
