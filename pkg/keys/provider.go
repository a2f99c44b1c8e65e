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

	"filippo.io/age"

	"github.com/jeremyhahn/go-zkauth/pkg/storage"
)

const (
	// ProviderExposed names the provider that keeps raw seeds in memory and
	// in the persisted KeyRef.
	ProviderExposed = "exposed"

	// ProviderCustodied names the provider that seals seeds to an age
	// identity and hands out only opaque handles.
	ProviderCustodied = "custodied"
)

// Provider creates and restores keypairs. One Provider is selected at
// startup and used for the lifetime of the process.
type Provider interface {
	// Name returns ProviderExposed or ProviderCustodied.
	Name() string

	// Generate creates a fresh random keypair.
	Generate(ctx context.Context) (*Keypair, error)

	// Import creates a keypair from caller-supplied seeds. The seeds are
	// copied and may be wiped by the caller afterwards.
	Import(ctx context.Context, seeds *Seeds) (*Keypair, error)

	// Load restores a keypair from a reference previously returned by
	// this provider.
	Load(ctx context.Context, ref KeyRef) (*Keypair, error)

	// Release invalidates every in-memory keypair created for ref
	// without touching persisted material.
	Release(ref KeyRef)

	// Destroy releases ref and removes any material the provider
	// persisted for it.
	Destroy(ctx context.Context, ref KeyRef) error

	// Close releases every in-memory keypair.
	Close() error
}

// ProviderOptions describes the capabilities available to SelectProvider.
type ProviderOptions struct {
	// Identity is the age identity used to seal custodied seeds.
	Identity *age.X25519Identity

	// Backend stores sealed seeds.
	Backend storage.Backend
}

// SelectProvider returns a CustodiedProvider when an identity and a backend
// are available, and an ExposedProvider otherwise.
func SelectProvider(opts ProviderOptions) Provider {
	if opts.Identity != nil && opts.Backend != nil {
		p, err := NewCustodiedProvider(opts.Identity, opts.Backend)
		if err == nil {
			return p
		}
	}
	return NewExposedProvider()
}

// GenerateEphemeralKeypair returns a fresh random keypair for first contact,
// before any server-issued context exists.
func GenerateEphemeralKeypair(ctx context.Context, p Provider) (*Keypair, error) {
	return p.Generate(ctx)
}
