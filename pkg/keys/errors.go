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

import "errors"

var (
	// ErrInvalidContextLength is returned when a derivation context is not
	// exactly ContextSize bytes.
	ErrInvalidContextLength = errors.New("keys: derivation context must be exactly 64 bytes")

	// ErrInvalidPublicKey is returned when a public key has the wrong size or
	// does not match the key material it claims to describe.
	ErrInvalidPublicKey = errors.New("keys: invalid public key")

	// ErrKeyDestroyed is returned by signers and key agreements whose
	// underlying material has been released or destroyed.
	ErrKeyDestroyed = errors.New("keys: key material destroyed")

	// ErrProviderMismatch is returned when a KeyRef is handed to a provider
	// that did not create it.
	ErrProviderMismatch = errors.New("keys: key reference belongs to another provider")

	// ErrIdentityRequired is returned when custody is requested without an
	// age identity.
	ErrIdentityRequired = errors.New("keys: custody identity is required")

	// ErrBackendRequired is returned when custody is requested without a
	// storage backend.
	ErrBackendRequired = errors.New("keys: storage backend is required")

	// ErrSealedBoxInvalid is returned when a sealed box cannot be opened.
	ErrSealedBoxInvalid = errors.New("keys: sealed box invalid")

	// ErrInvalidSignerOpts is returned when a hash function is requested for
	// an Ed25519 signature.
	ErrInvalidSignerOpts = errors.New("keys: ed25519 signs the message directly, hash must be zero")
)
