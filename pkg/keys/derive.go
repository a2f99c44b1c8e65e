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
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

const (
	// ContextSize is the required length of a server-issued derivation context.
	// It is also the maximum BLAKE2b key size, so the full context keys the hash.
	ContextSize = 64

	// SeedSize is the size of a derived or generated private key seed.
	SeedSize = 32

	signingDomain    = "zkauth/derive/ed25519/v1"
	encryptionDomain = "zkauth/derive/x25519/v1"
)

// Seeds holds the two private seeds a Keypair is built from.
type Seeds struct {
	Signing    []byte
	Encryption []byte
}

// Wipe zeroes both seeds in place.
func (s *Seeds) Wipe() {
	if s == nil {
		return
	}
	zero(s.Signing)
	zero(s.Encryption)
}

// EncryptionKey is an X25519 key pair with its private scalar exposed.
type EncryptionKey struct {
	Private []byte
	Public  []byte
}

// NormalizeEmail returns the form of an email address that is fed into
// derivation. Callers that compare addresses should use the same form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewContext returns a fresh random derivation context.
func NewContext() ([]byte, error) {
	context := make([]byte, ContextSize)
	if _, err := rand.Read(context); err != nil {
		return nil, fmt.Errorf("keys: failed to generate context: %w", err)
	}
	return context, nil
}

// DeriveSigningKey deterministically derives an Ed25519 private key from an
// email address and a 64-byte context.
func DeriveSigningKey(email string, context []byte) (ed25519.PrivateKey, error) {
	seed, err := deriveSeed(signingDomain, email, context)
	if err != nil {
		return nil, err
	}
	defer zero(seed)
	return ed25519.NewKeyFromSeed(seed), nil
}

// DeriveEncryptionKey deterministically derives an X25519 key pair from an
// email address and a 64-byte context. The result is independent of the
// signing key derived from the same inputs.
func DeriveEncryptionKey(email string, context []byte) (*EncryptionKey, error) {
	seed, err := deriveSeed(encryptionDomain, email, context)
	if err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(seed, curve25519.Basepoint)
	if err != nil {
		zero(seed)
		return nil, fmt.Errorf("keys: failed to compute x25519 public key: %w", err)
	}
	return &EncryptionKey{Private: seed, Public: pub}, nil
}

// DeriveSeeds derives both seeds for (email, context). The result is suitable
// for Provider.Import.
func DeriveSeeds(email string, context []byte) (*Seeds, error) {
	signing, err := deriveSeed(signingDomain, email, context)
	if err != nil {
		return nil, err
	}
	encryption, err := deriveSeed(encryptionDomain, email, context)
	if err != nil {
		zero(signing)
		return nil, err
	}
	return &Seeds{Signing: signing, Encryption: encryption}, nil
}

// DerivePublicKeys returns the public halves of the keypair DeriveSeeds
// would produce, without retaining any private material.
func DerivePublicKeys(email string, context []byte) (ed25519.PublicKey, []byte, error) {
	seeds, err := DeriveSeeds(email, context)
	if err != nil {
		return nil, nil, err
	}
	defer seeds.Wipe()
	return publicKeys(seeds)
}

// GenerateSeeds returns fresh random seeds.
func GenerateSeeds() (*Seeds, error) {
	seeds := &Seeds{
		Signing:    make([]byte, SeedSize),
		Encryption: make([]byte, SeedSize),
	}
	if _, err := rand.Read(seeds.Signing); err != nil {
		return nil, fmt.Errorf("keys: failed to generate seed: %w", err)
	}
	if _, err := rand.Read(seeds.Encryption); err != nil {
		return nil, fmt.Errorf("keys: failed to generate seed: %w", err)
	}
	return seeds, nil
}

func deriveSeed(domain, email string, context []byte) ([]byte, error) {
	if len(context) != ContextSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidContextLength, len(context))
	}
	h, err := blake2b.New256(context)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to initialize keyed hash: %w", err)
	}
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write([]byte(NormalizeEmail(email)))
	return h.Sum(nil), nil
}

func publicKeys(seeds *Seeds) (ed25519.PublicKey, []byte, error) {
	if len(seeds.Signing) != SeedSize || len(seeds.Encryption) != SeedSize {
		return nil, nil, fmt.Errorf("keys: seeds must be %d bytes", SeedSize)
	}
	signPub := ed25519.NewKeyFromSeed(seeds.Signing).Public().(ed25519.PublicKey)
	encPub, err := curve25519.X25519(seeds.Encryption, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: failed to compute x25519 public key: %w", err)
	}
	return signPub, encPub, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
