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
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const sealedOverhead = curve25519.PointSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// Seal encrypts plaintext to an X25519 public key. The output is
//
//	ephemeralPublic(32) || nonce(24) || XChaCha20-Poly1305 ciphertext
//
// keyed by HKDF-SHA256 over the ephemeral shared secret, salted with both
// public keys and bound to info.
func Seal(recipient, plaintext, info []byte) ([]byte, error) {
	if len(recipient) != curve25519.PointSize {
		return nil, ErrInvalidPublicKey
	}

	eph := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(eph); err != nil {
		return nil, fmt.Errorf("keys: failed to generate ephemeral key: %w", err)
	}
	defer zero(eph)

	ephPub, err := curve25519.X25519(eph, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to compute ephemeral public key: %w", err)
	}
	shared, err := curve25519.X25519(eph, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	defer zero(shared)

	aead, err := sealKey(shared, ephPub, recipient, info)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, sealedOverhead+len(plaintext))
	out = append(out, ephPub...)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keys: failed to generate nonce: %w", err)
	}
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, ephPub), nil
}

// Open decrypts a box produced by Seal for ka's public key.
func Open(ka KeyAgreement, sealed, info []byte) ([]byte, error) {
	if len(sealed) < sealedOverhead {
		return nil, ErrSealedBoxInvalid
	}
	ephPub := sealed[:curve25519.PointSize]
	nonce := sealed[curve25519.PointSize : curve25519.PointSize+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[curve25519.PointSize+chacha20poly1305.NonceSizeX:]

	shared, err := ka.SharedKey(ephPub)
	if err != nil {
		return nil, err
	}
	defer zero(shared)

	aead, err := sealKey(shared, ephPub, ka.PublicKey(), info)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, ciphertext, ephPub)
	if err != nil {
		return nil, ErrSealedBoxInvalid
	}
	return plain, nil
}

func sealKey(shared, ephPub, recipient, info []byte) (cipher.AEAD, error) {
	salt := make([]byte, 0, 2*curve25519.PointSize)
	salt = append(salt, ephPub...)
	salt = append(salt, recipient...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, info), key); err != nil {
		return nil, fmt.Errorf("keys: failed to derive seal key: %w", err)
	}
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to create cipher: %w", err)
	}
	return aead, nil
}
