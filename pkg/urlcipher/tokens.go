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
	"crypto/rand"
	"fmt"
)

// KeySize is the size of each key in a TokenSet.
const KeySize = 32

// TokenSet holds the three independent secrets used to protect URL
// parameters. It exists only while a session is authenticated.
type TokenSet struct {
	CipherKey    []byte `cbor:"cipher_key"`
	NonceKey     []byte `cbor:"nonce_key"`
	IntegrityKey []byte `cbor:"integrity_key"`
}

// NewTokenSet generates a TokenSet from fresh randomness.
func NewTokenSet() (*TokenSet, error) {
	t := &TokenSet{
		CipherKey:    make([]byte, KeySize),
		NonceKey:     make([]byte, KeySize),
		IntegrityKey: make([]byte, KeySize),
	}
	for _, k := range [][]byte{t.CipherKey, t.NonceKey, t.IntegrityKey} {
		if _, err := rand.Read(k); err != nil {
			return nil, fmt.Errorf("urlcipher: failed to generate key: %w", err)
		}
	}
	return t, nil
}

// Valid reports whether every key has the right size.
func (t *TokenSet) Valid() bool {
	return t != nil &&
		len(t.CipherKey) == KeySize &&
		len(t.NonceKey) == KeySize &&
		len(t.IntegrityKey) == KeySize
}

// Clone returns a deep copy.
func (t *TokenSet) Clone() *TokenSet {
	if t == nil {
		return nil
	}
	return &TokenSet{
		CipherKey:    append([]byte(nil), t.CipherKey...),
		NonceKey:     append([]byte(nil), t.NonceKey...),
		IntegrityKey: append([]byte(nil), t.IntegrityKey...),
	}
}

// Wipe zeroes all three keys in place.
func (t *TokenSet) Wipe() {
	if t == nil {
		return
	}
	zero(t.CipherKey)
	zero(t.NonceKey)
	zero(t.IntegrityKey)
}
