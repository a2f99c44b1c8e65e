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
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// EncodeKey returns the unpadded base64url text form of a public key.
func EncodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// ParseSigningPublicKey parses the text form of an Ed25519 public key.
func ParseSigningPublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: signing key", ErrInvalidPublicKey)
	}
	return ed25519.PublicKey(raw), nil
}

// ParseEncryptionPublicKey parses the text form of an X25519 public key.
func ParseEncryptionPublicKey(s string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != curve25519.PointSize {
		return nil, fmt.Errorf("%w: encryption key", ErrInvalidPublicKey)
	}
	return raw, nil
}
