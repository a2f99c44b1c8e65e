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

// Package urlcipher encrypts small parameter maps into compact values that
// can be embedded in shareable URLs.
//
// A value is base58(version || seedID || ciphertext || tag):
//
//	version     1 byte
//	seedID      4 bytes, big endian, index into the SeedStore
//	ciphertext  XChaCha20-Poly1305 of the canonical JSON of the parameters
//	tag         16 byte keyed BLAKE2b over everything before it
//
// The nonce is never transmitted; it is derived from the seed and the
// nonce key with keyed BLAKE3.
package urlcipher

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jeremyhahn/go-zkauth/pkg/canonical"
)

// Version is the current value format.
const Version byte = 0x01

const (
	headerSize = 1 + 4
	tagSize    = 16
	minSize    = headerSize + chacha20poly1305.Overhead + tagSize
)

var (
	// ErrDecryptionFailed is returned for any malformed or tampered value.
	ErrDecryptionFailed = errors.New("urlcipher: decryption failed")

	// ErrSeedNotFound is returned when the value references a seed that
	// has been evicted or was never issued by this client.
	ErrSeedNotFound = errors.New("urlcipher: seed not found")

	// ErrInvalidTokens is returned when the token set is missing or has
	// keys of the wrong size.
	ErrInvalidTokens = errors.New("urlcipher: invalid token set")
)

// Encrypt encrypts params under tokens, registering a fresh seed in seeds.
func Encrypt(params map[string]string, tokens *TokenSet, seeds SeedStore) (string, error) {
	if !tokens.Valid() {
		return "", ErrInvalidTokens
	}
	plain, err := canonical.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("urlcipher: %w", err)
	}

	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("urlcipher: failed to generate seed: %w", err)
	}
	defer zero(seed)

	id, err := seeds.PutSeed(seed)
	if err != nil {
		return "", err
	}

	header := make([]byte, headerSize)
	header[0] = Version
	binary.BigEndian.PutUint32(header[1:], id)

	nonce, err := deriveNonce(tokens.NonceKey, seed, id)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(tokens.CipherKey)
	if err != nil {
		return "", fmt.Errorf("urlcipher: failed to create cipher: %w", err)
	}

	blob := make([]byte, headerSize, headerSize+len(plain)+aead.Overhead()+tagSize)
	copy(blob, header)
	blob = aead.Seal(blob, nonce, plain, header)
	tag, err := integrityTag(tokens.IntegrityKey, blob)
	if err != nil {
		return "", err
	}
	return base58.Encode(append(blob, tag...)), nil
}

// Decrypt reverses Encrypt. Any tamper yields ErrDecryptionFailed; an
// unknown seed id yields ErrSeedNotFound.
func Decrypt(value string, tokens *TokenSet, seeds SeedStore) (map[string]string, error) {
	if !tokens.Valid() {
		return nil, ErrInvalidTokens
	}
	raw, err := base58.Decode(value)
	if err != nil || len(raw) < minSize {
		return nil, ErrDecryptionFailed
	}

	blob, tag := raw[:len(raw)-tagSize], raw[len(raw)-tagSize:]
	want, err := integrityTag(tokens.IntegrityKey, blob)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(tag, want) != 1 {
		return nil, ErrDecryptionFailed
	}
	if blob[0] != Version {
		return nil, ErrDecryptionFailed
	}

	id := binary.BigEndian.Uint32(blob[1:headerSize])
	seed, ok := seeds.Seed(id)
	if !ok {
		return nil, ErrSeedNotFound
	}
	defer zero(seed)

	nonce, err := deriveNonce(tokens.NonceKey, seed, id)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(tokens.CipherKey)
	if err != nil {
		return nil, fmt.Errorf("urlcipher: failed to create cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, blob[headerSize:], blob[:headerSize])
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	params := make(map[string]string)
	if err := json.Unmarshal(plain, &params); err != nil {
		return nil, ErrDecryptionFailed
	}
	return params, nil
}

func deriveNonce(nonceKey, seed []byte, id uint32) ([]byte, error) {
	h, err := blake3.NewKeyed(nonceKey)
	if err != nil {
		return nil, fmt.Errorf("urlcipher: failed to initialize nonce hash: %w", err)
	}
	var idBytes [4]byte
	binary.BigEndian.PutUint32(idBytes[:], id)
	_, _ = h.Write(seed)
	_, _ = h.Write(idBytes[:])
	return h.Sum(nil)[:chacha20poly1305.NonceSizeX], nil
}

func integrityTag(key, blob []byte) ([]byte, error) {
	h, err := blake2b.New(tagSize, key)
	if err != nil {
		return nil, fmt.Errorf("urlcipher: failed to initialize integrity hash: %w", err)
	}
	h.Write(blob)
	return h.Sum(nil), nil
}
