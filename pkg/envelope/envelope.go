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

// Package envelope implements the signed envelope used on every message of
// the authentication protocol.
//
// An envelope carries the base64url text of the canonical JSON of a message
// together with an Ed25519 signature over that text. Signing the encoded
// string means both ends sign and verify the exact bytes that travel on the
// wire. Decode verifies before it parses; a payload whose signature does not
// verify is never handed to the JSON decoder.
package envelope

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-zkauth/pkg/canonical"
)

var (
	// ErrSignatureInvalid is returned when an envelope or detached
	// signature does not verify under the expected key.
	ErrSignatureInvalid = errors.New("envelope: signature invalid")

	// ErrPayloadMalformed is returned when a verified payload cannot be
	// decoded.
	ErrPayloadMalformed = errors.New("envelope: payload malformed")

	// ErrSignerRequired is returned when Encode is called without a signer.
	ErrSignerRequired = errors.New("envelope: signer is required")
)

var encoding = base64.RawURLEncoding.Strict()

// SignedEnvelope is the wire form of a signed message.
type SignedEnvelope struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Encode canonicalizes payload, encodes it as base64url text and signs the
// text with signer.
func Encode(payload any, signer crypto.Signer) (*SignedEnvelope, error) {
	if signer == nil {
		return nil, ErrSignerRequired
	}
	raw, err := canonical.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}

	encoded := encoding.EncodeToString(raw)
	sig, err := signer.Sign(nil, []byte(encoded), crypto.Hash(0))
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to sign payload: %w", err)
	}
	return &SignedEnvelope{
		Payload:   encoded,
		Signature: encoding.EncodeToString(sig),
	}, nil
}

// Verify checks the envelope signature over the payload text.
func Verify(env *SignedEnvelope, key ed25519.PublicKey) error {
	if env == nil || len(key) != ed25519.PublicKeySize {
		return ErrSignatureInvalid
	}
	sig, err := encoding.DecodeString(env.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrSignatureInvalid
	}
	if !ed25519.Verify(key, []byte(env.Payload), sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// Decode verifies env under key and, only if the signature is valid,
// decodes its payload into out.
func Decode(env *SignedEnvelope, key ed25519.PublicKey, out any) error {
	if err := Verify(env, key); err != nil {
		return err
	}
	raw, err := encoding.DecodeString(env.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	return nil
}

// Parse unmarshals the JSON wire form of an envelope.
func Parse(data []byte) (*SignedEnvelope, error) {
	var env SignedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	if env.Payload == "" || env.Signature == "" {
		return nil, fmt.Errorf("%w: missing payload or signature", ErrPayloadMalformed)
	}
	return &env, nil
}

// SignDetached signs the canonical JSON of payload and returns the
// base64url signature. The payload itself is not returned.
func SignDetached(payload any, signer crypto.Signer) (string, error) {
	if signer == nil {
		return "", ErrSignerRequired
	}
	raw, err := canonical.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("envelope: %w", err)
	}
	sig, err := signer.Sign(nil, raw, crypto.Hash(0))
	if err != nil {
		return "", fmt.Errorf("envelope: failed to sign payload: %w", err)
	}
	return encoding.EncodeToString(sig), nil
}

// VerifyDetached verifies a signature produced by SignDetached.
func VerifyDetached(payload any, signature string, key ed25519.PublicKey) error {
	if len(key) != ed25519.PublicKeySize {
		return ErrSignatureInvalid
	}
	raw, err := canonical.Marshal(payload)
	if err != nil {
		return fmt.Errorf("envelope: %w", err)
	}
	sig, err := encoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrSignatureInvalid
	}
	if !ed25519.Verify(key, raw, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
