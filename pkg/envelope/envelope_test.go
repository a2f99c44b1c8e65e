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

package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginRequest struct {
	Email            string `json:"email"`
	SigningPublicKey string `json:"signingPublicKey"`
	UIHost           string `json:"uiHost"`
	NextPath         string `json:"nextPath,omitempty"`
}

func newKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func testPayloads() []any {
	return []any{
		loginRequest{Email: "user@example.com", SigningPublicKey: "abc", UIHost: "app.example.com"},
		loginRequest{Email: "x@y.z", NextPath: "/generate?len=32&b=<a>"},
		map[string]any{"length": "32", "alphabet": "base58"},
		map[string]any{"nested": map[string]any{"z": []any{"1", "2"}, "a": true}},
		map[string]any{},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	pub, priv := newKey(t)

	for _, payload := range testPayloads() {
		env, err := Encode(payload, priv)
		require.NoError(t, err)

		var got any
		require.NoError(t, Decode(env, pub, &got))

		want := normalize(t, payload)
		assert.Equal(t, want, normalize(t, got))
	}
}

func TestEncodeDecode_Struct(t *testing.T) {
	pub, priv := newKey(t)
	in := loginRequest{Email: "user@example.com", SigningPublicKey: "k", UIHost: "h", NextPath: "/n"}

	env, err := Encode(in, priv)
	require.NoError(t, err)

	var out loginRequest
	require.NoError(t, Decode(env, pub, &out))
	assert.Equal(t, in, out)
}

func TestEncode_Deterministic(t *testing.T) {
	_, priv := newKey(t)

	a, err := Encode(map[string]any{"b": 1, "a": 2}, priv)
	require.NoError(t, err)
	b, err := Encode(map[string]any{"a": 2, "b": 1}, priv)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecode_TamperEveryBit(t *testing.T) {
	pub, priv := newKey(t)

	for _, payload := range testPayloads() {
		env, err := Encode(payload, priv)
		require.NoError(t, err)

		for i := 0; i < len(env.Payload); i++ {
			for bit := 0; bit < 8; bit++ {
				b := []byte(env.Payload)
				b[i] ^= 1 << bit
				tampered := &SignedEnvelope{Payload: string(b), Signature: env.Signature}
				var out any
				assert.ErrorIs(t, Decode(tampered, pub, &out), ErrSignatureInvalid)
			}
		}

		for i := 0; i < len(env.Signature); i++ {
			for bit := 0; bit < 8; bit++ {
				b := []byte(env.Signature)
				b[i] ^= 1 << bit
				tampered := &SignedEnvelope{Payload: env.Payload, Signature: string(b)}
				var out any
				assert.ErrorIs(t, Decode(tampered, pub, &out), ErrSignatureInvalid)
			}
		}
	}
}

func TestDecode_WrongKey(t *testing.T) {
	_, priv := newKey(t)
	other, _ := newKey(t)

	env, err := Encode(map[string]string{"k": "v"}, priv)
	require.NoError(t, err)

	var out any
	assert.ErrorIs(t, Decode(env, other, &out), ErrSignatureInvalid)
	assert.ErrorIs(t, Decode(env, nil, &out), ErrSignatureInvalid)
	assert.ErrorIs(t, Decode(nil, other, &out), ErrSignatureInvalid)
}

func TestDecode_MalformedAfterVerification(t *testing.T) {
	pub, priv := newKey(t)

	// a correctly signed payload that is not base64url JSON
	text := "bm90IGpzb24"
	sig := ed25519.Sign(priv, []byte(text))
	env := &SignedEnvelope{Payload: text, Signature: encoding.EncodeToString(sig)}

	var out map[string]any
	assert.ErrorIs(t, Decode(env, pub, &out), ErrPayloadMalformed)
}

func TestEncode_Errors(t *testing.T) {
	_, err := Encode(map[string]string{}, nil)
	assert.ErrorIs(t, err, ErrSignerRequired)

	_, priv := newKey(t)
	_, err = Encode(make(chan int), priv)
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	_, priv := newKey(t)
	env, err := Encode(map[string]string{"k": "v"}, priv)
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, env, parsed)

	_, err = Parse([]byte(`{"payload":""}`))
	assert.ErrorIs(t, err, ErrPayloadMalformed)
	_, err = Parse([]byte(`nope`))
	assert.ErrorIs(t, err, ErrPayloadMalformed)
}

func TestDetached(t *testing.T) {
	pub, priv := newKey(t)
	payload := map[string]any{"method": "GET", "path": "/api/v1/session", "timestamp": 1700000000}

	sig, err := SignDetached(payload, priv)
	require.NoError(t, err)
	require.NoError(t, VerifyDetached(payload, sig, pub))

	// key order in the verifier's view does not matter
	reordered := map[string]any{"timestamp": 1700000000, "path": "/api/v1/session", "method": "GET"}
	require.NoError(t, VerifyDetached(reordered, sig, pub))

	changed := map[string]any{"method": "POST", "path": "/api/v1/session", "timestamp": 1700000000}
	assert.ErrorIs(t, VerifyDetached(changed, sig, pub), ErrSignatureInvalid)
	assert.ErrorIs(t, VerifyDetached(payload, "!!", pub), ErrSignatureInvalid)
}

func normalize(t *testing.T, v any) any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}
