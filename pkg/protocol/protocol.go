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

// Package protocol defines the wire messages, header names and error codes
// shared by the client and the reference server.
package protocol

import "encoding/json"

// HTTP paths.
const (
	PathLogin    = "/login"
	PathRefresh  = "/refresh"
	PathRotate   = "/rotate"
	PathResource = "/api/v1"
	PathSession  = "/api/v1/session"
)

// HTTP headers and cookies.
const (
	HeaderServerKey = "X-Zkauth-Server-Key"
	HeaderSignature = "X-Zkauth-Signature"
	HeaderTimestamp = "X-Zkauth-Timestamp"
	HeaderNonce     = "X-Zkauth-Nonce"
	RenewalCookie   = "zkauth_renewal"
	QueryMagicLink  = "magiclink"
	CredentialType  = "Bearer"
)

// RotationInfo is the HKDF info string binding a sealed rotation context.
const RotationInfo = "zkauth/rotation-context/v1"

// Link request statuses returned by the server.
const (
	StatusLinkSent = "link_sent"
)

// LoginRequest is signed by the client's current keypair and posted to
// /login.
type LoginRequest struct {
	Email               string `json:"email"`
	SigningPublicKey    string `json:"signingPublicKey"`
	EncryptionPublicKey string `json:"encryptionPublicKey"`
	UIHost              string `json:"uiHost"`
	NextPath            string `json:"nextPath,omitempty"`
	EmailLang           string `json:"emailLang,omitempty"`
}

// LoginResponse is signed by the server's session key.
type LoginResponse struct {
	ServerPublicKey string `json:"serverPublicKey"`
	Status          string `json:"status"`
	DevOnlyLink     string `json:"devOnlyLink,omitempty"`
}

// ValidateResponse is returned by GET /login?magiclink=<token>.
type ValidateResponse struct {
	AccessCredential string `json:"accessCredential"`
	CredentialType   string `json:"credentialType"`
	UserID           string `json:"userId"`
	Email            string `json:"email"`
	NextPath         string `json:"nextPath,omitempty"`
	AccessExpiresAt  int64  `json:"accessExpiresAt"`
	RenewalIssuedAt  int64  `json:"renewalIssuedAt"`
	RenewalExpiresAt int64  `json:"renewalExpiresAt"`
}

// RefreshResponse is returned by POST /refresh. RotationContext, when
// present, is a 64-byte derivation context sealed to the client's
// encryption key and encoded as base64url.
type RefreshResponse struct {
	AccessCredential string `json:"accessCredential"`
	ExpiresAt        int64  `json:"expiresAt"`
	RenewalIssuedAt  int64  `json:"renewalIssuedAt"`
	RenewalExpiresAt int64  `json:"renewalExpiresAt"`
	RotationContext  string `json:"rotationContext,omitempty"`
}

// RotateRequest is signed by the outgoing keypair and announces the new
// public keys.
type RotateRequest struct {
	Email                  string `json:"email"`
	NewSigningPublicKey    string `json:"newSigningPublicKey"`
	NewEncryptionPublicKey string `json:"newEncryptionPublicKey"`
	Derived                bool   `json:"derived"`
	Timestamp              int64  `json:"timestamp"`
}

// RotateResponse confirms a rotation. SigningPublicKey must equal the new
// key the client announced.
type RotateResponse struct {
	SigningPublicKey string `json:"signingPublicKey"`
	AccessCredential string `json:"accessCredential"`
	ExpiresAt        int64  `json:"expiresAt"`
	RenewalIssuedAt  int64  `json:"renewalIssuedAt"`
	RenewalExpiresAt int64  `json:"renewalExpiresAt"`
}

// SignedRequest is the content covered by the detached signature on a
// resource request.
type SignedRequest struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	Query     string `json:"query"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// Renewal is a proactive renewal piggybacked on a resource response.
type Renewal struct {
	AccessCredential string `json:"accessCredential"`
	ExpiresAt        int64  `json:"expiresAt"`
}

// ResourceResponse wraps the result of an authenticated resource request.
type ResourceResponse struct {
	Result  json.RawMessage `json:"result"`
	Renewal *Renewal        `json:"renewal,omitempty"`
}

// SessionInfo is the result of GET /api/v1/session.
type SessionInfo struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	ExpiresAt int64  `json:"expiresAt"`
}
