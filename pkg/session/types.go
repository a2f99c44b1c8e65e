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

package session

import (
	"crypto/ed25519"
	"time"

	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/urlcipher"
)

// SchemaVersion is the version of the persisted record layout.
const SchemaVersion = 1

// Record groups under storage.SessionPrefix.
const (
	groupSchema  = "schema"
	groupAuth    = "auth"
	groupKeys    = "keys"
	groupPeer    = "peer"
	groupTokens  = "tokens"
	groupPending = "pending"
	groupSeeds   = "seeds"
)

// User identifies the authenticated principal.
type User struct {
	ID    string
	Email string
}

// Credential is the access credential and the expiry hints that travel
// with it. The hints are advisory; only the server enforces expiry.
type Credential struct {
	Access           string
	Type             string
	AccessExpiresAt  time.Time
	RenewalIssuedAt  time.Time
	RenewalExpiresAt time.Time
}

// AuthData is the persisted authentication record.
type AuthData struct {
	UserID            string    `cbor:"user_id"`
	Email             string    `cbor:"email"`
	AccessCredential  string    `cbor:"access_credential"`
	CredentialType    string    `cbor:"credential_type"`
	AccessExpiresAt   time.Time `cbor:"access_expires_at"`
	RenewalIssuedAt   time.Time `cbor:"renewal_issued_at"`
	RenewalExpiresAt  time.Time `cbor:"renewal_expires_at"`
	LastRotatedWindow int       `cbor:"last_rotated_window"`
}

// Authenticated reports whether a holds an access credential.
func (a *AuthData) Authenticated() bool {
	return a != nil && a.AccessCredential != ""
}

// User returns the principal recorded in a.
func (a *AuthData) User() User {
	if a == nil {
		return User{}
	}
	return User{ID: a.UserID, Email: a.Email}
}

func (a *AuthData) clone() *AuthData {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func newAuthData(user User, cred Credential) *AuthData {
	return &AuthData{
		UserID:           user.ID,
		Email:            user.Email,
		AccessCredential: cred.Access,
		CredentialType:   cred.Type,
		AccessExpiresAt:  cred.AccessExpiresAt,
		RenewalIssuedAt:  cred.RenewalIssuedAt,
		RenewalExpiresAt: cred.RenewalExpiresAt,
	}
}

type schemaRecord struct {
	Version int `cbor:"version"`
}

type seedsRecord struct {
	Entries []urlcipher.SeedEntry `cbor:"entries"`
}

// Status summarizes the store without exposing secrets.
type Status struct {
	Authenticated    bool
	UserID           string
	Email            string
	PendingEmail     string
	AccessExpiresAt  time.Time
	RenewalIssuedAt  time.Time
	RenewalExpiresAt time.Time
	HasKeypair       bool
	Provider         string
	SigningPublicKey ed25519.PublicKey
	HasPeerKey       bool
	HasCryptoTokens  bool
	Seeds            int
	Generation       uint64
}

func keyRefEqual(a, b keys.KeyRef) bool {
	return a.Provider == b.Provider && a.Handle == b.Handle
}
