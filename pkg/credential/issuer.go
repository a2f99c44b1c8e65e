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

// Package credential issues and verifies the access and renewal
// credentials handed out by the reference server. Both are EdDSA JWTs
// bound to the client's signing public key; the renewal credential also
// carries the encryption public key that rotation contexts are sealed to.
package credential

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access from renewal credentials.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRenewal Kind = "renewal"
)

const (
	DefaultIssuer     = "go-zkauth"
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRenewalTTL = 7 * 24 * time.Hour
)

var (
	// ErrExpired is returned when a credential is past its expiry. Claims
	// are still returned alongside it.
	ErrExpired = errors.New("credential: expired")

	// ErrInvalid is returned for malformed or forged credentials.
	ErrInvalid = errors.New("credential: invalid")

	// ErrWrongKind is returned when a renewal credential is presented as
	// an access credential or vice versa.
	ErrWrongKind = errors.New("credential: wrong kind")
)

// Claims are the JWT claims of both credential kinds.
type Claims struct {
	Kind          Kind   `json:"knd"`
	Email         string `json:"email"`
	SigningKey    string `json:"spk"`
	EncryptionKey string `json:"epk,omitempty"`
	jwt.RegisteredClaims
}

// Subject identifies who a credential is issued to and which keys it is
// bound to.
type Subject struct {
	UserID        string
	Email         string
	SigningKey    string
	EncryptionKey string
}

// Config contains configuration for the Issuer.
type Config struct {
	// PrivateKey signs every credential (required)
	PrivateKey ed25519.PrivateKey
	// Issuer is the JWT issuer claim (default: "go-zkauth")
	Issuer string
	// Audience is the JWT audience claim (default: Issuer)
	Audience string
	// AccessTTL is how long access credentials are valid (default: 15m)
	AccessTTL time.Duration
	// RenewalTTL is how long renewal credentials are valid (default: 7d)
	RenewalTTL time.Duration
	// KeyID is the key identifier for the kid header (optional)
	KeyID string
	// Clock defaults to time.Now
	Clock func() time.Time
}

// Issuer signs and verifies credentials.
type Issuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	renewalTTL time.Duration
	keyID      string
	clock      func() time.Time
}

// NewIssuer creates a new Issuer with the given configuration.
func NewIssuer(config *Config) (*Issuer, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(config.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key is required")
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	audience := config.Audience
	if audience == "" {
		audience = issuer
	}
	accessTTL := config.AccessTTL
	if accessTTL == 0 {
		accessTTL = DefaultAccessTTL
	}
	renewalTTL := config.RenewalTTL
	if renewalTTL == 0 {
		renewalTTL = DefaultRenewalTTL
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Issuer{
		privateKey: config.PrivateKey,
		publicKey:  config.PrivateKey.Public().(ed25519.PublicKey),
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		renewalTTL: renewalTTL,
		keyID:      config.KeyID,
		clock:      clock,
	}, nil
}

// IssueAccess returns a fresh access credential and its expiry.
func (i *Issuer) IssueAccess(sub Subject) (string, time.Time, error) {
	now := i.clock()
	exp := now.Add(i.accessTTL)
	token, err := i.sign(KindAccess, sub, now, exp)
	return token, exp, err
}

// IssueRenewal returns a renewal credential valid from issued until
// expires. A zero issued starts a new renewal lifetime now.
func (i *Issuer) IssueRenewal(sub Subject, issued, expires time.Time) (string, time.Time, time.Time, error) {
	if issued.IsZero() {
		issued = i.clock()
		expires = issued.Add(i.renewalTTL)
	}
	token, err := i.sign(KindRenewal, sub, issued, expires)
	return token, issued, expires, err
}

func (i *Issuer) sign(kind Kind, sub Subject, issued, expires time.Time) (string, error) {
	claims := &Claims{
		Kind:       kind,
		Email:      sub.Email,
		SigningKey: sub.SigningKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   sub.UserID,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	if kind == KindRenewal {
		claims.EncryptionKey = sub.EncryptionKey
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	if i.keyID != "" {
		token.Header["kid"] = i.keyID
	}
	signed, err := token.SignedString(i.privateKey)
	if err != nil {
		return "", fmt.Errorf("credential: failed to sign: %w", err)
	}
	return signed, nil
}

// Verify parses token and checks its signature, issuer, audience and
// kind. An expired but otherwise valid credential returns its claims
// together with ErrExpired.
func (i *Issuer) Verify(token string, kind Kind) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.publicKey, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired) && !hasOtherFailure(err):
		if claims.Kind != kind {
			return nil, ErrWrongKind
		}
		return claims, fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if claims.Kind != kind {
		return nil, ErrWrongKind
	}
	if claims.SigningKey == "" {
		return nil, fmt.Errorf("%w: missing key binding", ErrInvalid)
	}
	return claims, nil
}

// hasOtherFailure reports whether err carries a validation failure
// besides expiry. Signature failures are reported before claims are
// validated, so they never reach here joined with ErrTokenExpired.
func hasOtherFailure(err error) bool {
	for _, other := range []error{
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenInvalidAudience,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenUsedBeforeIssued,
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenMalformed,
	} {
		if errors.Is(err, other) {
			return true
		}
	}
	return false
}

// PublicKey returns the key credentials are verified with.
func (i *Issuer) PublicKey() ed25519.PublicKey {
	return i.publicKey
}

// AccessTTL returns the lifetime of access credentials.
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// RenewalTTL returns the lifetime of renewal credentials.
func (i *Issuer) RenewalTTL() time.Duration {
	return i.renewalTTL
}
