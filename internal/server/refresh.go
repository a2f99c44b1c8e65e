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

package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/audit"
	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/credential"
	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
)

// RefreshHandler handles POST /refresh. The renewal cookie authorizes the
// request; a fresh rotation context is sealed to the session's encryption
// key on every call.
func (s *Server) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), s.logger)

	renewal, rejection := s.renewalFrom(r)
	if rejection != nil {
		writeError(w, rejection)
		return
	}

	// A presented access credential must belong to the same keypair.
	if token := bearer(r); token != "" {
		access, err := s.issuer.Verify(token, credential.KindAccess)
		if access == nil || (err != nil && !errors.Is(err, credential.ErrExpired)) {
			writeError(w, errUnauthorized)
			return
		}
		if access.SigningKey != renewal.SigningKey {
			s.rejected(r, renewal.Subject, errUnauthorized)
			writeError(w, withMessage(errUnauthorized, "credential key mismatch"))
			return
		}
	}

	sub := subjectOf(renewal)
	access, expires, err := s.issuer.IssueAccess(sub)
	if err != nil {
		log.Error("Failed to issue access credential", logger.Error(err))
		writeError(w, errInternal)
		return
	}

	resp := protocol.RefreshResponse{
		AccessCredential: access,
		ExpiresAt:        expires.Unix(),
		RenewalIssuedAt:  renewal.IssuedAt.Unix(),
		RenewalExpiresAt: renewal.ExpiresAt.Unix(),
	}
	if renewal.EncryptionKey != "" {
		sealed, err := s.sealRotationContext(sub)
		if err != nil {
			log.Warn("Rotation context unavailable", logger.Error(err))
		} else {
			resp.RotationContext = sealed
		}
	}

	s.record(r, &audit.AuditEvent{
		EventType:      audit.EventCredentialRefresh,
		UserID:         sub.UserID,
		Email:          sub.Email,
		KeyFingerprint: fingerprint(sub.SigningKey),
	})
	s.writeSigned(w, renewal.Email, resp)
}

// RotateHandler handles POST /rotate. The request is signed by the
// outgoing key and announces the incoming one.
func (s *Server) RotateHandler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), s.logger)

	access, err := s.issuer.Verify(bearer(r), credential.KindAccess)
	switch {
	case err == nil:
	case errors.Is(err, credential.ErrExpired):
		writeError(w, errAccessExpired)
		return
	default:
		writeError(w, errUnauthorized)
		return
	}

	renewal, rejection := s.renewalFrom(r)
	if rejection != nil {
		writeError(w, rejection)
		return
	}
	if access.SigningKey != renewal.SigningKey || access.Subject != renewal.Subject {
		writeError(w, withMessage(errUnauthorized, "credential key mismatch"))
		return
	}

	outgoing, err := keys.ParseSigningPublicKey(access.SigningKey)
	if err != nil {
		writeError(w, errUnauthorized)
		return
	}
	env, err := readEnvelope(r)
	if err != nil {
		writeError(w, withMessage(errInvalidRequest, "body must be a signed envelope"))
		return
	}
	var req protocol.RotateRequest
	if err := envelope.Decode(env, outgoing, &req); err != nil {
		if errors.Is(err, envelope.ErrSignatureInvalid) {
			s.rejected(r, renewal.Subject, errSignatureInvalid)
			writeError(w, errSignatureInvalid)
			return
		}
		writeError(w, withMessage(errInvalidRequest, "malformed rotation request"))
		return
	}

	if keys.NormalizeEmail(req.Email) != renewal.Email {
		writeError(w, withMessage(errInvalidRequest, "email does not match session"))
		return
	}
	if !validateTimestamp(s.clock(), req.Timestamp, s.clockSkew) {
		writeError(w, withMessage(errInvalidRequest, "stale rotation request"))
		return
	}
	if _, err := keys.ParseSigningPublicKey(req.NewSigningPublicKey); err != nil {
		writeError(w, withMessage(errInvalidRequest, "invalid signing public key"))
		return
	}
	if _, err := keys.ParseEncryptionPublicKey(req.NewEncryptionPublicKey); err != nil {
		writeError(w, withMessage(errInvalidRequest, "invalid encryption public key"))
		return
	}

	derivation, pending := s.rotations.take(renewal.Subject)
	if req.Derived {
		if !pending {
			writeError(w, withMessage(errInvalidRequest, "no rotation context outstanding"))
			return
		}
		spk, epk, err := keys.DerivePublicKeys(renewal.Email, derivation)
		wipe(derivation)
		if err != nil {
			writeError(w, errInternal)
			return
		}
		if keys.EncodeKey(spk) != req.NewSigningPublicKey || keys.EncodeKey(epk) != req.NewEncryptionPublicKey {
			s.rejected(r, renewal.Subject, errSignatureMismatch)
			writeError(w, withMessage(errSignatureMismatch, "rotated keys do not match the rotation context"))
			return
		}
	} else if pending {
		wipe(derivation)
	}

	sub := credential.Subject{
		UserID:        renewal.Subject,
		Email:         renewal.Email,
		SigningKey:    req.NewSigningPublicKey,
		EncryptionKey: req.NewEncryptionPublicKey,
	}
	accessToken, accessExp, err := s.issuer.IssueAccess(sub)
	if err != nil {
		writeError(w, errInternal)
		return
	}
	renewalToken, issued, expires, err := s.issuer.IssueRenewal(sub, renewal.IssuedAt.Time, renewal.ExpiresAt.Time)
	if err != nil {
		writeError(w, errInternal)
		return
	}

	s.revoked.revoke(renewal.ID, renewal.ExpiresAt.Time)
	s.setRenewalCookie(w, renewalToken, expires)
	log.Info("Session keypair rotated",
		logger.String("user_id", sub.UserID),
		logger.Bool("derived", req.Derived))
	s.record(r, &audit.AuditEvent{
		EventType:      audit.EventCredentialRotate,
		UserID:         sub.UserID,
		Email:          sub.Email,
		KeyFingerprint: fingerprint(sub.SigningKey),
		Metadata: map[string]string{
			"derived":  strconv.FormatBool(req.Derived),
			"previous": fingerprint(renewal.SigningKey),
		},
	})

	s.writeSigned(w, renewal.Email, protocol.RotateResponse{
		SigningPublicKey: req.NewSigningPublicKey,
		AccessCredential: accessToken,
		ExpiresAt:        accessExp.Unix(),
		RenewalIssuedAt:  issued.Unix(),
		RenewalExpiresAt: expires.Unix(),
	})
}

// renewalFrom verifies the renewal cookie of r.
func (s *Server) renewalFrom(r *http.Request) (*credential.Claims, *Error) {
	c, err := r.Cookie(protocol.RenewalCookie)
	if err != nil || c.Value == "" {
		return nil, s.expiredRenewal(r)
	}
	claims, err := s.issuer.Verify(c.Value, credential.KindRenewal)
	switch {
	case err == nil:
	case errors.Is(err, credential.ErrExpired):
		return nil, s.expiredRenewal(r)
	default:
		return nil, errUnauthorized
	}
	if s.revoked.isRevoked(claims.ID) {
		return nil, errUnauthorized
	}
	return claims, nil
}

// expiredRenewal reports dual_expired unless r still carries a live
// access credential.
func (s *Server) expiredRenewal(r *http.Request) *Error {
	if token := bearer(r); token != "" {
		if _, err := s.issuer.Verify(token, credential.KindAccess); err == nil {
			return errRenewalExpired
		}
	}
	return errDualExpired
}

func (s *Server) sealRotationContext(sub credential.Subject) (string, error) {
	recipient, err := keys.ParseEncryptionPublicKey(sub.EncryptionKey)
	if err != nil {
		return "", err
	}
	derivation, err := keys.NewContext()
	if err != nil {
		return "", err
	}
	sealed, err := keys.Seal(recipient, derivation, []byte(protocol.RotationInfo))
	if err != nil {
		wipe(derivation)
		return "", err
	}
	s.rotations.put(sub.UserID, derivation)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func subjectOf(c *credential.Claims) credential.Subject {
	return credential.Subject{
		UserID:        c.Subject,
		Email:         c.Email,
		SigningKey:    c.SigningKey,
		EncryptionKey: c.EncryptionKey,
	}
}
