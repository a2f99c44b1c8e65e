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
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/audit"
	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/credential"
	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
	"github.com/jeremyhahn/go-zkauth/pkg/ratelimit"
)

// RequestLinkHandler handles POST /login. The request is self-certifying:
// it must verify under the signing key it announces.
func (s *Server) RequestLinkHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, s.logger)

	env, err := readEnvelope(r)
	if err != nil {
		writeError(w, withMessage(errInvalidRequest, "body must be a signed envelope"))
		return
	}

	var announced protocol.LoginRequest
	if err := peek(env, &announced); err != nil {
		writeError(w, withMessage(errInvalidRequest, "malformed login request"))
		return
	}
	signingKey, err := keys.ParseSigningPublicKey(announced.SigningPublicKey)
	if err != nil {
		writeError(w, withMessage(errInvalidRequest, "invalid signing public key"))
		return
	}
	if _, err := keys.ParseEncryptionPublicKey(announced.EncryptionPublicKey); err != nil {
		writeError(w, withMessage(errInvalidRequest, "invalid encryption public key"))
		return
	}

	var req protocol.LoginRequest
	if err := envelope.Decode(env, signingKey, &req); err != nil {
		log.Warn("Login request signature rejected", logger.Error(err))
		s.rejected(r, "", errSignatureMismatch)
		writeError(w, errSignatureMismatch)
		return
	}

	email := keys.NormalizeEmail(req.Email)
	if !validEmail(email) {
		writeError(w, withMessage(errInvalidRequest, "invalid email"))
		return
	}
	if req.UIHost == "" || !s.hostAllowed(req.UIHost) {
		writeError(w, withMessage(errInvalidRequest, "ui host not allowed"))
		return
	}
	if ok, wait := s.limiter.Take(ratelimit.EmailKey(email)); !ok {
		ratelimit.SetRetryAfter(w, wait)
		s.rateLimited(w, r)
		return
	}

	token, expires, err := s.links.issue(req, env, signingKey)
	if err != nil {
		log.Error("Failed to issue magic link", logger.Error(err))
		writeError(w, errInternal)
		return
	}
	link := s.linkURL(req, token)
	if err := s.mailer.SendLink(ctx, Link{
		Email:     email,
		URL:       link,
		Lang:      req.EmailLang,
		ExpiresAt: expires,
	}); err != nil {
		log.Error("Failed to deliver magic link", logger.Error(err))
		writeError(w, errInternal)
		return
	}

	serverKey, err := s.sessionKey(email)
	if err != nil {
		writeError(w, errInternal)
		return
	}
	serverPub := keys.EncodeKey(serverKey.Public().(ed25519.PublicKey))
	resp := protocol.LoginResponse{
		ServerPublicKey: serverPub,
		Status:          protocol.StatusLinkSent,
	}
	if s.devMode {
		resp.DevOnlyLink = link
	}

	s.record(r, &audit.AuditEvent{
		EventType:      audit.EventLinkIssued,
		Email:          email,
		KeyFingerprint: fingerprint(req.SigningPublicKey),
		Metadata:       map[string]string{"ui_host": req.UIHost},
	})
	w.Header().Set(protocol.HeaderServerKey, serverPub)
	s.writeSignedWith(w, serverKey, resp)
}

// ValidateLinkHandler handles GET /login?magiclink=<token>.
func (s *Server) ValidateLinkHandler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), s.logger)

	token := r.URL.Query().Get(protocol.QueryMagicLink)
	if token == "" {
		writeError(w, withMessage(errInvalidRequest, "missing magic link token"))
		return
	}
	link, rejection := s.links.redeem(token)
	if rejection != nil {
		s.rejected(r, "", rejection)
		writeError(w, rejection)
		return
	}

	var again protocol.LoginRequest
	if err := envelope.Decode(link.original, link.claimed, &again); err != nil {
		log.Warn("Stored login request no longer verifies", logger.Error(err))
		writeError(w, errSignatureMismatch)
		return
	}

	email := keys.NormalizeEmail(again.Email)
	sub := credential.Subject{
		UserID:        userID(email),
		Email:         email,
		SigningKey:    again.SigningPublicKey,
		EncryptionKey: again.EncryptionPublicKey,
	}
	access, accessExp, err := s.issuer.IssueAccess(sub)
	if err != nil {
		log.Error("Failed to issue access credential", logger.Error(err))
		writeError(w, errInternal)
		return
	}
	renewal, issued, expires, err := s.issuer.IssueRenewal(sub, time.Time{}, time.Time{})
	if err != nil {
		log.Error("Failed to issue renewal credential", logger.Error(err))
		writeError(w, errInternal)
		return
	}

	s.setRenewalCookie(w, renewal, expires)
	log.Info("Magic link redeemed", logger.String("user_id", sub.UserID))
	s.record(r, &audit.AuditEvent{
		EventType:      audit.EventLinkRedeemed,
		UserID:         sub.UserID,
		Email:          email,
		KeyFingerprint: fingerprint(sub.SigningKey),
	})
	s.writeSigned(w, email, protocol.ValidateResponse{
		AccessCredential: access,
		CredentialType:   protocol.CredentialType,
		UserID:           sub.UserID,
		Email:            email,
		NextPath:         again.NextPath,
		AccessExpiresAt:  accessExp.Unix(),
		RenewalIssuedAt:  issued.Unix(),
		RenewalExpiresAt: expires.Unix(),
	})
}

// LogoutHandler handles DELETE /login. The renewal credential is revoked
// whether or not it is still valid.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(protocol.RenewalCookie); err == nil && c.Value != "" {
		claims, _ := s.issuer.Verify(c.Value, credential.KindRenewal)
		if claims != nil && claims.ExpiresAt != nil {
			s.revoked.revoke(claims.ID, claims.ExpiresAt.Time)
			if ctx, ok := s.rotations.take(claims.Subject); ok {
				wipe(ctx)
			}
			logger.FromContext(r.Context(), s.logger).Info("Session revoked",
				logger.String("user_id", claims.Subject))
			s.record(r, &audit.AuditEvent{
				EventType:      audit.EventAuthLogout,
				UserID:         claims.Subject,
				Email:          claims.Email,
				KeyFingerprint: fingerprint(claims.SigningKey),
			})
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     protocol.RenewalCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) linkURL(req protocol.LoginRequest, token string) string {
	q := url.Values{protocol.QueryMagicLink: {token}}
	u := url.URL{
		Scheme:   s.linkScheme,
		Host:     req.UIHost,
		Path:     protocol.PathLogin,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (s *Server) setRenewalCookie(w http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     protocol.RenewalCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// writeSigned signs payload with the session key of email.
func (s *Server) writeSigned(w http.ResponseWriter, email string, payload any) {
	key, err := s.sessionKey(email)
	if err != nil {
		writeError(w, errInternal)
		return
	}
	s.writeSignedWith(w, key, payload)
}

func (s *Server) writeSignedWith(w http.ResponseWriter, key ed25519.PrivateKey, payload any) {
	env, err := envelope.Encode(payload, key)
	if err != nil {
		s.logger.Error("Failed to sign response", logger.Error(err))
		writeError(w, errInternal)
		return
	}
	writeEnvelope(w, env)
}

func readEnvelope(r *http.Request) (*envelope.SignedEnvelope, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	return envelope.Parse(body)
}

// peek decodes an envelope payload without verifying it. It is only used
// to learn which key a self-certifying request must verify under.
func peek(env *envelope.SignedEnvelope, out any) error {
	raw, err := base64.RawURLEncoding.DecodeString(env.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", envelope.ErrPayloadMalformed, err)
	}
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", envelope.ErrPayloadMalformed, err)
	}
	return nil
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	prefix := protocol.CredentialType + " "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// userID is stable per normalized email.
func userID(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String()
}

func validEmail(email string) bool {
	at := strings.LastIndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
