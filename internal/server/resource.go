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
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/credential"
	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/metrics"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
)

// renewalFraction of the access lifetime remaining triggers a proactive
// renewal in resource responses.
const renewalFraction = 5

type contextKey string

const (
	identityKey contextKey = "identity"
	subjectKey  contextKey = "subject"
)

// Identity is the authenticated caller of a resource request.
type Identity struct {
	UserID          string
	Email           string
	SigningKey      ed25519.PublicKey
	AccessExpiresAt time.Time
}

func identityFrom(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityKey).(*Identity); ok {
		return id
	}
	return nil
}

// IdentityFromContext returns the identity attached by
// AuthenticationMiddleware, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	return identityFrom(ctx)
}

// ResourceRequest is a verified request to a protected resource.
type ResourceRequest struct {
	Identity *Identity
	Method   string
	Path     string
	Query    url.Values
	Body     []byte
}

// ResourceHandler produces the result of a protected resource. Returning
// an *Error selects the protocol error code.
type ResourceHandler func(ctx context.Context, req *ResourceRequest) (any, error)

// AuthenticationMiddleware requires a live access credential and a
// detached signature over the request made with the key it is bound to.
func (s *Server) AuthenticationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context(), s.logger)

			token := bearer(r)
			if token == "" {
				writeError(w, withMessage(errUnauthorized, "missing access credential"))
				return
			}
			claims, err := s.issuer.Verify(token, credential.KindAccess)
			switch {
			case err == nil:
			case errors.Is(err, credential.ErrExpired):
				if _, rejection := s.renewalFrom(r); rejection != nil {
					writeError(w, errDualExpired)
					return
				}
				writeError(w, errAccessExpired)
				return
			default:
				writeError(w, errUnauthorized)
				return
			}
			signingKey, err := keys.ParseSigningPublicKey(claims.SigningKey)
			if err != nil {
				writeError(w, errUnauthorized)
				return
			}

			ts, err := strconv.ParseInt(r.Header.Get(protocol.HeaderTimestamp), 10, 64)
			if err != nil || !validateTimestamp(s.clock(), ts, s.clockSkew) {
				metrics.RecordSignatureFailure(metrics.OpResource)
				writeError(w, withMessage(errSignatureInvalid, "request timestamp outside allowed window"))
				return
			}
			nonce := r.Header.Get(protocol.HeaderNonce)
			if nonce == "" {
				writeError(w, withMessage(errSignatureInvalid, "missing request nonce"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
			if err != nil {
				writeError(w, errInvalidRequest)
				return
			}
			signed := protocol.SignedRequest{
				Method:    r.Method,
				Path:      r.URL.Path,
				Query:     r.URL.RawQuery,
				Body:      string(body),
				Timestamp: ts,
				Nonce:     nonce,
			}
			if err := envelope.VerifyDetached(signed, r.Header.Get(protocol.HeaderSignature), signingKey); err != nil {
				metrics.RecordSignatureFailure(metrics.OpResource)
				log.Warn("Request signature rejected",
					logger.String("user_id", claims.Subject),
					logger.Error(err))
				s.rejected(r, claims.Subject, errSignatureInvalid)
				writeError(w, errSignatureInvalid)
				return
			}
			if !s.replay.checkAndMark(claims.Subject, nonce) {
				s.rejected(r, claims.Subject, errSignatureInvalid)
				writeError(w, withMessage(errSignatureInvalid, "replayed request"))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			if rs, ok := r.Context().Value(subjectKey).(*requestSubject); ok {
				rs.userID = claims.Subject
			}
			ctx := context.WithValue(r.Context(), identityKey, &Identity{
				UserID:          claims.Subject,
				Email:           claims.Email,
				SigningKey:      signingKey,
				AccessExpiresAt: claims.ExpiresAt.Time,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resource adapts h to a signed ResourceResponse.
func (s *Server) resource(h ResourceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := identityFrom(ctx)
		if id == nil {
			writeError(w, errUnauthorized)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, errInvalidRequest)
			return
		}

		result, err := h(ctx, &ResourceRequest{
			Identity: id,
			Method:   r.Method,
			Path:     r.URL.Path,
			Query:    r.URL.Query(),
			Body:     body,
		})
		if err != nil {
			logger.FromContext(ctx, s.logger).Debug("Resource handler failed", logger.Error(err))
			handleError(w, err)
			return
		}

		raw, err := json.Marshal(result)
		if err != nil {
			writeError(w, errInternal)
			return
		}
		s.writeSigned(w, id.Email, protocol.ResourceResponse{
			Result:  raw,
			Renewal: s.proactiveRenewal(id),
		})
	}
}

// proactiveRenewal issues a fresh access credential once less than a fifth
// of the current one's lifetime remains.
func (s *Server) proactiveRenewal(id *Identity) *protocol.Renewal {
	remaining := id.AccessExpiresAt.Sub(s.clock())
	if remaining >= s.issuer.AccessTTL()/renewalFraction {
		return nil
	}
	access, expires, err := s.issuer.IssueAccess(credential.Subject{
		UserID:     id.UserID,
		Email:      id.Email,
		SigningKey: keys.EncodeKey(id.SigningKey),
	})
	if err != nil {
		s.logger.Warn("Proactive renewal failed", logger.Error(err))
		return nil
	}
	return &protocol.Renewal{
		AccessCredential: access,
		ExpiresAt:        expires.Unix(),
	}
}

func (s *Server) sessionInfo(_ context.Context, req *ResourceRequest) (any, error) {
	return protocol.SessionInfo{
		UserID:    req.Identity.UserID,
		Email:     req.Identity.Email,
		ExpiresAt: req.Identity.AccessExpiresAt.Unix(),
	}, nil
}
