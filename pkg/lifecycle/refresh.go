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

package lifecycle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/client"
	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/metrics"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
	"github.com/jeremyhahn/go-zkauth/pkg/session"
)

// refresh performs one POST /refresh and, when the refresh lands in an
// unrotated window 2 or 3, a key rotation.
func (m *Manager) refresh(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpRefresh, metrics.Status(err), time.Since(start).Seconds())
	}()
	log := logger.FromContext(ctx, m.logger)

	generation := m.store.Generation()
	auth := m.store.AuthData()
	if !auth.Authenticated() {
		return protocol.ErrLoginRequired
	}
	peer := m.store.PeerKey()
	if peer == nil {
		return protocol.ErrLoginRequired
	}

	httpResp, err := m.transport.Do(ctx, &client.Request{
		Method: http.MethodPost,
		Path:   protocol.PathRefresh,
		Bearer: auth.AccessCredential,
	})
	if err != nil {
		var se *client.StatusError
		if !errors.As(err, &se) || transient(err) {
			// Transport failures and server-side faults leave the session
			// intact.
			if se != nil {
				metrics.RecordRejection(se.Code)
			}
			return err
		}
		if errors.Is(err, protocol.ErrDualExpired) || errors.Is(err, envelope.ErrSignatureInvalid) {
			return m.terminal(ctx, metrics.OpRefresh, err)
		}
		metrics.RecordRejection(se.Code)
		m.clear(ctx, metrics.ClearPreventive)
		return fmt.Errorf("%w: %w", protocol.ErrLoginRequired, err)
	}

	env, err := httpResp.Envelope()
	if err != nil {
		return err
	}
	var refreshed protocol.RefreshResponse
	if err := envelope.Decode(env, peer, &refreshed); err != nil {
		return m.terminal(ctx, metrics.OpRefresh, err)
	}
	if refreshed.AccessCredential == "" {
		return fmt.Errorf("%w: missing access credential", envelope.ErrPayloadMalformed)
	}

	issued := unixTime(refreshed.RenewalIssuedAt)
	expires := unixTime(refreshed.RenewalExpiresAt)
	if issued.IsZero() {
		issued, expires = auth.RenewalIssuedAt, auth.RenewalExpiresAt
	}
	window := Window(issued, expires, m.clock())

	if shouldRotate(window, auth.LastRotatedWindow) {
		err := m.rotate(ctx, generation, auth, &refreshed, window)
		if err == nil {
			return nil
		}
		if errors.Is(err, protocol.ErrLoginRequired) || errors.Is(err, envelope.ErrSignatureInvalid) {
			return err
		}
		log.Warn("key rotation failed, keeping current keypair",
			logger.Int("window", window), logger.Error(err))
	}

	err = m.store.Update(ctx, generation, func(tx *session.Tx) error {
		return tx.UpdateAuth(func(a *session.AuthData) {
			a.AccessCredential = refreshed.AccessCredential
			a.AccessExpiresAt = unixTime(refreshed.ExpiresAt)
			a.RenewalIssuedAt = issued
			a.RenewalExpiresAt = expires
		})
	})
	if errors.Is(err, session.ErrStaleGeneration) {
		return fmt.Errorf("%w: %w", protocol.ErrLoginRequired, err)
	}
	if err != nil {
		return err
	}
	log.Info("access credential refreshed", logger.Int("window", window))
	return nil
}

// rotate replaces the keypair. The new keypair is derived from the sealed
// rotation context when the server supplied one, or generated otherwise.
// The rotate request is signed with the outgoing key and the swap of
// keypair and credential is one store transaction.
func (m *Manager) rotate(ctx context.Context, generation uint64, auth *session.AuthData, refreshed *protocol.RefreshResponse, window int) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpRotate, metrics.Status(err), time.Since(start).Seconds())
	}()

	provider := m.store.Provider()
	outgoing, err := m.store.Keypair(ctx)
	if err != nil {
		return err
	}
	peer := m.store.PeerKey()

	next, derived, err := m.nextKeypair(ctx, provider, outgoing, auth.Email, refreshed.RotationContext)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			if derr := provider.Destroy(ctx, next.Ref()); derr != nil {
				m.logger.Warn("failed to destroy unused keypair", logger.Error(derr))
			}
		}
	}()

	env, err := envelope.Encode(protocol.RotateRequest{
		Email:                  auth.Email,
		NewSigningPublicKey:    keys.EncodeKey(next.SigningPublicKey()),
		NewEncryptionPublicKey: keys.EncodeKey(next.EncryptionPublicKey()),
		Derived:                derived,
		Timestamp:              m.clock().Unix(),
	}, outgoing.Signer())
	if err != nil {
		return err
	}

	httpResp, err := m.transport.PostEnvelope(ctx, protocol.PathRotate, env, refreshed.AccessCredential)
	if err != nil {
		return m.terminal(ctx, metrics.OpRotate, err)
	}

	respEnv, err := httpResp.Envelope()
	if err != nil {
		return err
	}
	var confirmed protocol.RotateResponse
	if err := envelope.Decode(respEnv, peer, &confirmed); err != nil {
		return m.terminal(ctx, metrics.OpRotate, err)
	}
	if confirmed.SigningPublicKey != keys.EncodeKey(next.SigningPublicKey()) || confirmed.AccessCredential == "" {
		return ErrRotationUnconfirmed
	}

	err = m.store.Update(ctx, generation, func(tx *session.Tx) error {
		tx.SetKeypair(next)
		return tx.UpdateAuth(func(a *session.AuthData) {
			a.AccessCredential = confirmed.AccessCredential
			a.AccessExpiresAt = unixTime(confirmed.ExpiresAt)
			if confirmed.RenewalIssuedAt != 0 {
				a.RenewalIssuedAt = unixTime(confirmed.RenewalIssuedAt)
				a.RenewalExpiresAt = unixTime(confirmed.RenewalExpiresAt)
			}
			a.LastRotatedWindow = window
		})
	})
	if errors.Is(err, session.ErrStaleGeneration) {
		return fmt.Errorf("%w: %w", protocol.ErrLoginRequired, err)
	}
	if err != nil {
		return err
	}
	committed = true

	m.logger.Info("keypair rotated",
		logger.Int("window", window),
		logger.Bool("derived", derived),
		logger.Fingerprint("signing_key", next.SigningPublicKey()))
	return nil
}

func (m *Manager) nextKeypair(ctx context.Context, provider keys.Provider, outgoing *keys.Keypair, email, sealedContext string) (*keys.Keypair, bool, error) {
	if sealedContext == "" {
		kp, err := provider.Generate(ctx)
		return kp, false, err
	}

	sealed, err := base64.RawURLEncoding.DecodeString(sealedContext)
	if err != nil {
		return nil, false, fmt.Errorf("%w: rotation context: %v", envelope.ErrPayloadMalformed, err)
	}
	derivationContext, err := keys.Open(outgoing.KeyAgreement(), sealed, []byte(protocol.RotationInfo))
	if err != nil {
		return nil, false, err
	}
	defer wipe(derivationContext)

	seeds, err := keys.DeriveSeeds(email, derivationContext)
	if err != nil {
		return nil, false, err
	}
	defer seeds.Wipe()

	kp, err := provider.Import(ctx, seeds)
	return kp, true, err
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// transient reports a /refresh failure that says nothing about the
// credential itself.
func transient(err error) bool {
	return errors.Is(err, protocol.ErrServer) || errors.Is(err, protocol.ErrRateLimited)
}
