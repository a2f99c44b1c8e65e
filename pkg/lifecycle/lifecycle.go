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

// Package lifecycle keeps an authenticated session usable. It signs
// resource requests, reacts to credential rejections with a single-flight
// refresh and one retry, rotates the keypair at scheduled points of the
// renewal lifetime and applies renewals piggybacked on resource responses.
//
// The manager is purely reactive: it never refreshes on a timer and never
// judges expiry from the local clock. The clock is used only to place a
// refresh inside a rotation window.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/client"
	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
	"github.com/jeremyhahn/go-zkauth/pkg/metrics"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
	"github.com/jeremyhahn/go-zkauth/pkg/session"
)

// ErrRotationUnconfirmed is returned when the server's rotation
// confirmation is not bound to the announced key.
var ErrRotationUnconfirmed = errors.New("lifecycle: rotation not confirmed for the new key")

const (
	refreshKey = "refresh"

	// refreshTimeout bounds a shared refresh, including a rotation.
	refreshTimeout = 30 * time.Second
)

// Transport is the subset of *client.Client the manager uses.
type Transport interface {
	Do(ctx context.Context, req *client.Request) (*client.Response, error)
	PostEnvelope(ctx context.Context, path string, env *envelope.SignedEnvelope, bearer string) (*client.Response, error)
}

// Config configures a Manager.
type Config struct {
	Store     *session.Store
	Transport Transport
	Logger    logger.Logger

	// Clock places refreshes in rotation windows. Defaults to time.Now.
	Clock func() time.Time
}

// Request is an authenticated resource request.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Response is the verified result of a resource request.
type Response struct {
	Result  json.RawMessage
	Renewed bool
}

// Decode unmarshals the result into out.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("%w: %v", envelope.ErrPayloadMalformed, err)
	}
	return nil
}

// Manager is the token lifecycle manager.
type Manager struct {
	store     *session.Store
	transport Transport
	logger    logger.Logger
	clock     func() time.Time
	group     singleflight.Group
}

// New returns a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil || cfg.Transport == nil {
		return nil, errors.New("lifecycle: store and transport are required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		store:     cfg.Store,
		transport: cfg.Transport,
		logger:    log.With(logger.String("component", "lifecycle")),
		clock:     clock,
	}, nil
}

// Do sends req signed with the current keypair and bearing the access
// credential. An access_expired rejection triggers exactly one refresh and
// one retry.
func (m *Manager) Do(ctx context.Context, req *Request) (resp *Response, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpResource, metrics.Status(err), time.Since(start).Seconds())
	}()

	generation := m.store.Generation()
	auth := m.store.AuthData()
	if !auth.Authenticated() {
		return nil, protocol.ErrLoginRequired
	}

	resp, err = m.send(ctx, generation, auth, req)
	if err == nil {
		return resp, nil
	}
	if !errors.Is(err, protocol.ErrAccessExpired) {
		return nil, m.terminal(ctx, metrics.OpResource, err)
	}

	logger.FromContext(ctx, m.logger).Debug("access credential rejected, refreshing")
	if err := m.refreshAfter(ctx, auth.AccessCredential); err != nil {
		return nil, err
	}

	generation = m.store.Generation()
	auth = m.store.AuthData()
	if !auth.Authenticated() {
		return nil, protocol.ErrLoginRequired
	}
	resp, err = m.send(ctx, generation, auth, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, protocol.ErrAccessExpired) {
		m.clear(ctx, metrics.ClearPreventive)
		return nil, fmt.Errorf("%w: %w", protocol.ErrLoginRequired, err)
	}
	return nil, m.terminal(ctx, metrics.OpResource, err)
}

// Refresh forces a credential refresh. Concurrent callers share one
// request.
func (m *Manager) Refresh(ctx context.Context) error {
	auth := m.store.AuthData()
	if !auth.Authenticated() {
		return protocol.ErrLoginRequired
	}
	return m.refreshAfter(ctx, auth.AccessCredential)
}

// refreshAfter refreshes unless the credential already moved on from
// failed, which means another caller refreshed first. The shared refresh
// runs detached from any one caller's cancellation; a caller whose ctx ends
// stops waiting without aborting it for the others.
func (m *Manager) refreshAfter(ctx context.Context, failed string) error {
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		current := m.store.AuthData()
		if current.Authenticated() && current.AccessCredential != failed {
			return nil, nil
		}
		flight, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return nil, m.refresh(flight)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Shared {
			m.logger.Debug("joined in-flight refresh")
		}
		return res.Err
	}
}

// terminal applies the wipe policy for rejections that cannot be retried.
func (m *Manager) terminal(ctx context.Context, op string, err error) error {
	var se *client.StatusError
	if errors.As(err, &se) {
		metrics.RecordRejection(se.Code)
	}
	switch {
	case errors.Is(err, protocol.ErrDualExpired):
		m.clear(ctx, metrics.ClearSensitive)
		return fmt.Errorf("%w: %w", protocol.ErrLoginRequired, protocol.ErrDualExpired)
	case errors.Is(err, envelope.ErrSignatureInvalid):
		metrics.RecordSignatureFailure(op)
		m.clear(ctx, metrics.ClearSensitive)
		return err
	default:
		return err
	}
}

func (m *Manager) clear(ctx context.Context, mode string) {
	metrics.RecordSessionClear(mode)
	logger.FromContext(ctx, m.logger).Warn("clearing session", logger.String("mode", mode))
	if mode == metrics.ClearSensitive {
		m.store.ClearSensitive(ctx)
		return
	}
	m.store.ClearPreventive(ctx)
}

func (m *Manager) send(ctx context.Context, generation uint64, auth *session.AuthData, req *Request) (*Response, error) {
	kp, err := m.store.Keypair(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoKeypair) {
			return nil, protocol.ErrLoginRequired
		}
		return nil, err
	}
	peer := m.store.PeerKey()
	if peer == nil {
		return nil, protocol.ErrLoginRequired
	}

	rawQuery := req.Query.Encode()
	ts := m.clock().Unix()
	nonce := uuid.NewString()
	sig, err := envelope.SignDetached(protocol.SignedRequest{
		Method:    req.Method,
		Path:      req.Path,
		Query:     rawQuery,
		Body:      string(req.Body),
		Timestamp: ts,
		Nonce:     nonce,
	}, kp.Signer())
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set(protocol.HeaderSignature, sig)
	header.Set(protocol.HeaderTimestamp, strconv.FormatInt(ts, 10))
	header.Set(protocol.HeaderNonce, nonce)

	httpResp, err := m.transport.Do(ctx, &client.Request{
		Method:   req.Method,
		Path:     req.Path,
		RawQuery: rawQuery,
		Body:     req.Body,
		Bearer:   auth.AccessCredential,
		Header:   header,
	})
	if err != nil {
		return nil, err
	}

	env, err := httpResp.Envelope()
	if err != nil {
		return nil, err
	}
	var payload protocol.ResourceResponse
	if err := envelope.Decode(env, peer, &payload); err != nil {
		return nil, err
	}

	resp := &Response{Result: payload.Result}
	if payload.Renewal != nil {
		resp.Renewed = m.applyRenewal(ctx, generation, auth.AccessCredential, payload.Renewal)
	}
	return resp, nil
}

// applyRenewal installs a piggybacked access credential if the session is
// still the one the request was sent under.
func (m *Manager) applyRenewal(ctx context.Context, generation uint64, used string, renewal *protocol.Renewal) bool {
	if renewal.AccessCredential == "" {
		return false
	}
	applied := false
	err := m.store.Update(ctx, generation, func(tx *session.Tx) error {
		return tx.UpdateAuth(func(a *session.AuthData) {
			if a.AccessCredential != used {
				return
			}
			a.AccessCredential = renewal.AccessCredential
			a.AccessExpiresAt = unixTime(renewal.ExpiresAt)
			applied = true
		})
	})
	if err != nil {
		m.logger.Debug("piggybacked renewal discarded", logger.Error(err))
		return false
	}
	if applied {
		m.logger.Debug("applied piggybacked renewal")
	}
	return applied
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
