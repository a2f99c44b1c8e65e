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

// Package magiclink implements the passwordless login flow. The client
// proves possession of its keypair by signing the login request; the server
// replies with its session-bound key and emails a single-use link whose
// redemption yields the access credential.
//
//	Idle -> LinkRequested -> AwaitingClick -> Validating -> Authenticated
//	                                                   \-> Rejected
//
// A rejected flow restarts from Idle on the next RequestLink.
package magiclink

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/client"
	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/metrics"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
	"github.com/jeremyhahn/go-zkauth/pkg/session"
)

var (
	// ErrSuperseded is returned when the session was cleared while a link
	// request or validation was in flight. Its result was discarded.
	ErrSuperseded = errors.New("magiclink: result superseded by a newer session state")

	// ErrServerKeyMismatch is returned when the server key advertised in
	// the response header differs from the signed payload or the pinned key.
	ErrServerKeyMismatch = fmt.Errorf("magiclink: server key mismatch: %w", envelope.ErrSignatureInvalid)

	// ErrNoServerKey is returned by ValidateLink before any link was
	// requested from this profile.
	ErrNoServerKey = errors.New("magiclink: no server key; request a link first")

	// ErrEmailRequired is returned by RequestLink for an empty email.
	ErrEmailRequired = errors.New("magiclink: email is required")
)

// State is the authenticator's position in the login flow.
type State int

const (
	StateIdle State = iota
	StateLinkRequested
	StateAwaitingClick
	StateValidating
	StateAuthenticated
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLinkRequested:
		return "link_requested"
	case StateAwaitingClick:
		return "awaiting_click"
	case StateValidating:
		return "validating"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Transport is the subset of *client.Client the authenticator uses.
type Transport interface {
	Do(ctx context.Context, req *client.Request) (*client.Response, error)
	PostEnvelope(ctx context.Context, path string, env *envelope.SignedEnvelope, bearer string) (*client.Response, error)
}

// cookieClearer is implemented by transports that persist cookies.
type cookieClearer interface {
	ClearCookies() error
}

// LinkRequest describes a login link to send.
type LinkRequest struct {
	Email     string
	UIHost    string
	NextPath  string
	EmailLang string
}

// LinkResult is the server's acknowledgement of a link request.
type LinkResult struct {
	Status      string
	DevOnlyLink string
	ServerKey   ed25519.PublicKey
}

// ValidationResult describes a successful link redemption.
type ValidationResult struct {
	User          session.User
	NextPath      string
	TokensCreated bool
}

// Config configures an Authenticator.
type Config struct {
	Store     *session.Store
	Transport Transport

	// PinnedServerKey, when set, is the only server key accepted.
	PinnedServerKey ed25519.PublicKey

	Logger logger.Logger
}

// Authenticator drives the magic-link state machine.
type Authenticator struct {
	store     *session.Store
	transport Transport
	pinned    ed25519.PublicKey
	logger    logger.Logger

	mu    sync.Mutex
	state State
}

// New returns an Authenticator in StateIdle.
func New(cfg Config) (*Authenticator, error) {
	if cfg.Store == nil || cfg.Transport == nil {
		return nil, errors.New("magiclink: store and transport are required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Authenticator{
		store:     cfg.Store,
		transport: cfg.Transport,
		pinned:    cfg.PinnedServerKey,
		logger:    log.With(logger.String("component", "magiclink")),
	}, nil
}

// State returns the current state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Authenticator) setState(ctx context.Context, next State) {
	a.mu.Lock()
	prev := a.state
	a.state = next
	a.mu.Unlock()
	logger.FromContext(ctx, a.logger).Debug("login state changed",
		logger.String("from", prev.String()),
		logger.String("to", next.String()))
}

func (a *Authenticator) reject(ctx context.Context, op string, err error) error {
	a.setState(ctx, StateRejected)
	var se *client.StatusError
	if errors.As(err, &se) {
		metrics.RecordRejection(se.Code)
	}
	if errors.Is(err, envelope.ErrSignatureInvalid) {
		metrics.RecordSignatureFailure(op)
		a.clearSensitive(ctx)
	}
	logger.FromContext(ctx, a.logger).Warn("login step rejected",
		logger.String("operation", op), logger.Error(err))
	return err
}

// clearSensitive wipes the session after a response failed verification.
// Nothing received in that flow can be trusted, including cookies.
func (a *Authenticator) clearSensitive(ctx context.Context) {
	metrics.RecordSessionClear(metrics.ClearSensitive)
	a.store.ClearSensitive(ctx)
	if cc, ok := a.transport.(cookieClearer); ok {
		if err := cc.ClearCookies(); err != nil {
			logger.FromContext(ctx, a.logger).Warn("failed to clear cookies", logger.Error(err))
		}
	}
}

// prepare runs the preventive clear when the store still holds state from
// an earlier login, so the new flow never mixes with it.
func (a *Authenticator) prepare(ctx context.Context, email string) {
	st := a.store.Status()
	stale := st.Authenticated || st.UserID != "" || st.HasCryptoTokens || st.Seeds > 0 ||
		(st.PendingEmail != "" && keys.NormalizeEmail(st.PendingEmail) != keys.NormalizeEmail(email))
	if !stale {
		return
	}
	metrics.RecordSessionClear(metrics.ClearPreventive)
	a.store.ClearPreventive(ctx)
}

// RequestLink asks the server to email a login link. Any earlier
// authentication state is cleared first, which also supersedes an
// in-flight ValidateLink. The stored keypair is reused; a fresh ephemeral
// keypair is generated when none exists.
func (a *Authenticator) RequestLink(ctx context.Context, req LinkRequest) (result *LinkResult, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpRequestLink, metrics.Status(err), time.Since(start).Seconds())
	}()

	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	a.setState(ctx, StateIdle)
	a.prepare(ctx, email)
	a.setState(ctx, StateLinkRequested)
	generation := a.store.Generation()

	kp, created, err := a.store.EnsureKeypair(ctx)
	if err != nil {
		return nil, a.reject(ctx, metrics.OpRequestLink, err)
	}
	if created {
		a.logger.Debug("generated ephemeral keypair",
			logger.Fingerprint("signing_key", kp.SigningPublicKey()))
	}

	login := protocol.LoginRequest{
		Email:               email,
		SigningPublicKey:    keys.EncodeKey(kp.SigningPublicKey()),
		EncryptionPublicKey: keys.EncodeKey(kp.EncryptionPublicKey()),
		UIHost:              req.UIHost,
		NextPath:            req.NextPath,
		EmailLang:           req.EmailLang,
	}
	env, err := envelope.Encode(login, kp.Signer())
	if err != nil {
		return nil, a.reject(ctx, metrics.OpRequestLink, err)
	}

	resp, err := a.transport.PostEnvelope(ctx, protocol.PathLogin, env, "")
	if err != nil {
		return nil, a.reject(ctx, metrics.OpRequestLink, err)
	}

	serverKey, payload, err := a.verifyLoginResponse(resp)
	if err != nil {
		return nil, a.reject(ctx, metrics.OpRequestLink, err)
	}

	err = a.store.Update(ctx, generation, func(tx *session.Tx) error {
		tx.SetPeerKey(serverKey)
		tx.SetPendingEmail(email)
		return nil
	})
	if errors.Is(err, session.ErrStaleGeneration) {
		return nil, a.reject(ctx, metrics.OpRequestLink, ErrSuperseded)
	}
	if err != nil {
		return nil, a.reject(ctx, metrics.OpRequestLink, err)
	}

	a.setState(ctx, StateAwaitingClick)
	a.logger.Info("login link requested",
		logger.String("status", payload.Status),
		logger.Fingerprint("server_key", serverKey))

	return &LinkResult{
		Status:      payload.Status,
		DevOnlyLink: payload.DevOnlyLink,
		ServerKey:   serverKey,
	}, nil
}

func (a *Authenticator) verifyLoginResponse(resp *client.Response) (ed25519.PublicKey, *protocol.LoginResponse, error) {
	serverKey, err := keys.ParseSigningPublicKey(resp.Header.Get(protocol.HeaderServerKey))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrServerKeyMismatch, err)
	}
	if a.pinned != nil && !bytes.Equal(a.pinned, serverKey) {
		return nil, nil, ErrServerKeyMismatch
	}

	env, err := resp.Envelope()
	if err != nil {
		return nil, nil, err
	}
	var payload protocol.LoginResponse
	if err := envelope.Decode(env, serverKey, &payload); err != nil {
		return nil, nil, err
	}
	if payload.ServerPublicKey != keys.EncodeKey(serverKey) {
		return nil, nil, ErrServerKeyMismatch
	}
	return serverKey, &payload, nil
}

// ValidateLink redeems a magic-link token. On success the credential is
// stored and, in the same transaction, a URL-cipher token set is generated
// if none exists.
func (a *Authenticator) ValidateLink(ctx context.Context, token string) (result *ValidationResult, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpValidateLink, metrics.Status(err), time.Since(start).Seconds())
	}()

	generation := a.store.Generation()
	a.setState(ctx, StateValidating)

	serverKey := a.store.PeerKey()
	if serverKey == nil {
		return nil, a.reject(ctx, metrics.OpValidateLink, ErrNoServerKey)
	}

	resp, err := a.transport.Do(ctx, &client.Request{
		Method:   http.MethodGet,
		Path:     protocol.PathLogin,
		RawQuery: url.Values{protocol.QueryMagicLink: {token}}.Encode(),
	})
	if err != nil {
		return nil, a.reject(ctx, metrics.OpValidateLink, err)
	}

	env, err := resp.Envelope()
	if err != nil {
		return nil, a.reject(ctx, metrics.OpValidateLink, err)
	}
	var payload protocol.ValidateResponse
	if err := envelope.Decode(env, serverKey, &payload); err != nil {
		return nil, a.reject(ctx, metrics.OpValidateLink, err)
	}
	if payload.AccessCredential == "" {
		return nil, a.reject(ctx, metrics.OpValidateLink,
			fmt.Errorf("%w: missing access credential", envelope.ErrPayloadMalformed))
	}

	user := session.User{ID: payload.UserID, Email: payload.Email}
	cred := session.Credential{
		Access:           payload.AccessCredential,
		Type:             payload.CredentialType,
		AccessExpiresAt:  unixTime(payload.AccessExpiresAt),
		RenewalIssuedAt:  unixTime(payload.RenewalIssuedAt),
		RenewalExpiresAt: unixTime(payload.RenewalExpiresAt),
	}

	var created bool
	err = a.store.Update(ctx, generation, func(tx *session.Tx) error {
		tx.SetAuthData(user, cred)
		tx.SetPendingEmail("")
		var err error
		created, err = tx.EnsureCryptoTokens()
		return err
	})
	if errors.Is(err, session.ErrStaleGeneration) {
		return nil, a.reject(ctx, metrics.OpValidateLink, ErrSuperseded)
	}
	if err != nil {
		return nil, a.reject(ctx, metrics.OpValidateLink, err)
	}

	a.setState(ctx, StateAuthenticated)
	a.logger.Info("login link validated",
		logger.String("user_id", user.ID),
		logger.Bool("tokens_created", created))

	return &ValidationResult{User: user, NextPath: payload.NextPath, TokensCreated: created}, nil
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
