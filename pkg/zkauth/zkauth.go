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

// Package zkauth is the client-side service object. It owns the session
// store, the key provider, the HTTP transport, the magic-link
// authenticator and the token lifecycle manager, and is the only thing a
// presentation layer needs to hold.
package zkauth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"filippo.io/age"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/client"
	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/lifecycle"
	"github.com/jeremyhahn/go-zkauth/pkg/magiclink"
	"github.com/jeremyhahn/go-zkauth/pkg/metrics"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
	"github.com/jeremyhahn/go-zkauth/pkg/session"
	"github.com/jeremyhahn/go-zkauth/pkg/storage"
	"github.com/jeremyhahn/go-zkauth/pkg/urlcipher"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("zkauth: client closed")

	// ErrNoLinkToken is returned by TokenFromLink for a URL without a
	// magic-link token.
	ErrNoLinkToken = errors.New("zkauth: link carries no magic-link token")
)

// Config configures a Client.
type Config struct {
	// ServerURL is the base URL of the auth server (required)
	ServerURL string

	// Backend persists the session. Defaults to an in-memory backend that
	// Close releases.
	Backend storage.Backend

	// Identity, when set, custodies private keys in Backend so raw key
	// material never leaves the provider.
	Identity *age.X25519Identity

	// PinnedServerKey, when set, is the only server key accepted.
	PinnedServerKey ed25519.PublicKey

	// Drift selects how a schema change of the persisted session is
	// handled (default: export then recreate).
	Drift session.DriftStrategy

	// RingCapacity bounds the URL-cipher seed ring (default: 20).
	RingCapacity int

	TLSInsecureSkipVerify bool
	TLSCAFile             string
	Timeout               time.Duration

	// HTTPClient overrides the transport's HTTP client. Its jar is
	// replaced by the persistent one.
	HTTPClient *http.Client

	Logger logger.Logger

	// Clock drives the rotation-window policy. Defaults to time.Now.
	Clock func() time.Time
}

// Client is a zkauth client profile.
type Client struct {
	store     *session.Store
	transport *client.Client
	auth      *magiclink.Authenticator
	lifecycle *lifecycle.Manager
	logger    logger.Logger

	backend     storage.Backend
	ownsBackend bool

	mu     sync.Mutex
	closed bool
}

// New opens the session persisted in cfg.Backend and wires the client
// components around it.
func New(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil || cfg.ServerURL == "" {
		return nil, fmt.Errorf("%w: server URL is required", client.ErrInvalidBaseURL)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	backend := cfg.Backend
	ownsBackend := false
	if backend == nil {
		backend = storage.NewMemory()
		ownsBackend = true
	}

	provider := keys.SelectProvider(keys.ProviderOptions{
		Identity: cfg.Identity,
		Backend:  backend,
	})
	log.Debug("Key provider selected", logger.String("provider", provider.Name()))

	store, err := session.Open(ctx, session.Config{
		Backend:      backend,
		Provider:     provider,
		Logger:       log,
		Drift:        cfg.Drift,
		RingCapacity: cfg.RingCapacity,
		Clock:        cfg.Clock,
		OnWarning: func(err error) {
			metrics.RecordStorageWarning()
			log.Warn("Session storage warning", logger.Error(err))
		},
	})
	if err != nil {
		return nil, err
	}

	// The jar reads its cookies after the store resolved schema drift.
	jar, err := client.NewJar(backend)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	transport, err := client.New(&client.Config{
		BaseURL:               cfg.ServerURL,
		TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		TLSCAFile:             cfg.TLSCAFile,
		Timeout:               cfg.Timeout,
		Jar:                   jar,
		HTTPClient:            cfg.HTTPClient,
		Logger:                log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	auth, err := magiclink.New(magiclink.Config{
		Store:           store,
		Transport:       transport,
		PinnedServerKey: cfg.PinnedServerKey,
		Logger:          log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	manager, err := lifecycle.New(lifecycle.Config{
		Store:     store,
		Transport: transport,
		Logger:    log,
		Clock:     cfg.Clock,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Client{
		store:       store,
		transport:   transport,
		auth:        auth,
		lifecycle:   manager,
		logger:      log.With(logger.String("component", "zkauth")),
		backend:     backend,
		ownsBackend: ownsBackend,
	}, nil
}

func (c *Client) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// RequestLink asks the server to email a magic link for req.Email.
func (c *Client) RequestLink(ctx context.Context, req magiclink.LinkRequest) (*magiclink.LinkResult, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.auth.RequestLink(ctx, req)
}

// ValidateLink redeems a magic-link token.
func (c *Client) ValidateLink(ctx context.Context, token string) (*magiclink.ValidationResult, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.auth.ValidateLink(ctx, token)
}

// LoginState returns the state of the magic-link flow.
func (c *Client) LoginState() magiclink.State {
	return c.auth.State()
}

// Do sends an authenticated resource request.
func (c *Client) Do(ctx context.Context, req *lifecycle.Request) (*lifecycle.Response, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.lifecycle.Do(ctx, req)
}

// Session fetches the server's view of the current session.
func (c *Client) Session(ctx context.Context) (*protocol.SessionInfo, error) {
	resp, err := c.Do(ctx, &lifecycle.Request{Method: http.MethodGet, Path: protocol.PathSession})
	if err != nil {
		return nil, err
	}
	var info protocol.SessionInfo
	if err := resp.Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Refresh forces a credential refresh, rotating the keypair when the
// rotation window calls for it.
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.lifecycle.Refresh(ctx)
}

// EncryptParams encrypts params for embedding in a shareable URL.
func (c *Client) EncryptParams(params map[string]string) (value string, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpEncryptParams, metrics.Status(err), time.Since(start).Seconds())
	}()
	if err := c.check(); err != nil {
		return "", err
	}
	tokens := c.store.CryptoTokens()
	if tokens == nil {
		return "", session.ErrNotAuthenticated
	}
	defer tokens.Wipe()
	return urlcipher.Encrypt(params, tokens, c.store.Seeds())
}

// DecryptParams reverses EncryptParams.
func (c *Client) DecryptParams(value string) (params map[string]string, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpDecryptParams, metrics.Status(err), time.Since(start).Seconds())
	}()
	if err := c.check(); err != nil {
		return nil, err
	}
	tokens := c.store.CryptoTokens()
	if tokens == nil {
		return nil, session.ErrNotAuthenticated
	}
	defer tokens.Wipe()
	return urlcipher.Decrypt(value, tokens, c.store.Seeds())
}

// Logout invalidates the renewal credential on the server, then wipes the
// local session. The server call is best effort; the local wipe always
// happens.
func (c *Client) Logout(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(metrics.OpLogout, metrics.Status(err), time.Since(start).Seconds())
	}()
	if err := c.check(); err != nil {
		return err
	}

	if _, err := c.transport.Do(ctx, &client.Request{
		Method: http.MethodDelete,
		Path:   protocol.PathLogin,
	}); err != nil {
		logger.FromContext(ctx, c.logger).Warn("Server logout failed", logger.Error(err))
	}

	c.store.ClearSensitive(ctx)
	metrics.RecordSessionClear(metrics.ClearSensitive)
	if err := c.transport.ClearCookies(); err != nil {
		logger.FromContext(ctx, c.logger).Warn("Failed to clear cookies", logger.Error(err))
	}
	return nil
}

// Signer returns the signing capability of the current keypair. Whether
// the key behind it is exposed or custodied is not observable.
func (c *Client) Signer(ctx context.Context) (keys.Signer, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	kp, err := c.store.Keypair(ctx)
	if err != nil {
		return nil, err
	}
	return kp.Signer(), nil
}

// Status summarizes the local session without exposing secrets.
func (c *Client) Status() session.Status {
	return c.store.Status()
}

// Close releases in-memory key material and idle connections.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	errs = append(errs, c.store.Close(), c.transport.Close())
	if c.ownsBackend {
		errs = append(errs, c.backend.Close())
	}
	return errors.Join(errs...)
}

// TokenFromLink extracts the magic-link token from a link URL. A bare
// token is returned unchanged.
func TokenFromLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil || u.Scheme == "" {
		if link == "" {
			return "", ErrNoLinkToken
		}
		return link, nil
	}
	token := u.Query().Get(protocol.QueryMagicLink)
	if token == "" {
		return "", ErrNoLinkToken
	}
	return token, nil
}
