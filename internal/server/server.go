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

// Package server is the reference authentication server. It issues magic
// links, binds credentials to client public keys, refreshes and rotates
// them, and guards a resource API with signed requests. Every response
// is a signed envelope produced with a per-user session key derived from
// the server's master context.
package server

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/audit"
	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/correlation"
	"github.com/jeremyhahn/go-zkauth/pkg/credential"
	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/metrics"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
	"github.com/jeremyhahn/go-zkauth/pkg/ratelimit"
)

const (
	DefaultAddr          = ":8443"
	DefaultLinkTTL       = 15 * time.Minute
	DefaultRotationTTL   = 5 * time.Minute
	DefaultClockSkew     = 2 * time.Minute
	DefaultLinkScheme    = "https"
	DefaultVersion       = "1.0.0"
	credentialKeyContext = "zkauth-credential-issuer"
	sessionKeyPrefix     = "server:"
	maxBodySize          = 1 << 20
	collectInterval      = 15 * time.Second
)

// ErrMasterContextRequired is returned by New without a 64-byte master
// context.
var ErrMasterContextRequired = errors.New("server: 64-byte master context is required")

// Config holds the server configuration.
type Config struct {
	// Addr is the listen address (default: ":8443")
	Addr string

	// MasterContext is the 64-byte secret every server key is derived from.
	MasterContext []byte

	// Issuer overrides the credential issuer derived from MasterContext.
	Issuer *credential.Issuer

	// AccessTTL and RenewalTTL configure the derived issuer.
	AccessTTL  time.Duration
	RenewalTTL time.Duration

	// LinkTTL bounds how long a magic link can be redeemed.
	LinkTTL time.Duration

	// LinkScheme is the URL scheme of generated links (default: "https").
	LinkScheme string

	// AllowedUIHosts restricts the hosts magic links may point at. Empty
	// allows any host.
	AllowedUIHosts []string

	// DevMode returns the magic link in the login response.
	DevMode bool

	// Mailer delivers magic links (default: logs them).
	Mailer Mailer

	// Audit receives authentication events (default: discarded).
	Audit audit.AuditAdapter

	// RateLimit throttles POST /login per client address and per email.
	RateLimit *ratelimit.Config

	// SecureCookies marks the renewal cookie Secure.
	SecureCookies bool

	// ClockSkew bounds the timestamp of signed resource requests.
	ClockSkew time.Duration

	// Version is the API version string
	Version string

	// TLSConfig is the TLS configuration for HTTPS (optional)
	TLSConfig *tls.Config

	// Logger is the logging adapter (optional, uses slog if not provided)
	Logger logger.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the reference authentication server.
type Server struct {
	server    *http.Server
	router    *chi.Mux
	api       chi.Router
	master    []byte
	issuer    *credential.Issuer
	links     *linkStore
	rotations *rotationStore
	revoked   *revocationList
	replay    *replayCache
	limiter   *ratelimit.Limiter
	mailer    Mailer
	audit     audit.AuditAdapter
	health    *healthChecker
	collector *metrics.Collector
	logger    logger.Logger
	clock     func() time.Time

	linkScheme    string
	allowedHosts  map[string]struct{}
	devMode       bool
	secureCookies bool
	clockSkew     time.Duration
	version       string
	tlsConfig     *tls.Config
	listenerMu    sync.Mutex
	listener      net.Listener
	stopCollector context.CancelFunc
}

// New creates a new server.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(cfg.MasterContext) != keys.ContextSize {
		return nil, ErrMasterContextRequired
	}

	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.LinkTTL == 0 {
		cfg.LinkTTL = DefaultLinkTTL
	}
	if cfg.LinkScheme == "" {
		cfg.LinkScheme = DefaultLinkScheme
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewSlogAdapter(&logger.SlogConfig{
			Level: logger.LevelInfo,
		})
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	master := make([]byte, len(cfg.MasterContext))
	copy(master, cfg.MasterContext)

	issuer := cfg.Issuer
	if issuer == nil {
		signingKey, err := keys.DeriveSigningKey(credentialKeyContext, master)
		if err != nil {
			return nil, err
		}
		issuer, err = credential.NewIssuer(&credential.Config{
			PrivateKey: signingKey,
			AccessTTL:  cfg.AccessTTL,
			RenewalTTL: cfg.RenewalTTL,
			KeyID:      keys.EncodeKey(signingKey.Public().(ed25519.PublicKey))[:16],
			Clock:      clock,
		})
		if err != nil {
			return nil, err
		}
	}

	mailer := cfg.Mailer
	if mailer == nil {
		mailer = NewLogMailer(log)
	}

	auditor := cfg.Audit
	if auditor == nil {
		auditor = audit.NoOpAuditAdapter{}
	}

	s := &Server{
		master:        master,
		issuer:        issuer,
		links:         newLinkStore(cfg.LinkTTL, clock),
		rotations:     newRotationStore(DefaultRotationTTL, clock),
		revoked:       newRevocationList(clock),
		replay:        newReplayCache(2*cfg.ClockSkew, clock),
		limiter:       newLimiter(cfg.RateLimit, clock),
		mailer:        mailer,
		audit:         auditor,
		logger:        log.With(logger.String("component", "server")),
		clock:         clock,
		linkScheme:    cfg.LinkScheme,
		allowedHosts:  make(map[string]struct{}, len(cfg.AllowedUIHosts)),
		devMode:       cfg.DevMode,
		secureCookies: cfg.SecureCookies,
		clockSkew:     cfg.ClockSkew,
		version:       cfg.Version,
		tlsConfig:     cfg.TLSConfig,
	}
	for _, h := range cfg.AllowedUIHosts {
		s.allowedHosts[h] = struct{}{}
	}
	s.health = newHealthChecker(s)
	s.collector = s.newCollector()

	s.router = s.setupRouter()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    cfg.TLSConfig,
	}
	return s, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(correlation.Middleware)
	r.Use(s.recoverPanics)
	r.Use(s.accessLog)
	r.Use(metrics.HTTPMiddleware)
	r.Use(CORSMiddleware)

	r.Get("/health", s.HealthHandler)
	r.Head("/health", s.HealthHandler)
	r.Get("/health/live", s.LivenessHandler)
	r.Get("/health/ready", s.ReadinessHandler)
	r.Handle("/metrics", metrics.Handler())

	r.With(ratelimit.Middleware(s.limiter, s.rateLimited)).
		Post(protocol.PathLogin, s.RequestLinkHandler)
	r.Get(protocol.PathLogin, s.ValidateLinkHandler)
	r.Delete(protocol.PathLogin, s.LogoutHandler)
	r.Post(protocol.PathRefresh, s.RefreshHandler)
	r.Post(protocol.PathRotate, s.RotateHandler)

	r.Route(protocol.PathResource, func(r chi.Router) {
		r.Use(s.AuthenticationMiddleware())
		s.api = r
		r.Get("/session", s.resource(s.sessionInfo))
	})

	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Handle registers a resource handler under the authenticated /api/v1
// group. Register handlers before serving requests.
func (s *Server) Handle(method, path string, h ResourceHandler) {
	s.api.Method(method, path, s.resource(h))
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.listenerMu.Lock()
	s.listener = ln
	s.stopCollector = cancel
	s.listenerMu.Unlock()
	go s.collector.Run(ctx)

	s.health.markStarted()
	if s.tlsConfig != nil {
		s.logger.Info("Starting HTTPS server", logger.String("addr", ln.Addr().String()))
		if err := s.server.ServeTLS(ln, "", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
		return nil
	}

	s.logger.Info("Starting HTTP server", logger.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	s.health.markStopped()
	s.listenerMu.Lock()
	if s.stopCollector != nil {
		s.stopCollector()
	}
	s.listenerMu.Unlock()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", logger.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) newCollector() *metrics.Collector {
	c := metrics.NewCollector(collectInterval)
	c.Watch(metrics.OutstandingLinks, func() float64 { return float64(s.links.outstanding()) })
	c.Watch(metrics.PendingRotations, func() float64 { return float64(s.rotations.size()) })
	c.Watch(metrics.RevokedCredentials, func() float64 { return float64(s.revoked.size()) })
	c.Watch(metrics.ReplayCacheEntries, func() float64 { return float64(s.replay.size()) })
	return c
}

// Addr returns the address the server is listening on, or the configured
// address before Serve.
func (s *Server) Addr() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Issuer returns the credential issuer.
func (s *Server) Issuer() *credential.Issuer {
	return s.issuer
}

// SessionKey returns the public session key the server signs responses
// to email with.
func (s *Server) SessionKey(email string) (ed25519.PublicKey, error) {
	key, err := s.sessionKey(email)
	if err != nil {
		return nil, err
	}
	return key.Public().(ed25519.PublicKey), nil
}

func (s *Server) sessionKey(email string) (ed25519.PrivateKey, error) {
	return keys.DeriveSigningKey(sessionKeyPrefix+keys.NormalizeEmail(email), s.master)
}

func newLimiter(cfg *ratelimit.Config, clock func() time.Time) *ratelimit.Limiter {
	if cfg == nil {
		return ratelimit.New(nil)
	}
	c := *cfg
	if c.Clock == nil {
		c.Clock = clock
	}
	return ratelimit.New(&c)
}

func (s *Server) hostAllowed(host string) bool {
	if len(s.allowedHosts) == 0 {
		return true
	}
	_, ok := s.allowedHosts[host]
	return ok
}
