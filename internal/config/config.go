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

// Package config loads the authentication server configuration from a
// YAML file with ZKAUTH_* environment overrides.
package config

import (
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/audit"
	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/ratelimit"
)

// Config represents the complete server configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Links       LinksConfig       `yaml:"links"`
	Logging     LoggingConfig     `yaml:"logging"`
	TLS         TLSConfig         `yaml:"tls"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Audit       AuditConfig       `yaml:"audit"`
}

// ServerConfig contains listener settings
type ServerConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	ClockSkew     time.Duration `yaml:"clock_skew"`
	SecureCookies bool          `yaml:"secure_cookies"`

	// MasterContextFile holds the base64url encoded 64-byte master
	// context every server key is derived from.
	MasterContextFile string `yaml:"master_context_file"`
}

// CredentialsConfig contains credential lifetimes
type CredentialsConfig struct {
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RenewalTTL time.Duration `yaml:"renewal_ttl"`
}

// LinksConfig controls magic link generation
type LinksConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	Scheme         string        `yaml:"scheme"`
	AllowedUIHosts []string      `yaml:"allowed_ui_hosts"`
	DevMode        bool          `yaml:"dev_mode"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TLSConfig contains TLS settings
type TLSConfig struct {
	Enabled      bool     `yaml:"enabled"`
	CertFile     string   `yaml:"cert_file"`
	KeyFile      string   `yaml:"key_file"`
	MinVersion   string   `yaml:"min_version"`
	MaxVersion   string   `yaml:"max_version"`
	CipherSuites []string `yaml:"cipher_suites"`
}

// RateLimitConfig throttles link requests per client IP
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AuditConfig selects where authentication events are recorded
type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Backend  string `yaml:"backend"` // log, memory
	Capacity int    `yaml:"capacity"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8443,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			ClockSkew:    2 * time.Minute,
		},
		Credentials: CredentialsConfig{
			AccessTTL:  15 * time.Minute,
			RenewalTTL: 7 * 24 * time.Hour,
		},
		Links: LinksConfig{
			TTL:    15 * time.Minute,
			Scheme: "https",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 10,
			Burst:             5,
		},
		Metrics: MetricsConfig{Enabled: true},
		Audit:   AuditConfig{Enabled: true, Backend: "log"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - config path is an operator-supplied flag
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("ZKAUTH_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("ZKAUTH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		} else {
			log.Printf("Warning: invalid ZKAUTH_PORT value %q: %v", port, err)
		}
	}
	if file := os.Getenv("ZKAUTH_MASTER_CONTEXT_FILE"); file != "" {
		cfg.Server.MasterContextFile = file
	}
	if secure := os.Getenv("ZKAUTH_SECURE_COOKIES"); secure != "" {
		if b, err := strconv.ParseBool(secure); err == nil {
			cfg.Server.SecureCookies = b
		} else {
			log.Printf("Warning: invalid ZKAUTH_SECURE_COOKIES value %q: %v", secure, err)
		}
	}
	if hosts := os.Getenv("ZKAUTH_ALLOWED_UI_HOSTS"); hosts != "" {
		cfg.Links.AllowedUIHosts = splitList(hosts)
	}
	if dev := os.Getenv("ZKAUTH_DEV_MODE"); dev != "" {
		if b, err := strconv.ParseBool(dev); err == nil {
			cfg.Links.DevMode = b
		} else {
			log.Printf("Warning: invalid ZKAUTH_DEV_MODE value %q: %v", dev, err)
		}
	}
	if ttl := os.Getenv("ZKAUTH_ACCESS_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.Credentials.AccessTTL = d
		} else {
			log.Printf("Warning: invalid ZKAUTH_ACCESS_TTL value %q: %v", ttl, err)
		}
	}
	if ttl := os.Getenv("ZKAUTH_RENEWAL_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.Credentials.RenewalTTL = d
		} else {
			log.Printf("Warning: invalid ZKAUTH_RENEWAL_TTL value %q: %v", ttl, err)
		}
	}
	if level := os.Getenv("ZKAUTH_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("ZKAUTH_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if cert := os.Getenv("ZKAUTH_TLS_CERT"); cert != "" {
		cfg.TLS.CertFile = cert
		cfg.TLS.Enabled = true
	}
	if key := os.Getenv("ZKAUTH_TLS_KEY"); key != "" {
		cfg.TLS.KeyFile = key
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ClockSkew < 0 {
		return fmt.Errorf("clock_skew cannot be negative")
	}

	if c.Credentials.AccessTTL <= 0 {
		return fmt.Errorf("access_ttl must be positive")
	}
	if c.Credentials.RenewalTTL <= c.Credentials.AccessTTL {
		return fmt.Errorf("renewal_ttl (%s) must exceed access_ttl (%s)",
			c.Credentials.RenewalTTL, c.Credentials.AccessTTL)
	}

	if c.Links.TTL <= 0 {
		return fmt.Errorf("links.ttl must be positive")
	}
	switch c.Links.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("invalid link scheme: %q (must be http or https)", c.Links.Scheme)
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS enabled but cert_file not specified")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS enabled but key_file not specified")
		}
	}

	if c.Audit.Enabled && c.Audit.Backend != "log" && c.Audit.Backend != "memory" {
		return fmt.Errorf("invalid audit backend: %s (must be log or memory)", c.Audit.Backend)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("ratelimit enabled but requests_per_minute is %d", c.RateLimit.RequestsPerMinute)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Logger builds the logging adapter described by the logging section.
func (c *Config) Logger() logger.Logger {
	level, err := logger.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logger.LevelInfo
	}
	return logger.NewSlogAdapter(&logger.SlogConfig{
		Level: level,
		JSON:  c.Logging.Format == "json",
	})
}

// RateLimiter returns the limiter configuration for link requests.
func (c *Config) RateLimiter() *ratelimit.Config {
	return &ratelimit.Config{
		Enabled:           c.RateLimit.Enabled,
		RequestsPerMinute: c.RateLimit.RequestsPerMinute,
		Burst:             c.RateLimit.Burst,
	}
}

// Auditor builds the audit adapter described by the audit section.
func (c *Config) Auditor(log logger.Logger) audit.AuditAdapter {
	switch {
	case !c.Audit.Enabled:
		return audit.NoOpAuditAdapter{}
	case c.Audit.Backend == "memory":
		return audit.NewMemoryAuditAdapter(c.Audit.Capacity)
	default:
		return audit.NewLogAuditAdapter(log)
	}
}

// LoadMasterContext reads the master context. ZKAUTH_MASTER_CONTEXT takes
// precedence over the configured file.
func (c *Config) LoadMasterContext() ([]byte, error) {
	encoded := os.Getenv("ZKAUTH_MASTER_CONTEXT")
	if encoded == "" {
		if c.Server.MasterContextFile == "" {
			return nil, fmt.Errorf("no master context: set server.master_context_file or ZKAUTH_MASTER_CONTEXT")
		}
		// #nosec G304 - path from trusted config
		data, err := os.ReadFile(c.Server.MasterContextFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read master context: %w", err)
		}
		encoded = string(data)
	}
	return DecodeMasterContext(encoded)
}

// DecodeMasterContext parses a base64url master context, padded or not.
func DecodeMasterContext(encoded string) ([]byte, error) {
	encoded = strings.TrimRight(strings.TrimSpace(encoded), "=")
	master, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("master context is not base64url: %w", err)
	}
	if len(master) != keys.ContextSize {
		return nil, fmt.Errorf("master context must be %d bytes, got %d", keys.ContextSize, len(master))
	}
	return master, nil
}

// WriteMasterContext generates a fresh master context and writes it to
// path. An existing file is never overwritten.
func WriteMasterContext(path string) error {
	master, err := keys.NewContext()
	if err != nil {
		return err
	}
	// #nosec G304 - path from trusted config
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create master context file: %w", err)
	}
	if _, err := f.WriteString(base64.RawURLEncoding.EncodeToString(master) + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
