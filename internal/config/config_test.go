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

package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/audit"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	return path
}

func TestLoad_Success(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9443
  clock_skew: 30s
  secure_cookies: true
  master_context_file: "/etc/zkauth/master"

credentials:
  access_ttl: 10m
  renewal_ttl: 72h

links:
  ttl: 5m
  scheme: "https"
  allowed_ui_hosts:
    - app.example.com
    - admin.example.com

logging:
  level: "debug"
  format: "json"

ratelimit:
  enabled: true
  requests_per_minute: 30
  burst: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Addr() != "127.0.0.1:9443" {
		t.Errorf("Addr() = %v, want 127.0.0.1:9443", cfg.Addr())
	}
	if cfg.Server.ClockSkew != 30*time.Second {
		t.Errorf("Server.ClockSkew = %v, want 30s", cfg.Server.ClockSkew)
	}
	if !cfg.Server.SecureCookies {
		t.Error("Server.SecureCookies = false, want true")
	}
	if cfg.Credentials.AccessTTL != 10*time.Minute {
		t.Errorf("Credentials.AccessTTL = %v, want 10m", cfg.Credentials.AccessTTL)
	}
	if cfg.Credentials.RenewalTTL != 72*time.Hour {
		t.Errorf("Credentials.RenewalTTL = %v, want 72h", cfg.Credentials.RenewalTTL)
	}
	if len(cfg.Links.AllowedUIHosts) != 2 || cfg.Links.AllowedUIHosts[1] != "admin.example.com" {
		t.Errorf("Links.AllowedUIHosts = %v", cfg.Links.AllowedUIHosts)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %v, want json", cfg.Logging.Format)
	}

	rl := cfg.RateLimiter()
	if !rl.Enabled || rl.RequestsPerMinute != 30 || rl.Burst != 10 {
		t.Errorf("RateLimiter() = %+v", rl)
	}

	// Unset sections keep their defaults.
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want default true")
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Server.Port != 8443 {
		t.Errorf("Server.Port = %d, want 8443", cfg.Server.Port)
	}
	if cfg.Links.Scheme != "https" {
		t.Errorf("Links.Scheme = %q, want https", cfg.Links.Scheme)
	}
	if cfg.Logger() == nil {
		t.Error("Logger() returned nil")
	}
}

func TestAuditor(t *testing.T) {
	cfg := Default()
	log := cfg.Logger()

	if _, ok := cfg.Auditor(log).(*audit.LogAuditAdapter); !ok {
		t.Errorf("Auditor() = %T, want *audit.LogAuditAdapter", cfg.Auditor(log))
	}
	cfg.Audit.Backend = "memory"
	if _, ok := cfg.Auditor(log).(*audit.MemoryAuditAdapter); !ok {
		t.Errorf("Auditor() = %T, want *audit.MemoryAuditAdapter", cfg.Auditor(log))
	}
	cfg.Audit.Enabled = false
	if _, ok := cfg.Auditor(log).(audit.NoOpAuditAdapter); !ok {
		t.Errorf("Auditor() = %T, want audit.NoOpAuditAdapter", cfg.Auditor(log))
	}
}

func TestLoad_FileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() should fail for a missing file")
	}

	path := writeConfig(t, "server: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail for invalid YAML")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ZKAUTH_HOST", "10.0.0.1")
	t.Setenv("ZKAUTH_PORT", "7000")
	t.Setenv("ZKAUTH_DEV_MODE", "true")
	t.Setenv("ZKAUTH_ALLOWED_UI_HOSTS", "a.example.com, b.example.com,")
	t.Setenv("ZKAUTH_ACCESS_TTL", "5m")
	t.Setenv("ZKAUTH_LOG_LEVEL", "warn")
	t.Setenv("ZKAUTH_MASTER_CONTEXT_FILE", "/run/secrets/master")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr() != "10.0.0.1:7000" {
		t.Errorf("Addr() = %v, want 10.0.0.1:7000", cfg.Addr())
	}
	if !cfg.Links.DevMode {
		t.Error("Links.DevMode = false, want true")
	}
	if got := strings.Join(cfg.Links.AllowedUIHosts, ","); got != "a.example.com,b.example.com" {
		t.Errorf("Links.AllowedUIHosts = %v", got)
	}
	if cfg.Credentials.AccessTTL != 5*time.Minute {
		t.Errorf("Credentials.AccessTTL = %v, want 5m", cfg.Credentials.AccessTTL)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %v, want warn", cfg.Logging.Level)
	}
	if cfg.Server.MasterContextFile != "/run/secrets/master" {
		t.Errorf("Server.MasterContextFile = %v", cfg.Server.MasterContextFile)
	}
}

func TestLoad_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("ZKAUTH_PORT", "not-a-port")
	t.Setenv("ZKAUTH_DEV_MODE", "maybe")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8443 {
		t.Errorf("Server.Port = %d, want default 8443", cfg.Server.Port)
	}
	if cfg.Links.DevMode {
		t.Error("Links.DevMode = true, want default false")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"negative skew", func(c *Config) { c.Server.ClockSkew = -time.Second }},
		{"zero access ttl", func(c *Config) { c.Credentials.AccessTTL = 0 }},
		{"renewal not longer than access", func(c *Config) { c.Credentials.RenewalTTL = c.Credentials.AccessTTL }},
		{"zero link ttl", func(c *Config) { c.Links.TTL = 0 }},
		{"bad scheme", func(c *Config) { c.Links.Scheme = "ftp" }},
		{"bad level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"tls without cert", func(c *Config) { c.TLS.Enabled = true }},
		{"tls without key", func(c *Config) { c.TLS = TLSConfig{Enabled: true, CertFile: "c.pem"} }},
		{"bad audit backend", func(c *Config) { c.Audit.Backend = "kafka" }},
		{"ratelimit without rate", func(c *Config) { c.RateLimit.RequestsPerMinute = 0 }},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestMasterContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master")
	if err := WriteMasterContext(path); err != nil {
		t.Fatalf("WriteMasterContext() error = %v", err)
	}
	if err := WriteMasterContext(path); err == nil {
		t.Error("WriteMasterContext() should refuse to overwrite")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	cfg := Default()
	cfg.Server.MasterContextFile = path
	master, err := cfg.LoadMasterContext()
	if err != nil {
		t.Fatalf("LoadMasterContext() error = %v", err)
	}
	if len(master) != 64 {
		t.Errorf("len(master) = %d, want 64", len(master))
	}

	// The environment wins over the file.
	env := make([]byte, 64)
	env[0] = 0xAA
	t.Setenv("ZKAUTH_MASTER_CONTEXT", base64.URLEncoding.EncodeToString(env))
	master, err = cfg.LoadMasterContext()
	if err != nil {
		t.Fatalf("LoadMasterContext() error = %v", err)
	}
	if master[0] != 0xAA {
		t.Error("LoadMasterContext() ignored ZKAUTH_MASTER_CONTEXT")
	}
}

func TestMasterContext_Errors(t *testing.T) {
	cfg := Default()
	if _, err := cfg.LoadMasterContext(); err == nil {
		t.Error("LoadMasterContext() should fail without a source")
	}
	if _, err := DecodeMasterContext("!!!"); err == nil {
		t.Error("DecodeMasterContext() should reject non-base64 input")
	}
	if _, err := DecodeMasterContext(base64.RawURLEncoding.EncodeToString(make([]byte, 32))); err == nil {
		t.Error("DecodeMasterContext() should reject a 32-byte context")
	}
}
