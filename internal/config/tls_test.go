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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTestCert writes a self-signed localhost certificate and returns
// the cert and key paths.
func writeTestCert(t *testing.T) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644); err != nil {
		t.Fatalf("Failed to write cert file: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}
	return certFile, keyFile
}

func TestLoadTLSConfig_Disabled(t *testing.T) {
	cfg := &TLSConfig{Enabled: false}

	tlsConfig, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v, want nil", err)
	}
	if tlsConfig != nil {
		t.Errorf("LoadTLSConfig() = %v, want nil for disabled TLS", tlsConfig)
	}
}

func TestLoadTLSConfig_ValidConfig(t *testing.T) {
	certFile, keyFile := writeTestCert(t)
	cfg := &TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}

	tlsConfig, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v, want nil", err)
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Errorf("len(Certificates) = %v, want 1", len(tlsConfig.Certificates))
	}
	if tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %v, want TLS 1.2", tlsConfig.MinVersion)
	}
	if tlsConfig.MaxVersion != 0 {
		t.Errorf("MaxVersion = %v, want 0", tlsConfig.MaxVersion)
	}
}

func TestLoadTLSConfig_MissingFiles(t *testing.T) {
	certFile, _ := writeTestCert(t)

	cases := []*TLSConfig{
		{Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"},
		{Enabled: true, CertFile: certFile, KeyFile: "/nonexistent/key.pem"},
	}
	for _, cfg := range cases {
		if _, err := cfg.LoadTLSConfig(); err == nil {
			t.Errorf("LoadTLSConfig(%s, %s) should fail", cfg.CertFile, cfg.KeyFile)
		}
	}
}

func TestLoadTLSConfig_Versions(t *testing.T) {
	certFile, keyFile := writeTestCert(t)

	tests := []struct {
		name    string
		min     string
		max     string
		wantMin uint16
		wantMax uint16
		wantErr bool
	}{
		{name: "tls13 only", min: "TLS1.3", max: "TLS1.3", wantMin: tls.VersionTLS13, wantMax: tls.VersionTLS13},
		{name: "tls12 floor", min: "TLS1.2", wantMin: tls.VersionTLS12},
		{name: "legacy rejected", min: "TLS1.0", wantErr: true},
		{name: "inverted range", min: "TLS1.3", max: "TLS1.2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &TLSConfig{
				Enabled:    true,
				CertFile:   certFile,
				KeyFile:    keyFile,
				MinVersion: tt.min,
				MaxVersion: tt.max,
			}
			tlsConfig, err := cfg.LoadTLSConfig()
			if tt.wantErr {
				if err == nil {
					t.Fatal("LoadTLSConfig() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadTLSConfig() error = %v", err)
			}
			if tlsConfig.MinVersion != tt.wantMin {
				t.Errorf("MinVersion = %x, want %x", tlsConfig.MinVersion, tt.wantMin)
			}
			if tlsConfig.MaxVersion != tt.wantMax {
				t.Errorf("MaxVersion = %x, want %x", tlsConfig.MaxVersion, tt.wantMax)
			}
		})
	}
}

func TestLoadTLSConfig_CipherSuites(t *testing.T) {
	certFile, keyFile := writeTestCert(t)

	cfg := &TLSConfig{
		Enabled:      true,
		CertFile:     certFile,
		KeyFile:      keyFile,
		CipherSuites: []string{"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384", "TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305"},
	}
	tlsConfig, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v", err)
	}
	if len(tlsConfig.CipherSuites) != 2 {
		t.Fatalf("len(CipherSuites) = %d, want 2", len(tlsConfig.CipherSuites))
	}
	if tlsConfig.CipherSuites[0] != tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384 {
		t.Errorf("CipherSuites[0] = %x", tlsConfig.CipherSuites[0])
	}

	cfg.CipherSuites = []string{"TLS_RSA_WITH_RC4_128_SHA"}
	if _, err := cfg.LoadTLSConfig(); err == nil {
		t.Error("LoadTLSConfig() should reject an unknown cipher suite")
	}
}
