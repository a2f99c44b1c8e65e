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

// Package client is the HTTP transport used by the magic-link
// authenticator and the token lifecycle manager. It owns the cookie jar that
// carries the renewal credential, propagates correlation IDs and converts
// error bodies into protocol sentinel errors.
package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
)

// DefaultTimeout bounds a single request when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

var (
	// ErrConnectionFailed is returned when the server could not be reached.
	ErrConnectionFailed = errors.New("client: connection failed")

	// ErrInvalidBaseURL is returned by New for a malformed server address.
	ErrInvalidBaseURL = errors.New("client: invalid base URL")
)

// Config configures the transport.
type Config struct {
	// BaseURL is the auth server address, for example https://auth.example.com.
	// A bare host:port is treated as http unless TLSEnabled is set.
	BaseURL string

	// TLSEnabled selects https for a bare host:port.
	TLSEnabled bool

	// TLSInsecureSkipVerify skips TLS certificate verification (not recommended)
	TLSInsecureSkipVerify bool

	// TLSCAFile is the path to the CA certificate file
	TLSCAFile string

	// Timeout bounds each request.
	Timeout time.Duration

	// Headers are additional HTTP headers to include in requests
	Headers map[string]string

	// Jar holds the renewal cookie. A fresh in-memory jar is used when nil.
	Jar http.CookieJar

	// HTTPClient overrides the underlying client. Its Jar is replaced by
	// the configured one.
	HTTPClient *http.Client

	Logger logger.Logger
}

// StatusError is returned for every non-2xx response. It unwraps to the
// protocol sentinel matching its error code.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d %s", e.StatusCode, e.Code)
}

// Unwrap returns the protocol sentinel for the error code.
func (e *StatusError) Unwrap() error {
	return protocol.ErrorForCode(e.Code, e.StatusCode)
}

// Request is one HTTP exchange with the auth server.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Body     []byte
	Bearer   string
	Header   http.Header
}

// Response is a successful (2xx) response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func normalizeBaseURL(raw string, tlsEnabled bool) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidBaseURL)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if tlsEnabled {
			raw = "https://" + raw
		} else {
			raw = "http://" + raw
		}
	}
	u, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidBaseURL)
	}
	return u, nil
}
