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

package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/correlation"
	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
)

// maxResponseSize caps response bodies read into memory.
const maxResponseSize = 1 << 20

// Client talks HTTP to the auth server.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
	logger     logger.Logger
	jar        http.CookieJar
}

// New creates a transport for cfg.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: missing config", ErrInvalidBaseURL)
	}
	base, err := normalizeBaseURL(cfg.BaseURL, cfg.TLSEnabled)
	if err != nil {
		return nil, err
	}

	jar := cfg.Jar
	if jar == nil {
		jar, err = NewJar(nil)
		if err != nil {
			return nil, err
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport, err := newTransport(cfg)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{Transport: transport}
	} else {
		clone := *httpClient
		httpClient = &clone
	}
	httpClient.Jar = jar
	if httpClient.Timeout == 0 {
		httpClient.Timeout = DefaultTimeout
		if cfg.Timeout > 0 {
			httpClient.Timeout = cfg.Timeout
		}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		baseURL:    base.String(),
		logger:     log.With(logger.String("component", "client")),
		jar:        jar,
	}, nil
}

func newTransport(cfg *Config) (http.RoundTripper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !strings.HasPrefix(cfg.BaseURL, "https://") && !cfg.TLSEnabled {
		return transport, nil
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.TLSInsecureSkipVerify, // #nosec G402 -- opt-in for development servers
		MinVersion:         tls.VersionTLS12,
	}
	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	transport.TLSClientConfig = tlsConfig
	return transport, nil
}

// BaseURL returns the normalized server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs req. Non-2xx responses are returned as *StatusError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	reqURL := c.baseURL + req.Path
	if req.RawQuery != "" {
		reqURL += "?" + req.RawQuery
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Bearer != "" {
		httpReq.Header.Set("Authorization", protocol.CredentialType+" "+req.Bearer)
	}
	id := correlation.Inject(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", logger.Error(closeErr))
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("request completed",
		logger.String("method", req.Method),
		logger.String("path", req.Path),
		logger.Int("status", resp.StatusCode),
		logger.String("correlation_id", id))

	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, respBody)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func statusError(status int, body []byte) error {
	var errResp protocol.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &StatusError{StatusCode: status, Code: errResp.Error, Message: errResp.Message}
	}
	return &StatusError{StatusCode: status, Message: http.StatusText(status)}
}

// Envelope parses the response body as a signed envelope.
func (r *Response) Envelope() (*envelope.SignedEnvelope, error) {
	return envelope.Parse(r.Body)
}

// PostEnvelope posts a signed envelope as the JSON request body.
func (c *Client) PostEnvelope(ctx context.Context, path string, env *envelope.SignedEnvelope, bearer string) (*Response, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body, Bearer: bearer})
}

// Health checks the health of the server.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: "/health"})
	return err
}

// ClearCookies drops every cookie, including the renewal credential. Jars
// that cannot be cleared are left alone.
func (c *Client) ClearCookies() error {
	if clearer, ok := c.jar.(interface{ Clear() error }); ok {
		return clearer.Clear()
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
