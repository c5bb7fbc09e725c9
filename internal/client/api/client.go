// Package api is the REST client of the client core.
//
// Every request is JSON, carries the session credential as a bearer token
// when one is available, and maps failures onto the apperr taxonomy. A 401
// on a credentialed request means the credential is no longer accepted: the
// client asks its Navigator to hard-redirect to the login view before
// returning the error.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/carthagofood/carthago/internal/apperr"
)

// LoginPath is where the client redirects after an unauthorized response.
const LoginPath = "/auth/login"

// TokenSource returns the current credential, or "" when there is none.
type TokenSource func() string

// Navigator performs a hard redirect, discarding in-app state.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(path string) { f(path) }

// Client talks to the REST collaborator.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
	nav     Navigator
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource sets where the bearer credential comes from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.token = ts }
}

// WithNavigator sets the redirect target for unauthorized responses.
func WithNavigator(n Navigator) Option {
	return func(c *Client) { c.nav = n }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a client for the collaborator at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		token:   func() string { return "" },
		nav:     NavigatorFunc(func(string) {}),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClient returns an http.Client with the given timeout. When caFile is
// set, its certificates are trusted in addition to the system roots.
func NewHTTPClient(caFile string, timeout time.Duration) (*http.Client, error) {
	if caFile == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	tlsConfig, err := LoadTLSConfig(caFile)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// LoadTLSConfig returns a client TLS configuration trusting the system pool
// plus the PEM certificate in caFile. An empty caFile yields nil.
func LoadTLSConfig(caFile string) (*tls.Config, error) {
	if caFile == "" {
		return nil, nil
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool, err := x509.SystemCertPool()
	if err != nil || caPool == nil {
		caPool = x509.NewCertPool()
	}
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA cert")
	}
	return &tls.Config{
		RootCAs:    caPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	return c.do(ctx, method, path, in, out, false)
}

// errorBody is the error payload shape of the collaborator.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do is Do with authFlow marking the credential-exchange endpoints, whose
// 401/403 responses are rejections rather than expired sessions.
func (c *Client) do(ctx context.Context, method, path string, in, out any, authFlow bool) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return apperr.Transport("failed to encode request", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperr.Transport("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	token := c.token()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return apperr.Transport("network error", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Transport("failed to read response", err)
	}

	c.log.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(resp.StatusCode, data)
		switch {
		case authFlow && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
			return apperr.Auth(msg, resp.StatusCode)
		case resp.StatusCode == http.StatusUnauthorized && token != "":
			c.log.Warn("credential rejected, redirecting to login", zap.String("path", path))
			c.nav.Navigate(LoginPath)
			return apperr.Unauthorized(msg)
		default:
			return apperr.Request(resp.StatusCode, msg)
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Transport("invalid response", err)
	}
	return nil
}

// errorMessage extracts a user-facing message from an error response. JSON
// bodies use "error" or "message"; plain-text bodies are used as is.
func errorMessage(status int, data []byte) string {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil {
		if eb.Error != "" {
			return eb.Error
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" && !strings.HasPrefix(text, "{") {
		return text
	}
	return http.StatusText(status)
}
