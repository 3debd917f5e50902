// Package token provides the Figma access-token sources used by the sync engine.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kataras/figma-slides/pkg/figma"
	"github.com/kataras/figma-slides/pkg/syncer"
)

// EnvVar is read by NewStatic when no token is configured.
const EnvVar = "FIGMA_TOKEN"

// DefaultTimeout bounds a single token endpoint request.
const DefaultTimeout = 10 * time.Second

// NewStatic returns a provider that always answers tok, or the value of
// FIGMA_TOKEN when tok is empty. The provider may answer an empty token.
func NewStatic(tok string) syncer.StaticToken {
	if tok == "" {
		tok = os.Getenv(EnvVar)
	}
	return syncer.StaticToken(strings.TrimSpace(tok))
}

// HTTP fetches the token from an endpoint answering {"token": "..."} on GET.
// An empty token in the answer means the user has not connected Figma yet.
type HTTP struct {
	url     string
	client  *http.Client
	timeout time.Duration
	header  http.Header
	logger  syncer.Logger
}

// HTTPOption configures an HTTP provider.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTP) { p.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(p *HTTP) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithHeader adds a header to every token request, e.g. a session cookie.
func WithHeader(key, value string) HTTPOption {
	return func(p *HTTP) { p.header.Add(key, value) }
}

// WithLogger sets the logger.
func WithLogger(l syncer.Logger) HTTPOption {
	return func(p *HTTP) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewHTTP returns a provider that queries url.
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	p := &HTTP{
		url:     url,
		client:  http.DefaultClient,
		timeout: DefaultTimeout,
		header:  make(http.Header),
		logger:  syncer.NopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Token implements syncer.TokenProvider. Transport failures wrap
// figma.ErrTimeout or figma.ErrNetworkUnavailable so callers treat them as offline.
func (p *HTTP) Token(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", fmt.Errorf("token: failed to create request: %w", err)
	}
	for k, v := range p.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		err = classify(err)
		p.logger.Debug("token endpoint unreachable", "url", p.url, "error", err)
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("token: failed to read response: %w", classify(err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token: endpoint answered %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("token: failed to decode response: %w", err)
	}
	return strings.TrimSpace(tr.Token), nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("token: %w: %w", figma.ErrTimeout, err)
	}
	return fmt.Errorf("token: %w: %w", figma.ErrNetworkUnavailable, err)
}
