package figma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Version is the current release of figma-slides.
const Version = "0.3.0"

const (
	// DefaultBaseURL is the Figma REST API root.
	DefaultBaseURL = "https://api.figma.com/v1"
	// DefaultRequestTimeout bounds every metadata and node request.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultDownloadTimeout bounds a single rendered-image download.
	DefaultDownloadTimeout = 60 * time.Second
)

var (
	// ErrTimeout reports that a request was abandoned because its deadline passed.
	ErrTimeout = errors.New("figma: request timed out")
	// ErrNetworkUnavailable reports a transport-level failure (DNS, refused connection, reset).
	ErrNetworkUnavailable = errors.New("figma: network unavailable")
)

// APIError is returned when the Figma API answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("figma: API request failed with status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is a timeout or network failure rather than
// a definitive answer from the API.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetworkUnavailable)
}

// Client represents a Figma API client with configured HTTP settings for reliable communication
// with the Figma API. It includes retry logic and optimized transport settings for handling large files.
type Client struct {
	accessToken     string
	baseURL         string
	httpClient      *http.Client
	requestTimeout  time.Duration
	downloadTimeout time.Duration
	maxAttempts     int
	backoff         time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root, e.g. to point at a fake server in tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRequestTimeout sets the per-request timeout for API calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithDownloadTimeout sets the timeout of a single image download.
func WithDownloadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.downloadTimeout = d
		}
	}
}

// WithRetry sets the number of attempts per API request and the base backoff
// between them. The n-th retry waits n*backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.maxAttempts = attempts
		c.backoff = backoff
	}
}

// NewClient creates a new Figma API client with the provided personal access token.
// The client is configured with optimized HTTP transport settings including connection pooling
// and disabled HTTP/2 (for large file stability).
func NewClient(accessToken string, opts ...Option) *Client {
	// Configure transport for better handling of large files
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 10,
		// Disable HTTP/2 to avoid stream errors with large files
		ForceAttemptHTTP2: false,
	}

	c := &Client{
		accessToken: accessToken,
		baseURL:     DefaultBaseURL,
		httpClient: &http.Client{
			Timeout:   10 * time.Minute, // upper bound, requests carry their own deadlines
			Transport: transport,
		},
		requestTimeout:  DefaultRequestTimeout,
		downloadTimeout: DefaultDownloadTimeout,
		maxAttempts:     3,
		backoff:         2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a copy of the client that authenticates with token.
// The copy shares the underlying HTTP client and its connection pool.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.accessToken = token
	return &cp
}

var fileKeyRegexp = regexp.MustCompile(`^https?://(?:www\.)?figma\.com/(?:file|design|proto)/([A-Za-z0-9]+)(?:[/?#]|$)`)

// ExtractFileKey extracts the unique file identifier from a Figma URL.
// Supports /file/, /design/ and /proto/ URL patterns (e.g., figma.com/file/ABC123/Design-Name).
// Returns an error if the URL doesn't match the expected Figma domain pattern.
func ExtractFileKey(figmaURL string) (string, error) {
	// Anchored to ensure the entire URL matches the expected pattern and prevent bypass attacks.
	matches := fileKeyRegexp.FindStringSubmatch(strings.TrimSpace(figmaURL))
	if len(matches) < 2 {
		return "", fmt.Errorf("invalid Figma URL format: must be a valid figma.com URL with /file/, /design/ or /proto/ path")
	}

	return matches[1], nil
}

// ExtractNodeIDs returns the node IDs referenced by a Figma URL, either through
// the node-id query parameter, a #fragment, or a /nodes/ path segment.
// URL-encoded IDs ("123-456") are normalized to the API form ("123:456").
func ExtractNodeIDs(figmaURL string) ([]string, error) {
	u, err := url.Parse(figmaURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	var raw string
	switch {
	case u.Query().Get("node-id") != "":
		raw = u.Query().Get("node-id")
	case u.Fragment != "":
		raw = u.Fragment
	case strings.Contains(u.Path, "/nodes/"):
		raw = u.Path[strings.Index(u.Path, "/nodes/")+len("/nodes/"):]
	}

	ids := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		ids = append(ids, strings.ReplaceAll(id, "-", ":"))
	}

	return deduplicateNodeIDs(ids), nil
}

// deduplicateNodeIDs removes repeated IDs while preserving first-seen order.
func deduplicateNodeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// GetFile retrieves complete file data from the Figma API including the document tree and metadata.
func (c *Client) GetFile(ctx context.Context, fileKey string) (*FileResponse, error) {
	var fileResp FileResponse
	if err := c.get(ctx, "/files/"+url.PathEscape(fileKey), nil, &fileResp); err != nil {
		return nil, err
	}
	return &fileResp, nil
}

// GetFileMeta retrieves file metadata with the document limited to its pages.
func (c *Client) GetFileMeta(ctx context.Context, fileKey string) (*FileResponse, error) {
	var fileResp FileResponse
	q := url.Values{"depth": {"1"}}
	if err := c.get(ctx, "/files/"+url.PathEscape(fileKey), q, &fileResp); err != nil {
		return nil, err
	}
	return &fileResp, nil
}

// GetFileNodes fetches the subtrees rooted at ids, traversing at most depth levels below each node.
// A depth <= 0 lets the API return the complete subtree.
func (c *Client) GetFileNodes(ctx context.Context, fileKey string, ids []string, depth int) (*NodesResponse, error) {
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	if depth > 0 {
		q.Set("depth", strconv.Itoa(depth))
	}

	var nodesResp NodesResponse
	if err := c.get(ctx, "/files/"+url.PathEscape(fileKey)+"/nodes", q, &nodesResp); err != nil {
		return nil, err
	}
	return &nodesResp, nil
}

// GetImages asks Figma to render ids and returns temporary download URLs keyed by node ID.
func (c *Client) GetImages(ctx context.Context, fileKey string, ids []string, format string, scale float64) (*ImagesResponse, error) {
	q := url.Values{
		"ids":    {strings.Join(ids, ",")},
		"format": {format},
		"scale":  {strconv.FormatFloat(scale, 'g', -1, 64)},
	}

	var imgResp ImagesResponse
	if err := c.get(ctx, "/images/"+url.PathEscape(fileKey), q, &imgResp); err != nil {
		return nil, err
	}
	if imgResp.Err != nil && *imgResp.Err != "" {
		return nil, fmt.Errorf("figma: render failed: %s", *imgResp.Err)
	}
	return &imgResp, nil
}

// DownloadImage performs an HTTP GET on a rendered-image URL and returns the
// body together with its content type. Render URLs are pre-signed, so no token is sent.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", classifyTransportError(err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// get performs an authenticated GET against the API and decodes the JSON body into out.
// Implements automatic retry logic with linear backoff for handling rate limits
// and temporary failures: it retries on 429, 5xx and connection errors. A request
// that runs into its timeout is abandoned, not retried.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		retry, err := c.attempt(ctx, endpoint, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return classifyTransportError(ctx.Err())
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}

	return lastErr
}

// attempt runs a single request bounded by the request timeout. The returned
// bool reports whether the failure is worth retrying.
func (c *Client) attempt(ctx context.Context, endpoint string, out any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Figma-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classifyTransportError(err)
		return errors.Is(err, ErrNetworkUnavailable), err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500, apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = classifyTransportError(err)
		return errors.Is(err, ErrNetworkUnavailable), err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return false, nil
}

// classifyTransportError maps low-level request failures onto ErrTimeout or ErrNetworkUnavailable.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
}
