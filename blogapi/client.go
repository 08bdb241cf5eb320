// Package blogapi is a client for the blog REST API. It attaches bearer
// tokens from a CredentialStore, unwraps the API's response envelope and
// refreshes an expired access token once before giving up on the session.
package blogapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "http://localhost:80/api/v1"

// Authentication endpoints. A 401 from either never triggers a refresh.
const (
	LoginEndpoint   = "/auth/login"
	RefreshEndpoint = "/auth/refresh"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// maxAPIResponseBytes caps response body reads so a misbehaving server
	// cannot consume unbounded memory.
	maxAPIResponseBytes = 8 * 1024 * 1024
)

//go:generate mockgen -destination=mock_doer_test.go -package=blogapi . HTTPDoer

// HTTPDoer is the transport the client sends requests through.
// *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SessionExpiredFunc is called once the session cannot be recovered and the
// credential store has been cleared. It is where the host sends the user back
// to the login entry point. It may not return (for example by exiting the
// process), so callers of Request must not rely on getting control back.
type SessionExpiredFunc func(ctx context.Context)

// Config configures a Client.
type Config struct {
	// BaseURL is prefixed to every endpoint. Defaults to DefaultBaseURL.
	BaseURL string

	// HTTPClient sends requests. When nil, an *http.Client with a same-host
	// redirect policy and no timeout of its own is used.
	HTTPClient HTTPDoer

	// Store holds the session tokens. Defaults to a fresh MemoryStore.
	Store CredentialStore

	// OnSessionExpired runs after an unrecoverable 401. Optional.
	OnSessionExpired SessionExpiredFunc

	// Logger receives request diagnostics. Defaults to discarding.
	Logger *slog.Logger

	// DedupeRefresh makes concurrent requests that hit a 401 with the same
	// refresh token share a single refresh call. Off by default: every
	// request refreshes independently and the last store write wins.
	DedupeRefresh bool
}

// Client talks to the blog REST API.
type Client struct {
	httpClient       HTTPDoer
	baseURL          string
	store            CredentialStore
	onSessionExpired SessionExpiredFunc
	logger           *slog.Logger
	dedupeRefresh    bool

	refreshGroup singleflight.Group
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so bearer tokens never follow a
// redirect to a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewHTTPClient returns an *http.Client that only follows redirects to the
// original host. A zero timeout leaves deadlines to the request context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// NewClient creates an API client from cfg.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		httpClient:       httpClient,
		baseURL:          baseURL,
		store:            store,
		onSessionExpired: cfg.OnSessionExpired,
		logger:           logger,
		dedupeRefresh:    cfg.DedupeRefresh,
	}
}

// BaseURL returns the URL every endpoint is resolved against.
func (c *Client) BaseURL() string { return c.baseURL }

// Store returns the credential store the client reads tokens from.
func (c *Client) Store() CredentialStore { return c.store }

// Options describes one logical request.
type Options struct {
	// Method defaults to GET.
	Method string

	// Header is applied last, so it overrides the computed Content-Type and
	// Authorization headers. An empty value removes the header.
	Header map[string]string

	// Body is optional. A *Form body is sent as multipart/form-data.
	Body Body
}

// RequestOption adjusts Options for the convenience wrappers.
type RequestOption func(*Options)

// WithHeader sets a caller header on the request.
func WithHeader(name, value string) RequestOption {
	return func(o *Options) {
		if o.Header == nil {
			o.Header = make(map[string]string)
		}

		o.Header[name] = value
	}
}

func buildOptions(method string, body Body, opts []RequestOption) Options {
	o := Options{Method: method, Body: body}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Get sends a GET request and decodes the result into out.
func (c *Client) Get(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return c.doDecode(ctx, endpoint, buildOptions(http.MethodGet, nil, opts), out)
}

// Post JSON-encodes body, sends it with POST and decodes the result into out.
func (c *Client) Post(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	payload, err := encodeOptional(body)
	if err != nil {
		return err
	}

	return c.doDecode(ctx, endpoint, buildOptions(http.MethodPost, payload, opts), out)
}

// Put JSON-encodes body, sends it with PUT and decodes the result into out.
func (c *Client) Put(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	payload, err := encodeOptional(body)
	if err != nil {
		return err
	}

	return c.doDecode(ctx, endpoint, buildOptions(http.MethodPut, payload, opts), out)
}

// Delete sends a DELETE request and decodes the result into out.
func (c *Client) Delete(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return c.doDecode(ctx, endpoint, buildOptions(http.MethodDelete, nil, opts), out)
}

func encodeOptional(body any) (Body, error) {
	if body == nil {
		return nil, nil
	}

	payload, err := EncodeJSON(body)
	if err != nil {
		return nil, err
	}

	return payload, nil
}

func (c *Client) doDecode(ctx context.Context, endpoint string, opts Options, out any) error {
	result, err := c.Request(ctx, endpoint, opts)
	if err != nil {
		return err
	}

	return result.Decode(out)
}

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// send performs a single HTTP round trip. Transport failures come back as
// *NetworkError.
func (c *Client) send(ctx context.Context, method, endpoint string, header http.Header, payload []byte) (response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return response{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header = header

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, &NetworkError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return response{}, &NetworkError{Endpoint: endpoint, Err: fmt.Errorf("reading response: %w", err)}
	}

	return response{status: resp.StatusCode, body: respBody}, nil
}

// sanitizeResponseBody truncates and sanitizes a response body for logging.
// Limits to 256 bytes and replaces non-printable characters to prevent log
// injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

func isAuthEndpoint(endpoint string) bool {
	return strings.Contains(endpoint, LoginEndpoint) || strings.Contains(endpoint, RefreshEndpoint)
}
