// Package client provides the core CXM platform HTTP client with scoped
// authentication, response caching, and typed error handling.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cxmware/cxm-go/pkg/cache"
)

// Prometheus metrics for CXM client operations.
var (
	cxmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cxm_requests_total",
		Help: "Total CXM requests by endpoint and status",
	}, []string{"endpoint", "status"})

	cxmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cxm_request_duration_seconds",
		Help:    "CXM request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	cxmErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cxm_errors_total",
		Help: "Total CXM errors by kind",
	}, []string{"kind"})
)

// Scope is the authentication context a client operates under. It determines
// the base path and which credentials are attached to every request.
type Scope string

const (
	// ScopePublic is the anonymous/public visitor context.
	ScopePublic Scope = "public"

	// ScopeContact is the authenticated contact context.
	ScopeContact Scope = "contact"

	// ScopeUser is the authenticated back-office user context.
	ScopeUser Scope = "user"
)

// ParseScope maps a string onto a Scope. Invalid input falls back to
// ScopePublic.
func ParseScope(s string) Scope {
	switch Scope(strings.ToLower(s)) {
	case ScopeContact:
		return ScopeContact
	case ScopeUser:
		return ScopeUser
	default:
		return ScopePublic
	}
}

// BasePath returns the API base path for the scope. Pure function of Scope.
func (s Scope) BasePath() string {
	switch s {
	case ScopeContact:
		return "/api/contact/v1"
	case ScopeUser:
		return "/api/user/v1"
	default:
		return "/api/v1"
	}
}

// DefaultTimeout is the per-request timeout applied when none is configured.
const DefaultTimeout = 30 * time.Second

// Config holds the client configuration. Scope is fixed at construction;
// session and contact tokens are derived per-call via WithSessionToken and
// WithContactToken rather than mutated in place.
type Config struct {
	// Host is the platform origin, no trailing slash.
	Host string

	// APIKey authenticates the host application. Never exposed to browsers;
	// the proxy injects it server-side.
	APIKey string

	// Scope selects the auth context. Invalid values fall back to public.
	Scope Scope

	// SessionToken is the bearer credential issued at login.
	SessionToken string

	// ContactToken is the visitor tracking identifier.
	ContactToken string

	// Timeout bounds each request including body read. Zero means
	// DefaultTimeout; expiry surfaces as a network-kind error.
	Timeout time.Duration

	// Cache enables GET response caching when non-nil.
	Cache *cache.Cache

	// Debug enables request-flow debug logging.
	Debug bool
}

// Client issues single logical REST calls against the platform.
// Construct with New; a Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	cache      *cache.Cache
	config     Config
	logger     zerolog.Logger
}

// New creates a new platform client.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	cfg.Host = strings.TrimSuffix(cfg.Host, "/")
	cfg.Scope = ParseScope(string(cfg.Scope))
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	logger := log.With().
		Str("component", "cxm-client").
		Str("scope", string(cfg.Scope)).
		Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cache:  cfg.Cache,
		config: cfg,
		logger: logger,
	}, nil
}

// Scope returns the client's auth scope.
func (c *Client) Scope() Scope {
	return c.config.Scope
}

// WithSessionToken derives a client carrying the given bearer token.
// The receiver is not mutated; login and logout flows swap the derived
// client instead of racing on shared state.
func (c *Client) WithSessionToken(token string) *Client {
	derived := *c
	derived.config.SessionToken = token
	return &derived
}

// WithContactToken derives a client carrying the given contact token.
func (c *Client) WithContactToken(token string) *Client {
	derived := *c
	derived.config.ContactToken = token
	return &derived
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Call is the normalized descriptor of one request: an action verb, a
// resource path, optional query options, an optional body, and an optional
// base-path override. Transient; built per call.
type Call struct {
	// Action is the verb or one of its aliases: get, post/create,
	// put/update/patch, delete.
	Action string

	// Path is the resource path relative to the scope base path.
	Path string

	// Options become the query string on GET. Ignored for other verbs.
	Options Params

	// Data becomes the JSON body on mutating verbs. Wrapped in a
	// {"data": ...} envelope unless it already carries a "data" key.
	Data any

	// BasePath overrides the scope's base path when non-empty.
	BasePath string

	// Headers are caller overrides merged last into the scope header set.
	Headers map[string]string
}

// RawResponse is the undecoded result of one transport call.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NormalizeVerb maps an action alias onto its HTTP method:
// create is POST, update and patch are PUT, get and delete pass through.
func NormalizeVerb(action string) (string, error) {
	switch strings.ToLower(action) {
	case "get":
		return http.MethodGet, nil
	case "post", "create":
		return http.MethodPost, nil
	case "put", "update", "patch":
		return http.MethodPut, nil
	case "delete":
		return http.MethodDelete, nil
	default:
		return "", fmt.Errorf("unknown verb %q", action)
	}
}

// IsRawVerb reports whether action is a recognized HTTP verb alias.
// The batch dispatcher uses this to route jobs.
func IsRawVerb(action string) bool {
	_, err := NormalizeVerb(action)
	return err == nil
}

// Get performs a GET request with optional query options.
func (c *Client) Get(ctx context.Context, path string, options Params) (any, error) {
	return c.Dispatch(ctx, Call{Action: "get", Path: path, Options: options})
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, data any) (any, error) {
	return c.Dispatch(ctx, Call{Action: "post", Path: path, Data: data})
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, data any) (any, error) {
	return c.Dispatch(ctx, Call{Action: "put", Path: path, Data: data})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (any, error) {
	return c.Dispatch(ctx, Call{Action: "delete", Path: path})
}

// Dispatch issues one logical REST call: resolve the base path, compose the
// URL, consult the cache on GET, perform the transport call, and decode the
// response. Errors are typed per kind; see errors.go.
func (c *Client) Dispatch(ctx context.Context, call Call) (any, error) {
	verb, err := NormalizeVerb(call.Action)
	if err != nil {
		return nil, err
	}

	basePath := call.BasePath
	if basePath == "" {
		basePath = c.config.Scope.BasePath()
	}

	var query Params
	if verb == http.MethodGet {
		query = call.Options
	}
	fullURL := composeURL(c.config.Host, basePath, call.Path, "", query)

	start := time.Now()
	defer func() {
		cxmRequestDuration.WithLabelValues(call.Path).Observe(time.Since(start).Seconds())
	}()

	if ttl, cacheable := c.cache.Match(fullURL, verb); cacheable {
		return c.dispatchCached(ctx, verb, fullURL, call, ttl)
	}

	raw, err := c.transport(ctx, verb, fullURL, call)
	if err != nil {
		return nil, err
	}

	return c.decode(fullURL, raw.Body)
}

// dispatchCached serves a cacheable GET: cached body on hit, otherwise
// transport then write-through under the rule's TTL.
func (c *Client) dispatchCached(ctx context.Context, verb, fullURL string, call Call, ttl time.Duration) (any, error) {
	body, err := c.cache.Get(ctx, fullURL)
	if err == nil {
		c.logger.Debug().
			Str("endpoint", call.Path).
			Bool("cache_hit", true).
			Msg("Serving cached response")
		return c.decode(fullURL, body)
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("endpoint", call.Path).Msg("Cache get error")
	}

	raw, err := c.transport(ctx, verb, fullURL, call)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, fullURL, raw.Body, ttl); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", call.Path).Msg("Failed to cache response")
	} else if c.config.Debug {
		c.logger.Debug().
			Str("endpoint", call.Path).
			Dur("ttl", ttl).
			Msg("Cached response")
	}

	return c.decode(fullURL, raw.Body)
}

// transport performs the HTTP call and maps non-2xx statuses onto typed
// errors. The body is fully read before returning.
func (c *Client) transport(ctx context.Context, verb, fullURL string, call Call) (*RawResponse, error) {
	var bodyReader io.Reader
	if mutatingVerb(verb) && call.Data != nil {
		payload, err := json.Marshal(envelope(call.Data))
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, verb, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	headers := Headers(c.config.Scope, c.config.APIKey, c.config.SessionToken,
		c.config.ContactToken, verb, call.Headers)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.config.Debug {
		c.logger.Debug().
			Str("endpoint", call.Path).
			Str("method", verb).
			Str("url", fullURL).
			Msg("Executing platform request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cxmErrorsTotal.WithLabelValues(string(KindNetwork)).Inc()
		cxmRequestsTotal.WithLabelValues(call.Path, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", call.Path).Msg("HTTP request failed")
		return nil, &APIError{
			Kind:  KindNetwork,
			Verb:  verb,
			URL:   fullURL,
			Scope: c.config.Scope,
			Title: networkTitle(err),
			Err:   err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		cxmErrorsTotal.WithLabelValues(string(KindNetwork)).Inc()
		return nil, &APIError{
			Kind:  KindNetwork,
			Verb:  verb,
			URL:   fullURL,
			Scope: c.config.Scope,
			Title: "read response body",
			Err:   err,
		}
	}

	cxmRequestsTotal.WithLabelValues(call.Path, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(verb, fullURL, c.config.Scope, resp.StatusCode, body)
		cxmErrorsTotal.WithLabelValues(string(apiErr.Kind)).Inc()
		c.logger.Warn().
			Str("endpoint", call.Path).
			Int("status_code", resp.StatusCode).
			Str("kind", string(apiErr.Kind)).
			Msg("Platform request error")
		return nil, apiErr
	}

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// decode parses a response body as JSON. An empty body decodes to nil; an
// unparseable body is a DecodeError.
func (c *Client) decode(fullURL string, body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		cxmErrorsTotal.WithLabelValues("decode").Inc()
		return nil, &DecodeError{URL: fullURL, Body: body, Err: err}
	}
	return v, nil
}

// envelope wraps a body payload in {"data": ...} unless the caller already
// supplied a "data" key.
func envelope(data any) any {
	if m, ok := data.(map[string]any); ok {
		if _, has := m["data"]; has {
			return data
		}
	}
	return map[string]any{"data": data}
}

// networkTitle distinguishes timeouts from other transport failures.
func networkTitle(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return "request timeout"
	}
	return "request failed"
}
