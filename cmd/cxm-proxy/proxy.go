package main

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cxmware/cxm-go/pkg/cache"
	"github.com/cxmware/cxm-go/pkg/client"
)

// proxy forwards inbound requests transparently to the platform host,
// injecting the API key server-side so it never reaches a browser. GET
// responses are cached under the same matcher contract as the SDK client.
type proxy struct {
	upstream *http.Client
	host     string
	apiKey   string
	scope    client.Scope
	cache    *cache.Cache
	logger   zerolog.Logger
}

func newProxy(host, apiKey string, scope client.Scope, c *cache.Cache, timeout time.Duration, logger zerolog.Logger) *proxy {
	return &proxy{
		upstream: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		host:   host,
		apiKey: apiKey,
		scope:  scope,
		cache:  c,
		logger: logger,
	}
}

// handle forwards one request. The inbound path and query are passed through
// verbatim; headers are derived from the scope with the inbound session and
// contact tokens carried over.
func (p *proxy) handle(w http.ResponseWriter, r *http.Request) {
	target := p.host + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	ttl, cacheable := p.cache.Match(target, r.Method)
	if cacheable {
		if body, err := p.cache.Get(r.Context(), target); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn().Err(err).Str("url", target).Msg("Cache get error")
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	sessionToken := bearerToken(r.Header.Get("Authorization"))
	contactToken := r.Header.Get("ContactToken")
	for k, v := range client.Headers(p.scope, p.apiKey, sessionToken, contactToken, r.Method, nil) {
		req.Header.Set(k, v)
	}

	resp, err := p.upstream.Do(req)
	if err != nil {
		p.logger.Error().Err(err).Str("url", target).Msg("Upstream request failed")
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}

	// Upstream 404 is the routing-not-found condition: surfaced as-is so the
	// host application's router can take over.
	if resp.StatusCode == http.StatusNotFound {
		p.logger.Debug().Str("url", target).Msg("Upstream route not found")
	}

	if cacheable && resp.StatusCode == http.StatusOK {
		if err := p.cache.Set(r.Context(), target, body, ttl); err != nil {
			p.logger.Warn().Err(err).Str("url", target).Msg("Failed to cache response")
		}
	}

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

// bearerToken extracts the token from an Authorization header, if any.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return header[len(prefix):]
	}
	return ""
}

// rateLimitMiddleware applies an inbound token-bucket limit across all
// clients of the proxy.
func rateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
