package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cxmware/cxm-go/internal/testutil"
	"github.com/cxmware/cxm-go/pkg/cache"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:   "valid config",
			config: Config{Host: "https://platform.example", APIKey: "k"},
		},
		{
			name:        "missing host",
			config:      Config{APIKey: "k"},
			expectError: true,
		},
		{
			name:        "missing api key",
			config:      Config{Host: "https://platform.example"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if c == nil {
				t.Fatal("New() returned nil client")
			}
		})
	}
}

func TestNew_ScopeFallback(t *testing.T) {
	c, err := New(Config{Host: "https://h", APIKey: "k", Scope: "superadmin"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Scope() != ScopePublic {
		t.Errorf("Scope() = %q, invalid input must fall back to public", c.Scope())
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()

	c, err := New(Config{Host: mock.URL() + "/", APIKey: "k"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Get(context.Background(), "/crm/contacts", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mock.PathCount("/api/v1/crm/contacts"); got != 1 {
		t.Errorf("path count = %d, want 1 (no double slash in composed URL)", got)
	}
}

func TestScopeBasePath(t *testing.T) {
	tests := []struct {
		scope Scope
		want  string
	}{
		{ScopePublic, "/api/v1"},
		{ScopeContact, "/api/contact/v1"},
		{ScopeUser, "/api/user/v1"},
	}

	for _, tt := range tests {
		if got := tt.scope.BasePath(); got != tt.want {
			t.Errorf("BasePath(%q) = %q, want %q", tt.scope, got, tt.want)
		}
	}
}

func TestNormalizeVerb(t *testing.T) {
	tests := []struct {
		action  string
		want    string
		wantErr bool
	}{
		{"get", http.MethodGet, false},
		{"post", http.MethodPost, false},
		{"create", http.MethodPost, false},
		{"put", http.MethodPut, false},
		{"update", http.MethodPut, false},
		{"patch", http.MethodPut, false},
		{"delete", http.MethodDelete, false},
		{"GET", http.MethodGet, false},
		{"fetch", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			got, err := NormalizeVerb(tt.action)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeVerb() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeVerb(%q) = %q, want %q", tt.action, got, tt.want)
			}
		})
	}
}

func TestDispatch_GetDecodes(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.SetResponse("/api/user/v1/crm/contacts", testutil.NewJSONResponse(`{"data":[{"id":1}]}`))

	c, err := New(Config{Host: mock.URL(), APIKey: "k", Scope: ScopeUser})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := c.Get(context.Background(), "/crm/contacts", Params{{"sort", "id"}})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	want := map[string]any{"data": []any{map[string]any{"id": float64(1)}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("decoded = %#v, want %#v", got, want)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("request count = %d, want 1", mock.RequestCount())
	}
}

func TestDispatch_VerbAliases(t *testing.T) {
	tests := []struct {
		action string
		want   string
	}{
		{"create", http.MethodPost},
		{"update", http.MethodPut},
		{"patch", http.MethodPut},
		{"delete", http.MethodDelete},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			mock := testutil.NewMockPlatform()
			defer mock.Close()

			var seenMethod string
			mock.SetHandler("/api/v1/crm/deals", func(w http.ResponseWriter, r *http.Request) {
				seenMethod = r.Method
				w.Write([]byte(`{}`))
			})

			c, err := New(Config{Host: mock.URL(), APIKey: "k"})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			if _, err := c.Dispatch(context.Background(), Call{Action: tt.action, Path: "/crm/deals", Data: map[string]any{"x": 1}}); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if seenMethod != tt.want {
				t.Errorf("method = %q, want %q", seenMethod, tt.want)
			}
		})
	}
}

func TestDispatch_DataEnvelope(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{
			name: "bare payload gets wrapped",
			data: map[string]any{"title": "hello"},
			want: `{"data":{"title":"hello"}}`,
		},
		{
			name: "existing data key passes through",
			data: map[string]any{"data": map[string]any{"title": "hello"}},
			want: `{"data":{"title":"hello"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockPlatform()
			defer mock.Close()

			var seenBody string
			mock.SetHandler("/api/v1/content/pages", func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				seenBody = string(b)
				w.Write([]byte(`{}`))
			})

			c, err := New(Config{Host: mock.URL(), APIKey: "k"})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			if _, err := c.Post(context.Background(), "/content/pages", tt.data); err != nil {
				t.Fatalf("Post() error = %v", err)
			}
			if seenBody != tt.want {
				t.Errorf("body = %s, want %s", seenBody, tt.want)
			}
		})
	}
}

func TestDispatch_SessionTokenAttached(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()

	base, err := New(Config{Host: mock.URL(), APIKey: "k", Scope: ScopeUser})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	c := base.WithSessionToken("T")
	if _, err := c.Get(context.Background(), "/crm/contacts", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got := mock.LastRequestHeader().Get("Authorization"); got != "Bearer T" {
		t.Errorf("Authorization = %q, want Bearer T", got)
	}
	if got := mock.LastRequestHeader().Get("ApiKey"); got != "k" {
		t.Errorf("ApiKey = %q, want k", got)
	}
}

func TestWithSessionToken_DoesNotMutateReceiver(t *testing.T) {
	base, err := New(Config{Host: "https://h", APIKey: "k", Scope: ScopeContact})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	derived := base.WithSessionToken("T")
	if base.config.SessionToken != "" {
		t.Error("WithSessionToken must not mutate the receiver")
	}
	if derived.config.SessionToken != "T" {
		t.Error("derived client must carry the token")
	}
}

func TestDispatch_ErrorMapping(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.SetResponse("/api/v1/crm/contacts/404", testutil.NewNotFoundResponse())
	mock.SetResponse("/api/v1/crm/contacts", testutil.NewValidationResponse(`{"errors":{"email":["taken"]}}`))
	mock.SetResponse("/api/v1/boom", testutil.NewServerErrorResponse())

	c, err := New(Config{Host: mock.URL(), APIKey: "k"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	_, err = c.Get(ctx, "/crm/contacts/404", nil)
	if !IsNotFound(err) {
		t.Errorf("404 must map to not_found, got %v", err)
	}

	_, err = c.Post(ctx, "/crm/contacts", map[string]any{"email": "a@b"})
	if !IsValidation(err) {
		t.Fatalf("422 must map to validation_failed, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("want *APIError")
	}
	found := false
	for _, msg := range apiErr.Errors {
		if msg == "taken" {
			found = true
		}
	}
	if !found {
		t.Errorf("flattened errors = %v, want to contain \"taken\"", apiErr.Errors)
	}

	_, err = c.Get(ctx, "/boom", nil)
	if !IsServerError(err) {
		t.Errorf("500 must map to server, got %v", err)
	}
}

func TestDispatch_DecodeErrorSurfaced(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.SetResponse("/api/v1/odd", testutil.NewJSONResponse("not json at all"))

	c, err := New(Config{Host: mock.URL(), APIKey: "k"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.Get(context.Background(), "/odd", nil)
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("want *DecodeError, got %v", err)
	}
	if string(decErr.Body) != "not json at all" {
		t.Errorf("DecodeError body = %q", decErr.Body)
	}
}

func TestDispatch_Timeout(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.SetResponse("/api/v1/slow", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{}`,
		Delay:      200 * time.Millisecond,
	})

	c, err := New(Config{Host: mock.URL(), APIKey: "k", Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.Get(context.Background(), "/slow", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want *APIError, got %v", err)
	}
	if apiErr.Kind != KindNetwork {
		t.Errorf("Kind = %q, want network", apiErr.Kind)
	}
}

// setupCachedClient builds a client whose cache is backed by miniredis,
// with one rule group covering the given patterns.
func setupCachedClient(t *testing.T, host string, patterns []string, ttl time.Duration) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	rules, err := cache.NewRules(true, []cache.RuleGroup{
		{URLPatterns: patterns, TTL: ttl},
	})
	if err != nil {
		t.Fatalf("NewRules() error = %v", err)
	}

	c, err := New(Config{
		Host:   host,
		APIKey: "k",
		Cache:  cache.New(rules, cache.NewStore(rdb)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return c, mr
}

func TestDispatch_CacheHit(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.SetResponse("/api/v1/crm/contacts", testutil.NewJSONResponse(`{"data":[{"id":1}]}`))

	c, _ := setupCachedClient(t, mock.URL(), []string{"crm/contacts"}, 5*time.Minute)
	ctx := context.Background()

	first, err := c.Get(ctx, "/crm/contacts", Params{{"sort", "id"}})
	if err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	second, err := c.Get(ctx, "/crm/contacts", Params{{"sort", "id"}})
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached result differs: %#v vs %#v", first, second)
	}
	if got := mock.PathCount("/api/v1/crm/contacts"); got != 1 {
		t.Errorf("transport calls = %d, want 1 (second call served from cache)", got)
	}
}

func TestDispatch_CacheKeyIncludesQuery(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.SetResponse("/api/v1/crm/contacts", testutil.NewJSONResponse(`{"data":[]}`))

	c, _ := setupCachedClient(t, mock.URL(), []string{"crm/contacts"}, 5*time.Minute)
	ctx := context.Background()

	if _, err := c.Get(ctx, "/crm/contacts", Params{{"page", "1"}}); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := c.Get(ctx, "/crm/contacts", Params{{"page", "2"}}); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got := mock.PathCount("/api/v1/crm/contacts"); got != 2 {
		t.Errorf("transport calls = %d, want 2 (distinct query strings are distinct keys)", got)
	}
}

func TestDispatch_CacheBypassWhenNoRuleMatches(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.SetResponse("/api/v1/ecommerce/orders", testutil.NewJSONResponse(`{"data":[]}`))

	c, _ := setupCachedClient(t, mock.URL(), []string{"crm/contacts"}, 5*time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Get(ctx, "/ecommerce/orders", nil); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}

	if got := mock.PathCount("/api/v1/ecommerce/orders"); got != 2 {
		t.Errorf("transport calls = %d, want 2 (no rule matched)", got)
	}
}

func TestDispatch_CacheSkipsMutatingVerbs(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.SetResponse("/api/v1/crm/contacts", testutil.NewJSONResponse(`{"data":{}}`))

	c, _ := setupCachedClient(t, mock.URL(), []string{"crm/contacts"}, 5*time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Post(ctx, "/crm/contacts", map[string]any{"name": "n"}); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
	}

	if got := mock.PathCount("/api/v1/crm/contacts"); got != 2 {
		t.Errorf("transport calls = %d, want 2 (POST is never cached)", got)
	}
}

func TestDispatch_CacheTTLExpiry(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.SetResponse("/api/v1/crm/contacts", testutil.NewJSONResponse(`{"data":[]}`))

	c, mr := setupCachedClient(t, mock.URL(), []string{"crm/contacts"}, 30*time.Second)
	ctx := context.Background()

	if _, err := c.Get(ctx, "/crm/contacts", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	mr.FastForward(time.Minute)
	if _, err := c.Get(ctx, "/crm/contacts", nil); err != nil {
		t.Fatalf("Get() after expiry error = %v", err)
	}

	if got := mock.PathCount("/api/v1/crm/contacts"); got != 2 {
		t.Errorf("transport calls = %d, want 2 (entry expired)", got)
	}
}

func TestDispatch_NoCacheConfigured(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	mock.SetResponse("/api/v1/crm/contacts", testutil.NewJSONResponse(`{"data":[]}`))

	c, err := New(Config{Host: mock.URL(), APIKey: "k"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Get(ctx, "/crm/contacts", nil); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}

	if got := mock.PathCount("/api/v1/crm/contacts"); got != 2 {
		t.Errorf("transport calls = %d, want 2 (caching off)", got)
	}
}

func TestDispatch_BasePathOverride(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()

	c, err := New(Config{Host: mock.URL(), APIKey: "k"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := c.Dispatch(context.Background(), Call{
		Action:   "get",
		Path:     "/ping",
		BasePath: "/internal",
	}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if got := mock.PathCount("/internal/ping"); got != 1 {
		t.Errorf("override path count = %d, want 1", got)
	}
}
