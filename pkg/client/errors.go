package client

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	json "github.com/goccy/go-json"
)

// Kind classifies platform errors by the behavior that produced them.
type Kind string

const (
	// KindNotFound represents HTTP 404 responses.
	KindNotFound Kind = "not_found"

	// KindAccessDenied represents HTTP 401 responses.
	KindAccessDenied Kind = "access_denied"

	// KindValidation represents HTTP 422 responses with field-level errors.
	KindValidation Kind = "validation_failed"

	// KindMethodNotAllowed represents HTTP 405 responses.
	KindMethodNotAllowed Kind = "method_not_allowed"

	// KindClient represents other 4xx responses.
	KindClient Kind = "client"

	// KindServer represents 5xx and unrecognized non-2xx responses.
	KindServer Kind = "server"

	// KindNetwork represents transport failures, including timeouts.
	KindNetwork Kind = "network"
)

// APIError is a typed error for a failed platform request. It carries the
// scope the client was operating under, the HTTP status, the raw response
// body, and a human title/detail when the body provides one.
type APIError struct {
	Kind       Kind
	StatusCode int
	Verb       string
	URL        string
	Scope      Scope
	Body       []byte
	Title      string
	Detail     string

	// Errors holds field-level validation messages flattened into one list.
	// Only populated for KindValidation.
	Errors []string

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Title
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("cxm %s error (status %d) %s %s: %s: %v",
			e.Kind, e.StatusCode, e.Verb, e.URL, msg, e.Err)
	}
	return fmt.Sprintf("cxm %s error (status %d) %s %s: %s",
		e.Kind, e.StatusCode, e.Verb, e.URL, msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a response body expected to be JSON fails to
// parse. It is surfaced to the caller, never swallowed.
type DecodeError struct {
	URL  string
	Body []byte
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("cxm decode error for %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// kindForStatus maps an HTTP status to an error kind.
// 4xx codes outside the enumerated set map to KindClient, distinct from
// KindServer, so callers can tell their own mistakes from platform failures.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnauthorized:
		return KindAccessDenied
	case status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusMethodNotAllowed:
		return KindMethodNotAllowed
	case status >= 400 && status < 500:
		return KindClient
	default:
		return KindServer
	}
}

// newAPIError builds an APIError from a non-2xx response, pulling the title,
// detail, and flattened validation messages out of the body when present.
func newAPIError(verb, fullURL string, scope Scope, status int, body []byte) *APIError {
	apiErr := &APIError{
		Kind:       kindForStatus(status),
		StatusCode: status,
		Verb:       verb,
		URL:        fullURL,
		Scope:      scope,
		Body:       body,
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return apiErr
	}

	for _, key := range []string{"title", "error", "message"} {
		if s, ok := decoded[key].(string); ok && s != "" {
			apiErr.Title = s
			break
		}
	}
	if s, ok := decoded["detail"].(string); ok {
		apiErr.Detail = s
	}

	if apiErr.Kind == KindValidation {
		apiErr.Errors = flattenErrors(decoded["errors"])
	}

	return apiErr
}

// flattenErrors collapses a field-errors structure into a single message
// list. Accepts {"field": ["msg", ...]}, {"field": "msg"}, and ["msg", ...].
func flattenErrors(v any) []string {
	var out []string

	switch errs := v.(type) {
	case map[string]any:
		fields := make([]string, 0, len(errs))
		for field := range errs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			switch fv := errs[field].(type) {
			case []any:
				for _, msg := range fv {
					if s, ok := msg.(string); ok {
						out = append(out, s)
					}
				}
			case string:
				out = append(out, fv)
			}
		}
	case []any:
		for _, msg := range errs {
			if s, ok := msg.(string); ok {
				out = append(out, s)
			}
		}
	}

	return out
}

// IsNotFound reports whether err is an APIError with KindNotFound.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsAccessDenied reports whether err is an APIError with KindAccessDenied.
func IsAccessDenied(err error) bool { return hasKind(err, KindAccessDenied) }

// IsValidation reports whether err is an APIError with KindValidation.
func IsValidation(err error) bool { return hasKind(err, KindValidation) }

// IsServerError reports whether err is an APIError with KindServer.
func IsServerError(err error) bool { return hasKind(err, KindServer) }

func hasKind(err error, kind Kind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
