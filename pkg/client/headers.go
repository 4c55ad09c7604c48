package client

import "net/http"

// Header names used by the platform.
const (
	headerAPIKey       = "ApiKey"
	headerContactToken = "ContactToken"
	headerAuth         = "Authorization"
)

// Headers produces the header set for one request. Pure function: the same
// inputs always yield the same map.
//
// Which headers are attached depends on the scope:
//   - Public: Accept, Content-Type, ApiKey, plus ContactToken when a contact
//     token is known (anonymous visitor tracking).
//   - Contact: ApiKey, Accept, ContactToken, plus a bearer Authorization once
//     a session token has been issued by login.
//   - User: ApiKey, Accept, Content-Type on mutating verbs, plus a bearer
//     Authorization once set.
//
// Caller-supplied overrides are merged last and win on key collision.
func Headers(scope Scope, apiKey, sessionToken, contactToken, verb string, overrides map[string]string) map[string]string {
	h := map[string]string{
		"Accept":     "application/json",
		headerAPIKey: apiKey,
	}

	switch scope {
	case ScopeContact:
		if contactToken != "" {
			h[headerContactToken] = contactToken
		}
		if sessionToken != "" {
			h[headerAuth] = "Bearer " + sessionToken
		}
	case ScopeUser:
		if mutatingVerb(verb) {
			h["Content-Type"] = "application/json"
		}
		if sessionToken != "" {
			h[headerAuth] = "Bearer " + sessionToken
		}
	default: // ScopePublic
		h["Content-Type"] = "application/json"
		if contactToken != "" {
			h[headerContactToken] = contactToken
		}
	}

	for k, v := range overrides {
		h[k] = v
	}

	return h
}

func mutatingVerb(verb string) bool {
	switch verb {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	}
	return false
}
