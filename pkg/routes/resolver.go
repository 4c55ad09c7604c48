// Package routes resolves dynamically named calls into request descriptors.
//
// The naming convention is a compatibility shim carried over from the
// platform's legacy SDKs, where arbitrary method names were resolved at call
// time. Here the name is parsed up front into a client.Call; new code should
// prefer the typed client API and treat this resolver as legacy surface.
//
// A call name is an action token followed by route segments:
//
//	get_people_contacts        -> GET  /crm/contacts
//	create_store_products      -> POST /ecommerce/products
//	get_content__landing_pages -> GET  /content/landing-pages
//
// Single underscores separate path segments. A double underscore also
// separates segments but switches the name into hyphen mode: inner
// underscores of every segment translate to literal hyphens. The leading
// segment is passed through an alias table (people -> crm, store ->
// ecommerce) before composing the path.
package routes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cxmware/cxm-go/pkg/client"
)

// NoActionError reports an unrecognized leading action token. This is a
// programmer/configuration error: it fails fast and is never retried.
type NoActionError struct {
	Name   string
	Action string
}

// Error implements the error interface.
func (e *NoActionError) Error() string {
	return fmt.Sprintf("no action %q in call name %q (want get, create, post, update, or put)", e.Action, e.Name)
}

// segmentAliases maps legacy leading segments onto API route prefixes.
var segmentAliases = map[string]string{
	"people": "crm",
	"store":  "ecommerce",
}

// resolverActions are the action tokens the naming convention accepts.
// Note delete is deliberately absent; destructive calls go through the typed
// API only.
var resolverActions = map[string]bool{
	"get":    true,
	"create": true,
	"post":   true,
	"update": true,
	"put":    true,
}

// Parse turns a call name and positional args into a request descriptor.
//
// Positional argument conventions, by action:
//   - get: an optional leading slug (string or integer), then optional
//     query options (client.Params).
//   - create/post: the body payload, then optional query options.
//   - update/put: a slug, the body payload, then optional query options.
func Parse(name string, args ...any) (client.Call, error) {
	action, rest, ok := strings.Cut(strings.ToLower(name), "_")
	if !ok || !resolverActions[action] {
		return client.Call{}, &NoActionError{Name: name, Action: action}
	}

	call := client.Call{
		Action: action,
		Path:   routePath(rest),
	}

	switch action {
	case "get":
		if slug, rem, ok := takeSlug(args); ok {
			call.Path += "/" + slug
			args = rem
		}
		if opts, _, ok := takeParams(args); ok {
			call.Options = opts
		}
	case "create", "post":
		if len(args) > 0 {
			call.Data = args[0]
			args = args[1:]
		}
		if opts, _, ok := takeParams(args); ok {
			call.Options = opts
		}
	case "update", "put":
		slug, rem, ok := takeSlug(args)
		if !ok {
			return client.Call{}, fmt.Errorf("call %q: update requires a leading id or slug", name)
		}
		call.Path += "/" + slug
		args = rem
		if len(args) > 0 {
			call.Data = args[0]
			args = args[1:]
		}
		if opts, _, ok := takeParams(args); ok {
			call.Options = opts
		}
	}

	return call, nil
}

// routePath translates the post-action portion of a call name into a path.
func routePath(rest string) string {
	var segments []string
	if strings.Contains(rest, "__") {
		for _, seg := range strings.Split(rest, "__") {
			segments = append(segments, strings.ReplaceAll(seg, "_", "-"))
		}
	} else {
		segments = strings.Split(rest, "_")
	}

	if alias, ok := segmentAliases[segments[0]]; ok {
		segments[0] = alias
	}

	return "/" + strings.Join(segments, "/")
}

// takeSlug pops a leading scalar argument, rendered as a path slug.
func takeSlug(args []any) (string, []any, bool) {
	if len(args) == 0 {
		return "", args, false
	}
	switch v := args[0].(type) {
	case string:
		return v, args[1:], true
	case int:
		return fmt.Sprintf("%d", v), args[1:], true
	case int64:
		return fmt.Sprintf("%d", v), args[1:], true
	default:
		return "", args, false
	}
}

// takeParams pops a leading client.Params argument.
func takeParams(args []any) (client.Params, []any, bool) {
	if len(args) == 0 {
		return nil, args, false
	}
	if p, ok := args[0].(client.Params); ok {
		return p, args[1:], true
	}
	return nil, args, false
}

// Resolver dispatches named calls through a platform client.
type Resolver struct {
	client *client.Client
}

// NewResolver creates a resolver over the given client.
func NewResolver(c *client.Client) *Resolver {
	return &Resolver{client: c}
}

// Call parses a named call and dispatches it. Dispatcher errors propagate
// unchanged; they already carry the status-mapped kind.
func (r *Resolver) Call(ctx context.Context, name string, args ...any) (any, error) {
	call, err := Parse(name, args...)
	if err != nil {
		return nil, err
	}
	return r.client.Dispatch(ctx, call)
}
