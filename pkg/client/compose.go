package client

import (
	"net/url"
	"strings"
)

// Param is a single query parameter.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of query parameters. Order is preserved in the
// encoded query string so that a composed URL is reproducible as a cache key.
type Params []Param

// Encode renders the parameters as a query string in insertion order,
// with both keys and values escaped. An empty list encodes to "".
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}

	var b strings.Builder
	for i, param := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(param.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(param.Value))
	}
	return b.String()
}

// composeURL builds the absolute request URL from its parts.
//
// Path segments are joined as given. Double slashes from malformed input are
// not normalized; callers own their path segments.
func composeURL(host, basePath, path, slug string, query Params) string {
	var b strings.Builder
	b.WriteString(host)
	b.WriteString(basePath)
	b.WriteByte('/')
	b.WriteString(strings.TrimPrefix(path, "/"))
	if slug != "" {
		b.WriteByte('/')
		b.WriteString(slug)
	}
	if encoded := query.Encode(); encoded != "" {
		b.WriteByte('?')
		b.WriteString(encoded)
	}
	return b.String()
}
