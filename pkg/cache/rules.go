package cache

import (
	"fmt"
	"net/http"
	"regexp"
	"time"
)

// RuleGroup pairs a list of URL patterns with the TTL applied to matches.
// Patterns are regular expressions; a plain substring is a valid pattern and
// matches anywhere in the URL.
type RuleGroup struct {
	URLPatterns []string
	TTL         time.Duration
}

// Rules is the compiled, ordered set of cacheability rules plus the global
// enable flag. Built once at config-load time and read-only afterwards.
type Rules struct {
	enabled bool
	groups  []compiledGroup
}

type compiledGroup struct {
	patterns []*regexp.Regexp
	ttl      time.Duration
}

// NewRules compiles the configured rule groups.
// An invalid pattern or non-positive TTL is a configuration error surfaced at
// load time, never per request.
func NewRules(enabled bool, groups []RuleGroup) (*Rules, error) {
	r := &Rules{enabled: enabled}

	for i, g := range groups {
		if g.TTL <= 0 {
			return nil, fmt.Errorf("cache rule group %d: ttl must be positive (got %s)", i, g.TTL)
		}
		cg := compiledGroup{ttl: g.TTL}
		for _, p := range g.URLPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("cache rule group %d: invalid pattern %q: %w", i, p, err)
			}
			cg.patterns = append(cg.patterns, re)
		}
		r.groups = append(r.groups, cg)
	}

	return r, nil
}

// Enabled reports whether caching is globally enabled.
func (r *Rules) Enabled() bool {
	return r != nil && r.enabled
}

// Match decides whether a request is cacheable and under which TTL.
// Only GET is eligible. Groups are consulted in declaration order and the
// first pattern match short-circuits both loops.
func (r *Rules) Match(fullURL, method string) (time.Duration, bool) {
	if !r.Enabled() || method != http.MethodGet {
		return 0, false
	}

	for _, g := range r.groups {
		for _, re := range g.patterns {
			if re.MatchString(fullURL) {
				return g.ttl, true
			}
		}
	}

	return 0, false
}
