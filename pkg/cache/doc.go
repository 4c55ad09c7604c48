// Package cache provides GET response caching for the CXM platform client.
//
// Cacheability is decided by matching the fully composed request URL against
// configured rule groups; the first matching pattern wins and determines the
// TTL. Matched responses are stored raw (undecoded body bytes) in Redis,
// keyed by the full URL including the query string.
//
// The backend is shared process-external state. Concurrent workers that miss
// on the same key may both call upstream and both write; last writer wins.
// GET bodies are idempotent within a rule's TTL, so the race is accepted.
package cache
