// Package metrics documents the Prometheus metrics exposed by the CXM SDK.
// Metrics are defined in their owning packages (client, cache, batch) via
// promauto to keep registration local and avoid circular dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by the SDK.
// All metrics are automatically registered via promauto in their packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - cxm_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - cxm_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - cxm_errors_total{kind} (Counter): Errors by kind (not_found, access_denied,
//     validation_failed, method_not_allowed, client, server, network, decode)
//
// Cache Metrics (pkg/cache):
//   - cxm_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - cxm_cache_misses_total (Counter): Cache misses
//   - cxm_cache_size_bytes{layer="redis"} (Gauge): Bytes moved through the cache
//   - cxm_cache_errors_total{operation} (Counter): Cache operation errors
//
// Batch Metrics (pkg/batch):
//   - cxm_batch_jobs_total{outcome} (Counter): Batch jobs by outcome (ok, error)
//   - cxm_batch_inline_total (Counter): Jobs run inline by the submitter under
//     queue pressure
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(cxm_cache_hits_total[5m])) /
//   (sum(rate(cxm_cache_hits_total[5m])) + sum(rate(cxm_cache_misses_total[5m])))
//
//   # Request Error Rate
//   rate(cxm_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(cxm_request_duration_seconds_bucket[5m]))
//
//   # Queue Pressure
//   rate(cxm_batch_inline_total[5m])
