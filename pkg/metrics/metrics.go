// Package metrics provides the centralized Prometheus metrics registry for
// the HubSpot writer. All metrics are defined in their respective packages
// (dispatcher, pipeline, ratelimit) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the writer.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - hubspot_writer_requests_remaining (Gauge): Requests remaining in the current interval
//   - hubspot_writer_daily_requests_remaining (Gauge): Requests remaining in the daily window
//   - hubspot_writer_rate_limit_blocks_total (Counter): Dispatches paused until interval reset
//   - hubspot_writer_rate_limit_throttles_total (Counter): Dispatches throttled on low remaining
//
// Request Metrics (pkg/dispatcher):
//   - hubspot_writer_requests_total{operation, status} (Counter): Requests by operation and HTTP status
//   - hubspot_writer_request_duration_seconds{operation} (Histogram): Request duration by operation
//   - hubspot_writer_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - hubspot_writer_batches_total{operation, outcome} (Counter): Batches by terminal outcome
//
// Retry Metrics (pkg/dispatcher):
//   - hubspot_writer_retries_total{error_class} (Counter): Retry attempts by error class
//   - hubspot_writer_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - hubspot_writer_retry_exhausted_total{error_class} (Counter): Batches that exhausted max retries
//
// Run Metrics (pkg/pipeline):
//   - hubspot_writer_rows_total{outcome} (Counter): Input rows by mapping outcome (mapped, map_failed)
//   - hubspot_writer_run_duration_seconds (Histogram): Duration of complete runs
//
// Example Prometheus Queries:
//
//   # Row failure rate
//   rate(hubspot_writer_rows_total{outcome="map_failed"}[5m]) /
//   rate(hubspot_writer_rows_total[5m])
//
//   # Rate limit pressure
//   hubspot_writer_requests_remaining < 20
//
//   # Request error rate
//   rate(hubspot_writer_errors_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(hubspot_writer_request_duration_seconds_bucket[5m]))
