// Package metrics exposes the Prometheus registry pagestream metrics are
// registered with. The metrics themselves are defined in their packages
// (stream, mirror, remote) via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all pagestream metrics use.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler serves from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Stream Metrics (pkg/stream):
//   - pagestream_loads_total{operation, tier, outcome} (Counter): Finished loads by outcome (success, failure, superseded)
//   - pagestream_load_duration_seconds{operation, tier} (Histogram): Load duration
//   - pagestream_superseded_total{operation, tier} (Counter): Results dropped because a newer load replaced them
//   - pagestream_retries_total{operation} (Counter): Retry calls that reissued a load
//   - pagestream_inconsistencies_total (Counter): Refresh results applied while an edge load was in flight
//   - pagestream_items{stream} (Gauge): Items visible per stream
//
// Mirror Metrics (pkg/source/mirror, pkg/source/boltmirror):
//   - pagestream_mirror_hits_total{backend} (Counter): Pages served from the mirror
//   - pagestream_mirror_misses_total{backend} (Counter): Absent or expired pages
//   - pagestream_mirror_writes_total{backend} (Counter): Pages written through
//   - pagestream_mirror_errors_total{backend, operation} (Counter): Mirror operation errors
//
// Remote Metrics (pkg/source/remote):
//   - pagestream_remote_requests_total{status} (Counter): Requests by HTTP status
//   - pagestream_remote_request_duration_seconds{direction} (Histogram): Fetch duration including retries
//   - pagestream_remote_retries_total{error_class} (Counter): Retry attempts by error class
//   - pagestream_remote_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - pagestream_remote_retry_exhausted_total{error_class} (Counter): Fetches that exhausted max retries
//   - pagestream_remote_budget_remaining (Gauge): Errors remaining in the remote budget window
//   - pagestream_remote_budget_blocks_total (Counter): Requests blocked by an exhausted budget
//   - pagestream_remote_budget_throttles_total (Counter): Requests throttled by a low budget
//
// Example Prometheus Queries:
//
//   # Mirror Hit Rate
//   sum(rate(pagestream_mirror_hits_total[5m])) /
//   (sum(rate(pagestream_mirror_hits_total[5m])) + sum(rate(pagestream_mirror_misses_total[5m])))
//
//   # Failed loads per tier
//   sum by (tier) (rate(pagestream_loads_total{outcome="failure"}[5m]))
//
//   # Error Budget Status
//   pagestream_remote_budget_remaining < 20
//
//   # P95 Refresh Latency
//   histogram_quantile(0.95, rate(pagestream_load_duration_seconds_bucket{operation="refresh"}[5m]))
