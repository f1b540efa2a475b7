package remote

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestream_remote_requests_total",
		Help: "Total remote page requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagestream_remote_request_duration_seconds",
		Help:    "Remote page request duration in seconds by direction",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"direction"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestream_remote_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagestream_remote_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestream_remote_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	budgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pagestream_remote_budget_remaining",
		Help: "Errors remaining in the current remote error budget window",
	})

	budgetBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagestream_remote_budget_blocks_total",
		Help: "Total number of requests blocked by an exhausted error budget",
	})

	budgetThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagestream_remote_budget_throttles_total",
		Help: "Total number of requests throttled by a low error budget",
	})
)
