package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for stream load operations.
var (
	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestream_loads_total",
		Help: "Total page loads by operation, tier and outcome",
	}, []string{"operation", "tier", "outcome"})

	loadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagestream_load_duration_seconds",
		Help:    "Page source call duration in seconds by operation and tier",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"operation", "tier"})

	supersededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestream_superseded_total",
		Help: "Total page results discarded because a newer load replaced them",
	}, []string{"operation", "tier"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestream_retries_total",
		Help: "Total retry requests by operation",
	}, []string{"operation"})

	inconsistenciesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagestream_inconsistencies_total",
		Help: "Total refresh results applied while an edge load was in flight",
	})

	itemsVisible = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pagestream_items",
		Help: "Items currently held by a stream",
	}, []string{"stream"})
)

const (
	outcomeSuccess    = "success"
	outcomeFailure    = "failure"
	outcomeSuperseded = "superseded"
)
