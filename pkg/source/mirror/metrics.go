package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backend labels.
const (
	BackendRedis = "redis"
	BackendBolt  = "bolt"
)

var (
	// Hits tracks mirror hits by backend
	Hits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagestream_mirror_hits_total",
			Help: "Total number of page mirror hits",
		},
		[]string{"backend"},
	)

	// Misses tracks mirror misses by backend (absent or expired pages)
	Misses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagestream_mirror_misses_total",
			Help: "Total number of page mirror misses",
		},
		[]string{"backend"},
	)

	// Writes tracks pages stored by backend
	Writes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagestream_mirror_writes_total",
			Help: "Total number of pages written to the mirror",
		},
		[]string{"backend"},
	)

	// Errors tracks mirror operation errors
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagestream_mirror_errors_total",
			Help: "Total number of page mirror operation errors",
		},
		[]string{"backend", "operation"}, // "get", "put", "delete"
	)
)
