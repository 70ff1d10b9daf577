package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts dispatch runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busdispatch_runs_total",
			Help: "Total number of dispatch runs by status (succeeded, partial, rejected).",
		},
		[]string{"status"},
	)

	// UnitsSpawned counts units that were started.
	UnitsSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "busdispatch_units_spawned_total",
		Help: "Total number of units spawned.",
	})

	// UnitsFailed counts units that were refused or never reported.
	UnitsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "busdispatch_units_failed_total",
		Help: "Total number of units that failed to spawn or report.",
	})

	// WorkersDispatched sums reported headcounts.
	WorkersDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "busdispatch_workers_dispatched_total",
		Help: "Total number of workers reported as dispatched.",
	})

	// OpenChannels is the number of dispatch channels not yet released.
	OpenChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "busdispatch_open_channels",
		Help: "Dispatch channels currently open.",
	})

	// EventsDropped counts events a slow stream subscriber missed.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "busdispatch_events_dropped_total",
		Help: "Total number of events not delivered to a lagging subscriber.",
	})

	// HTTPRequestsTotal counts API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busdispatch_http_requests_total",
			Help: "Total number of HTTP requests handled by the API.",
		},
		[]string{"path", "method", "code"},
	)
)
