// Package metrics holds the prometheus collectors shared by the services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LocationFixes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floodwatch",
		Name:      "location_fixes_total",
		Help:      "Raw location fixes by filter result (accepted, dropped).",
	}, []string{"result"})

	GeofenceChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floodwatch",
		Name:      "geofence_checks_total",
		Help:      "Monitoring checks by outcome (ok, error).",
	}, []string{"outcome"})

	ZoneTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floodwatch",
		Name:      "zone_transitions_total",
		Help:      "Zone membership transitions (enter, leave).",
	}, []string{"direction"})

	Notifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "floodwatch",
		Name:      "notifications_total",
		Help:      "Zone entered notifications delivered.",
	})

	MutationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floodwatch",
		Name:      "queue_mutation_transitions_total",
		Help:      "Offline mutation status transitions by target status.",
	}, []string{"status"})

	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floodwatch",
		Name:      "sync_passes_total",
		Help:      "Sync passes by outcome (ok, error, rejected).",
	}, []string{"outcome"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "floodwatch",
		Name:      "sync_duration_seconds",
		Help:      "Duration of completed sync passes.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floodwatch",
		Name:      "backend_requests_total",
		Help:      "Backend requests by method and result (ok, retried, offline, timeout, server).",
	}, []string{"method", "result"})

	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "floodwatch",
		Name:      "online",
		Help:      "1 while the backend is reachable.",
	})
)
