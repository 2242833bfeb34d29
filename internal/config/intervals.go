package config

import "time"

// Defaults for timers and thresholds
const (
	// MonitorInterval defines how often the monitoring session re-evaluates zones
	MonitorInterval = 5 * time.Minute

	// ConnectivityProbeInterval defines how often the backend health endpoint is probed
	ConnectivityProbeInterval = 15 * time.Second

	// QueuePruneInterval defines how often completed mutations past retention are removed
	QueuePruneInterval = time.Hour

	// QueueRetention is how long completed mutations are kept for audit
	QueueRetention = 7 * 24 * time.Hour

	// BackendTimeout is the first attempt budget of every backend call
	BackendTimeout = 10 * time.Second

	// BackendExtendedTimeout is the budget of the single retry after a timeout or connection failure
	BackendExtendedTimeout = 30 * time.Second

	CacheTTL = 24 * time.Hour

	SignificantDistanceMeters = 100.0
	SearchRadiusMeters        = 10000.0
	MaxRetries                = 3
)
