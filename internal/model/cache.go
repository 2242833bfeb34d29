package model

import "time"

// Partition names of the persisted local store
const (
	PartitionOfflineRequests   = "offlineRequests"
	PartitionFloodReports      = "floodReports"
	PartitionAlerts            = "alerts"
	PartitionUserData          = "userData"
	PartitionEmergencyContacts = "emergencyContacts"
)

// Secondary index names
const (
	IndexStatus   = "status"
	IndexSynced   = "synced"
	IndexType     = "type"
	IndexSeverity = "severity"
	IndexRead     = "read"
)

// CachedRecord is one entry of a store partition. Payload is JSON.
// A zero ExpiresAt never expires.
type CachedRecord struct {
	Key       string            `json:"key" msgpack:"key"`
	Payload   []byte            `json:"payload" msgpack:"payload"`
	Index     map[string]string `json:"index,omitempty" msgpack:"index,omitempty"`
	CachedAt  time.Time         `json:"cachedAt" msgpack:"cachedAt"`
	ExpiresAt time.Time         `json:"expiresAt,omitempty" msgpack:"expiresAt"`
}

// ValidAt reports whether the record is readable at now
func (r CachedRecord) ValidAt(now time.Time) bool {
	return r.ExpiresAt.IsZero() || now.Before(r.ExpiresAt)
}

// Matches reports whether the record carries the given index value
func (r CachedRecord) Matches(name, value string) bool {
	if r.Index == nil {
		return false
	}
	v, ok := r.Index[name]
	return ok && v == value
}
