package model

import (
	"encoding/json"
	"time"
)

type MutationStatus string

const (
	MutationPending   MutationStatus = "pending"
	MutationSyncing   MutationStatus = "syncing"
	MutationCompleted MutationStatus = "completed"
	MutationFailed    MutationStatus = "failed"
)

// Terminal reports whether no automatic replay will touch the mutation again
func (s MutationStatus) Terminal() bool {
	return s == MutationCompleted || s == MutationFailed
}

// QueuedMutation is an outbound write captured while the device was offline.
// Method, Target, Payload and Headers are frozen once the status is terminal.
type QueuedMutation struct {
	ID         string            `json:"id"`
	Method     string            `json:"method"`
	Target     string            `json:"url"`
	Payload    json.RawMessage   `json:"data,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	CreatedAt  time.Time         `json:"timestamp"`
	Status     MutationStatus    `json:"status"`
	RetryCount int               `json:"retries"`
	MaxRetries int               `json:"maxRetries"`
	LastError  string            `json:"lastError,omitempty"`

	UpdatedAt time.Time     `json:"updatedAt"`
	Response  *ResponseMeta `json:"response,omitempty"`
	RetriedAs string        `json:"retriedAs,omitempty"`
	RetryOf   string        `json:"retryOf,omitempty"`
}

// ResponseMeta is what is kept of a successful replay
type ResponseMeta struct {
	Status      int             `json:"status"`
	Data        json.RawMessage `json:"data,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

// SyncSummary counts the outcome of one replay or record sync pass.
// Exhausted counts items that reached a terminal failure in this pass.
type SyncSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted,omitempty"`
}

// Add folds another summary into s
func (s SyncSummary) Add(o SyncSummary) SyncSummary {
	return SyncSummary{
		Total:     s.Total + o.Total,
		Succeeded: s.Succeeded + o.Succeeded,
		Failed:    s.Failed + o.Failed,
		Exhausted: s.Exhausted + o.Exhausted,
	}
}

// SyncStatus is the process-wide sync state. Only the sync orchestrator writes it.
type SyncStatus struct {
	Syncing      bool      `json:"syncing"`
	LastSyncTime time.Time `json:"lastSyncTime"`
	Error        string    `json:"error,omitempty"`
}
