package models

import "time"

// OpKind identifies the mutation a queued operation carries to the server.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Priority orders operations across records when draining the queue.
// Operations against the same record are never reordered regardless of
// priority.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank maps a priority to its dequeue order; lower ranks drain first.
// Unknown values sort with medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// PriorityFromRank is the inverse of Rank, used when scanning queue rows.
func PriorityFromRank(rank int) Priority {
	switch rank {
	case 0:
		return PriorityCritical
	case 1:
		return PriorityHigh
	case 3:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// OpStatus is the lifecycle state of a queued operation.
type OpStatus string

const (
	// OpPending operations are awaiting transmission or retry.
	OpPending OpStatus = "pending"
	// OpAbandoned operations exceeded MaxRetries or were rejected by the
	// server; they stay in the log for inspection but are never dequeued.
	OpAbandoned OpStatus = "abandoned"
)

// SyncOperation is one pending mutation awaiting transmission to the server.
type SyncOperation struct {
	ID         string   `json:"id"`
	Seq        int64    `json:"seq"`
	Kind       OpKind   `json:"kind"`
	Collection string   `json:"collection"`
	RecordID   string   `json:"record_id"`
	Payload    Payload  `json:"payload"`
	Priority   Priority `json:"priority"`
	// BaseVersion is the record version the client last observed; the server
	// uses it for optimistic-lock conflict detection.
	BaseVersion    int64     `json:"base_version"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	RetryCount     int       `json:"retry_count"`
	MaxRetries     int       `json:"max_retries"`
	LastError      string    `json:"last_error,omitempty"`
	Status         OpStatus  `json:"status"`
	OriginDeviceID string    `json:"origin_device_id"`
	OriginUserID   string    `json:"origin_user_id,omitempty"`
}
