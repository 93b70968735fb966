package models

import "time"

// OfflineRecord is one row of business data cached on the device. At most one
// record exists per (Collection, ID) pair.
type OfflineRecord struct {
	Collection      string     `json:"collection"`
	ID              string     `json:"id"`
	Payload         Payload    `json:"payload"`
	LocallyModified bool       `json:"locally_modified"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the record carries a soft-delete marker. Such
// records are excluded from reads but retained until the server acknowledges
// the delete operation.
func (r OfflineRecord) Deleted() bool {
	return r.DeletedAt != nil
}

// Query selects records inside a collection. Filters match payload fields by
// equality; a zero Limit means no limit.
type Query struct {
	Filters map[string]any
	Limit   uint64
}
