package models

import "time"

// SyncMetadata records, per collection, the server-side cursor of the last
// successfully merged delta pull.
type SyncMetadata struct {
	Collection   string    `json:"collection"`
	LastSyncedAt string    `json:"last_synced_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Status is the engine snapshot the UI derives its indicators from.
type Status struct {
	Online         bool `json:"online"`
	SyncInProgress bool `json:"sync_in_progress"`
	QueueLength    int  `json:"queue_length"`
	Conflicts      int  `json:"conflicts"`
}
