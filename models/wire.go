package models

import "time"

// ServerRecord is the wire representation of one record as the server stores
// it. It appears in push responses, 409 conflict bodies and delta pulls.
type ServerRecord struct {
	ID        string    `json:"id"`
	Payload   Payload   `json:"payload"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// UpsertRequest is the body of create (POST) and update (PUT) pushes.
// BaseVersion carries the version the client last observed so the server can
// detect concurrent edits.
type UpsertRequest struct {
	ID          string    `json:"id"`
	Payload     Payload   `json:"payload"`
	BaseVersion int64     `json:"base_version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PullResponse is the server's answer to a delta request. Cursor is opaque to
// the client and echoed back on the next pull.
type PullResponse struct {
	Records []ServerRecord `json:"records"`
	Cursor  string         `json:"cursor"`
}
