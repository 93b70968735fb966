package models

import "time"

// ConflictRecord documents one divergence between a local and a server
// version of the same record. Under the manual strategy it parks the record
// until a caller resolves it; automatic strategies append already-resolved
// entries as an audit trail.
type ConflictRecord struct {
	ID            string           `json:"id"`
	Collection    string           `json:"collection"`
	RecordID      string           `json:"record_id"`
	LocalPayload  Payload          `json:"local_payload"`
	ServerPayload Payload          `json:"server_payload"`
	LocalVersion  int64            `json:"local_version"`
	ServerVersion int64            `json:"server_version"`
	DetectedAt    time.Time        `json:"detected_at"`
	Resolved      bool             `json:"resolved"`
	Strategy      ConflictStrategy `json:"strategy"`
	Resolution    Payload          `json:"resolution,omitempty"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}
