package store

import (
	"context"
	"time"

	"github.com/fieldpad/syncengine/models"
)

// RecordRepository is the durable store for cached business records.
type RecordRepository interface {
	// Save upserts one record by (collection, id).
	Save(ctx context.Context, rec models.OfflineRecord) error
	// SaveWithOperation upserts the record and enqueues the operation in a
	// single transaction: either both persist or neither does.
	SaveWithOperation(ctx context.Context, rec models.OfflineRecord, op models.SyncOperation) error
	// Get returns the record whether or not it carries a soft-delete marker.
	Get(ctx context.Context, collection, id string) (models.OfflineRecord, error)
	// Query returns live records matching q, excluding soft-deleted ones.
	Query(ctx context.Context, collection string, q models.Query) ([]models.OfflineRecord, error)
	// Purge hard-deletes a record; used only after delete acknowledgement
	// and by the retention sweep.
	Purge(ctx context.Context, collection, id string) error
	// PurgeStale hard-deletes clean (not locally modified) records whose
	// last update predates cutoff. Returns the number of purged rows.
	PurgeStale(ctx context.Context, collection string, cutoff time.Time) (int64, error)
}

// OperationRepository is the persisted operation queue.
type OperationRepository interface {
	Enqueue(ctx context.Context, op models.SyncOperation) error
	// DequeueBatch returns up to limit eligible pending operations for a
	// collection in priority order without removing them. Only the earliest
	// pending operation per record is eligible, and records parked behind an
	// unresolved conflict are skipped entirely.
	DequeueBatch(ctx context.Context, collection string, limit int) ([]models.SyncOperation, error)
	// MarkSucceeded removes an acknowledged operation from the queue.
	MarkSucceeded(ctx context.Context, opID string) error
	// MarkFailed increments the retry counter and records the error; once
	// the counter exceeds MaxRetries the operation is flipped to abandoned.
	// The updated operation and whether this call abandoned it are returned.
	MarkFailed(ctx context.Context, opID string, opErr error) (models.SyncOperation, bool, error)
	// Abandon immediately moves an operation out of the active queue,
	// recording the rejection reason.
	Abandon(ctx context.Context, opID string, opErr error) (models.SyncOperation, error)
	// UpdatePayload rewrites the payload snapshot and base version of a
	// pending operation (merge resolutions re-aim the push).
	UpdatePayload(ctx context.Context, opID string, payload models.Payload, baseVersion int64) error
	// SetBaseVersion re-aims a pending operation at a newer observed server
	// version without touching its payload.
	SetBaseVersion(ctx context.Context, opID string, baseVersion int64) error
	// DeleteForRecord drops all pending operations for one record; used when
	// a server-wins resolution discards the local mutation history.
	DeleteForRecord(ctx context.Context, collection, recordID string) error
	// ListPendingForRecord returns a record's pending operations in enqueue
	// order.
	ListPendingForRecord(ctx context.Context, collection, recordID string) ([]models.SyncOperation, error)
	// ReactivateAbandoned returns abandoned operations to the active queue
	// with a fresh retry budget; invoked by an explicit manual flush.
	ReactivateAbandoned(ctx context.Context) (int64, error)
	// PendingCount reports the active queue length across collections.
	PendingCount(ctx context.Context) (int, error)
}

// ConflictRepository is the persisted conflict log and audit trail.
type ConflictRepository interface {
	Save(ctx context.Context, c models.ConflictRecord) error
	Get(ctx context.Context, id string) (models.ConflictRecord, error)
	ListUnresolved(ctx context.Context) ([]models.ConflictRecord, error)
	UnresolvedOlderThan(ctx context.Context, collection string, cutoff time.Time) ([]models.ConflictRecord, error)
	MarkResolved(ctx context.Context, id string, resolution models.Payload, strategy models.ConflictStrategy) error
	CountUnresolved(ctx context.Context) (int, error)
}

// MetaRepository stores the per-collection delta-pull cursor.
type MetaRepository interface {
	GetCursor(ctx context.Context, collection string) (models.SyncMetadata, error)
	SetCursor(ctx context.Context, collection, cursor string) error
}
