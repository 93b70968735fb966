package service

import "errors"

// Sentinel errors returned by the engine's public API. Storage-level
// conditions ([store.ErrStorageUnavailable], [store.ErrRecordNotFound])
// propagate wrapped from the repository layer.
var (
	// ErrConflictAlreadyResolved is returned when ResolveConflict targets a
	// conflict that has already been closed.
	ErrConflictAlreadyResolved = errors.New("conflict already resolved")

	// ErrRecordDeleted is returned when a mutation targets a record that
	// carries a soft-delete marker awaiting server acknowledgment.
	ErrRecordDeleted = errors.New("record is deleted")

	// ErrEmptyCollection is returned when a call omits the collection name.
	ErrEmptyCollection = errors.New("collection name is empty")

	// ErrOffline is returned when a sync pass is requested while the network
	// monitor reports no connectivity. Queued operations are unaffected.
	ErrOffline = errors.New("device is offline")
)
