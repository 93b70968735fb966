package store

import "errors"

// Sentinel errors returned by repository methods to signal well-known failure
// conditions. Callers should use [errors.Is] to match against these values.
var (
	// ErrStorageUnavailable is returned (wrapped around the driver error)
	// whenever the underlying SQLite store cannot serve a read or write.
	// The triggering engine call fails synchronously and may be retried by
	// the caller; nothing is silently dropped.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrRecordNotFound is returned when a lookup targets a (collection, id)
	// pair that does not exist locally.
	ErrRecordNotFound = errors.New("offline record not found")

	// ErrOperationNotFound is returned when a queue mutation targets an
	// operation id that is not in the operations log.
	ErrOperationNotFound = errors.New("sync operation not found")

	// ErrConflictNotFound is returned when a resolution targets an unknown
	// conflict id.
	ErrConflictNotFound = errors.New("conflict record not found")
)
