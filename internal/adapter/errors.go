package adapter

import (
	"errors"
	"fmt"

	"github.com/fieldpad/syncengine/models"
)

// Sentinel errors produced by the HTTP adapter. Callers match them with
// [errors.Is] to pick retry, abandon or conflict handling.
var (
	// ErrVersionConflict signals a 409-class response: the server's stored
	// version differs from the one the client last observed. Always carried
	// inside a [ConflictError].
	ErrVersionConflict = errors.New("version conflict")

	// ErrServerRejected signals a non-retryable 4xx response (validation
	// failure, unknown resource). Blind retry of the same payload cannot
	// succeed.
	ErrServerRejected = errors.New("server rejected request")

	// ErrNetworkTransient signals a timeout, connection failure or 5xx
	// response; the operation stays queued and is retried with backoff.
	ErrNetworkTransient = errors.New("transient network failure")

	// ErrUnauthorized signals a 401/403 response. Wrapped together with
	// ErrServerRejected since re-auth is the host application's job.
	ErrUnauthorized = errors.New("client unauthorized")
)

// ConflictError wraps ErrVersionConflict and carries the server's current
// record as decoded from the 409 response body, so the resolver can work
// without an extra round trip.
type ConflictError struct {
	Server models.ServerRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: server holds version %d of %s", e.Server.Version, e.Server.ID)
}

func (e *ConflictError) Unwrap() error {
	return ErrVersionConflict
}

// AsConflict extracts a ConflictError from an error chain.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetworkTransient)
}
