package adapter

import (
	"context"

	"github.com/fieldpad/syncengine/models"
)

// ServerAdapter is the outbound transport the sync orchestrator drains and
// pulls through. Implementations map the per-collection REST contract:
// POST for create, PUT /:id for update, DELETE /:id for delete and
// GET ?since=<cursor>&device_id=<id> for delta pulls.
type ServerAdapter interface {
	// Create inserts a new record and returns the server's normalised copy.
	Create(ctx context.Context, collection string, req models.UpsertRequest) (models.ServerRecord, error)
	// Update replaces a record by id and returns the server's normalised
	// copy. A [ConflictError] is returned when the server's stored version
	// differs from req.BaseVersion.
	Update(ctx context.Context, collection, id string, req models.UpsertRequest) (models.ServerRecord, error)
	// Delete removes a record by id, guarded by the last observed version.
	Delete(ctx context.Context, collection, id string, baseVersion int64) error
	// Pull requests all records changed since the opaque cursor.
	Pull(ctx context.Context, collection, since string) (models.PullResponse, error)
}

// TokenProvider supplies the bearer credential for authenticated requests.
// Token issuance and refresh belong to the host application's auth layer;
// the adapter only forwards what it is given.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed credential, useful in
// tests and for long-lived device tokens.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
