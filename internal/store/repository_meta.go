package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/models"
)

type metaRepository struct {
	*DB
	logger *logger.Logger
}

func NewMetaRepository(db *DB, logger *logger.Logger) MetaRepository {
	return &metaRepository{
		DB:     db,
		logger: logger,
	}
}

// GetCursor returns the stored delta cursor for a collection. A collection
// that has never synced yields a zero-value metadata entry, not an error.
func (m *metaRepository) GetCursor(ctx context.Context, collection string) (models.SyncMetadata, error) {
	var meta models.SyncMetadata

	err := m.DB.QueryRowContext(ctx, getCursor, collection).Scan(
		&meta.Collection,
		&meta.LastSyncedAt,
		&meta.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SyncMetadata{Collection: collection}, nil
		}
		m.logger.Err(err).
			Str("func", "metaRepository.GetCursor").
			Str("collection", collection).
			Msg("failed to read sync cursor")
		return models.SyncMetadata{}, fmt.Errorf("%w: get cursor %s: %w", ErrStorageUnavailable, collection, err)
	}

	return meta, nil
}

func (m *metaRepository) SetCursor(ctx context.Context, collection, cursor string) error {
	_, err := m.DB.ExecContext(ctx, setCursor, collection, cursor, time.Now().UTC())
	if err != nil {
		m.logger.Err(err).
			Str("func", "metaRepository.SetCursor").
			Str("collection", collection).
			Msg("failed to store sync cursor")
		return fmt.Errorf("%w: set cursor %s: %w", ErrStorageUnavailable, collection, err)
	}

	return nil
}
