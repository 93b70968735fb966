package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/models"
)

type conflictRepository struct {
	*DB
	logger *logger.Logger
}

func NewConflictRepository(db *DB, logger *logger.Logger) ConflictRepository {
	return &conflictRepository{
		DB:     db,
		logger: logger,
	}
}

func (c *conflictRepository) Save(ctx context.Context, conflict models.ConflictRecord) error {
	var (
		resolution any
		resolvedAt any
	)
	if conflict.Resolution != nil {
		resolution = conflict.Resolution
	}
	if conflict.ResolvedAt != nil {
		resolvedAt = *conflict.ResolvedAt
	}

	_, err := c.DB.ExecContext(ctx, insertConflict,
		conflict.ID,
		conflict.Collection,
		conflict.RecordID,
		conflict.LocalPayload,
		conflict.ServerPayload,
		conflict.LocalVersion,
		conflict.ServerVersion,
		conflict.DetectedAt,
		conflict.Resolved,
		string(conflict.Strategy),
		resolution,
		resolvedAt,
	)
	if err != nil {
		c.logger.Err(err).
			Str("func", "conflictRepository.Save").
			Str("collection", conflict.Collection).
			Str("record_id", conflict.RecordID).
			Msg("failed to save conflict record")
		return fmt.Errorf("%w: save conflict %s: %w", ErrStorageUnavailable, conflict.ID, err)
	}

	return nil
}

func (c *conflictRepository) Get(ctx context.Context, id string) (models.ConflictRecord, error) {
	conflict, err := scanConflict(c.DB.QueryRowContext(ctx, getConflict, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ConflictRecord{}, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
		}
		return models.ConflictRecord{}, fmt.Errorf("%w: get conflict %s: %w", ErrStorageUnavailable, id, err)
	}

	return conflict, nil
}

func (c *conflictRepository) ListUnresolved(ctx context.Context) ([]models.ConflictRecord, error) {
	return c.listWhere(ctx, sq.Eq{"resolved": 0})
}

func (c *conflictRepository) UnresolvedOlderThan(ctx context.Context, collection string, cutoff time.Time) ([]models.ConflictRecord, error) {
	return c.listWhere(ctx, sq.And{
		sq.Eq{"resolved": 0},
		sq.Eq{"collection": collection},
		sq.Lt{"detected_at": cutoff},
	})
}

func (c *conflictRepository) listWhere(ctx context.Context, pred any) ([]models.ConflictRecord, error) {
	query, args, err := sq.Select(
		"id", "collection", "record_id", "local_payload", "server_payload",
		"local_version", "server_version", "detected_at", "resolved",
		"strategy", "resolution", "resolved_at",
	).
		From("conflicts").
		Where(pred).
		OrderBy("detected_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building conflicts query: %w", err)
	}

	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		c.logger.Err(err).
			Str("func", "conflictRepository.listWhere").
			Msg("failed to query conflicts")
		return nil, fmt.Errorf("%w: query conflicts: %w", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var items []models.ConflictRecord
	for rows.Next() {
		conflict, scanErr := scanConflict(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%w: scan conflict row: %w", ErrStorageUnavailable, scanErr)
		}
		items = append(items, conflict)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: iterate conflict rows: %w", ErrStorageUnavailable, rowsErr)
	}

	return items, nil
}

func (c *conflictRepository) MarkResolved(ctx context.Context, id string, resolution models.Payload, strategy models.ConflictStrategy) error {
	res, err := c.DB.ExecContext(ctx, resolveConflict, string(strategy), resolution, time.Now().UTC(), id)
	if err != nil {
		c.logger.Err(err).
			Str("func", "conflictRepository.MarkResolved").
			Str("conflict_id", id).
			Msg("failed to mark conflict resolved")
		return fmt.Errorf("%w: resolve conflict %s: %w", ErrStorageUnavailable, id, err)
	}

	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}

	return nil
}

func (c *conflictRepository) CountUnresolved(ctx context.Context) (int, error) {
	var count int
	if err := c.DB.QueryRowContext(ctx, countUnresolvedConflicts).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count unresolved conflicts: %w", ErrStorageUnavailable, err)
	}
	return count, nil
}

func scanConflict(row rowScanner) (models.ConflictRecord, error) {
	var (
		conflict   models.ConflictRecord
		strategy   string
		resolution models.Payload
		resolvedAt sql.NullTime
	)

	err := row.Scan(
		&conflict.ID,
		&conflict.Collection,
		&conflict.RecordID,
		&conflict.LocalPayload,
		&conflict.ServerPayload,
		&conflict.LocalVersion,
		&conflict.ServerVersion,
		&conflict.DetectedAt,
		&conflict.Resolved,
		&strategy,
		&resolution,
		&resolvedAt,
	)
	if err != nil {
		return models.ConflictRecord{}, err
	}

	conflict.Strategy = models.ConflictStrategy(strategy)
	conflict.Resolution = resolution
	if resolvedAt.Valid {
		t := resolvedAt.Time
		conflict.ResolvedAt = &t
	}

	return conflict, nil
}
