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

type recordRepository struct {
	*DB
	logger *logger.Logger
}

func NewRecordRepository(db *DB, logger *logger.Logger) RecordRepository {
	return &recordRepository{
		DB:     db,
		logger: logger,
	}
}

func (r *recordRepository) Save(ctx context.Context, rec models.OfflineRecord) error {
	_, err := r.DB.ExecContext(ctx, upsertRecord, recordArgs(rec)...)
	if err != nil {
		r.logger.Err(err).
			Str("func", "recordRepository.Save").
			Str("collection", rec.Collection).
			Str("record_id", rec.ID).
			Msg("failed to upsert offline record")
		return fmt.Errorf("%w: save record %s/%s: %w", ErrStorageUnavailable, rec.Collection, rec.ID, err)
	}

	return nil
}

// SaveWithOperation runs the record upsert and the operation insert in one
// transaction so a record can never change without its queued operation.
func (r *recordRepository) SaveWithOperation(ctx context.Context, rec models.OfflineRecord, op models.SyncOperation) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, upsertRecord, recordArgs(rec)...); err != nil {
		r.logger.Err(err).
			Str("func", "recordRepository.SaveWithOperation").
			Str("collection", rec.Collection).
			Str("record_id", rec.ID).
			Msg("failed to upsert offline record in transaction")
		return fmt.Errorf("%w: save record %s/%s: %w", ErrStorageUnavailable, rec.Collection, rec.ID, err)
	}

	if _, err = tx.ExecContext(ctx, insertOperation, operationArgs(op)...); err != nil {
		r.logger.Err(err).
			Str("func", "recordRepository.SaveWithOperation").
			Str("op_id", op.ID).
			Msg("failed to enqueue operation in transaction")
		return fmt.Errorf("%w: enqueue operation %s: %w", ErrStorageUnavailable, op.ID, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %w", ErrStorageUnavailable, err)
	}

	return nil
}

func (r *recordRepository) Get(ctx context.Context, collection, id string) (models.OfflineRecord, error) {
	row := r.DB.QueryRowContext(ctx, getRecord, collection, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.OfflineRecord{}, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, collection, id)
		}
		r.logger.Err(err).
			Str("func", "recordRepository.Get").
			Str("collection", collection).
			Str("record_id", id).
			Msg("failed to scan offline record row")
		return models.OfflineRecord{}, fmt.Errorf("%w: get record %s/%s: %w", ErrStorageUnavailable, collection, id, err)
	}

	return rec, nil
}

// Query selects live records. Payload filters compile to json_extract
// predicates on the payload column.
func (r *recordRepository) Query(ctx context.Context, collection string, q models.Query) ([]models.OfflineRecord, error) {
	builder := sq.Select(
		"collection", "id", "payload", "locally_modified",
		"version", "created_at", "updated_at", "deleted_at",
	).
		From("records").
		Where(sq.Eq{"collection": collection}).
		Where(sq.Expr("deleted_at IS NULL")).
		OrderBy("updated_at DESC")

	for field, value := range q.Filters {
		builder = builder.Where(sq.Expr("json_extract(payload, ?) = ?", "$."+field, value))
	}
	if q.Limit > 0 {
		builder = builder.Limit(q.Limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building records query: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Err(err).
			Str("func", "recordRepository.Query").
			Str("collection", collection).
			Msg("failed to execute records query")
		return nil, fmt.Errorf("%w: query records %s: %w", ErrStorageUnavailable, collection, err)
	}
	defer rows.Close()

	var items []models.OfflineRecord
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			r.logger.Err(scanErr).
				Str("func", "recordRepository.Query").
				Str("collection", collection).
				Msg("failed to scan offline record row")
			return nil, fmt.Errorf("%w: scan record row: %w", ErrStorageUnavailable, scanErr)
		}
		items = append(items, rec)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: iterate record rows: %w", ErrStorageUnavailable, rowsErr)
	}

	return items, nil
}

func (r *recordRepository) Purge(ctx context.Context, collection, id string) error {
	_, err := r.DB.ExecContext(ctx, purgeRecord, collection, id)
	if err != nil {
		r.logger.Err(err).
			Str("func", "recordRepository.Purge").
			Str("collection", collection).
			Str("record_id", id).
			Msg("failed to purge offline record")
		return fmt.Errorf("%w: purge record %s/%s: %w", ErrStorageUnavailable, collection, id, err)
	}

	return nil
}

func (r *recordRepository) PurgeStale(ctx context.Context, collection string, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, purgeStaleRecords, collection, cutoff)
	if err != nil {
		r.logger.Err(err).
			Str("func", "recordRepository.PurgeStale").
			Str("collection", collection).
			Msg("failed to purge stale records")
		return 0, fmt.Errorf("%w: purge stale records %s: %w", ErrStorageUnavailable, collection, err)
	}

	purged, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return purged, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.OfflineRecord, error) {
	var (
		rec       models.OfflineRecord
		deletedAt sql.NullTime
	)

	err := row.Scan(
		&rec.Collection,
		&rec.ID,
		&rec.Payload,
		&rec.LocallyModified,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return models.OfflineRecord{}, err
	}

	if deletedAt.Valid {
		t := deletedAt.Time
		rec.DeletedAt = &t
	}

	return rec, nil
}

func recordArgs(rec models.OfflineRecord) []any {
	var deletedAt any
	if rec.DeletedAt != nil {
		deletedAt = *rec.DeletedAt
	}

	return []any{
		rec.Collection,
		rec.ID,
		rec.Payload,
		rec.LocallyModified,
		rec.Version,
		rec.CreatedAt,
		rec.UpdatedAt,
		deletedAt,
	}
}
