package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/models"
)

type queueRepository struct {
	*DB
	logger *logger.Logger
}

func NewQueueRepository(db *DB, logger *logger.Logger) OperationRepository {
	return &queueRepository{
		DB:     db,
		logger: logger,
	}
}

func (q *queueRepository) Enqueue(ctx context.Context, op models.SyncOperation) error {
	_, err := q.DB.ExecContext(ctx, insertOperation, operationArgs(op)...)
	if err != nil {
		q.logger.Err(err).
			Str("func", "queueRepository.Enqueue").
			Str("op_id", op.ID).
			Str("collection", op.Collection).
			Str("record_id", op.RecordID).
			Msg("failed to enqueue operation")
		return fmt.Errorf("%w: enqueue operation %s: %w", ErrStorageUnavailable, op.ID, err)
	}

	return nil
}

func (q *queueRepository) DequeueBatch(ctx context.Context, collection string, limit int) ([]models.SyncOperation, error) {
	rows, err := q.DB.QueryContext(ctx, dequeueOperations, collection, limit)
	if err != nil {
		q.logger.Err(err).
			Str("func", "queueRepository.DequeueBatch").
			Str("collection", collection).
			Msg("failed to query dequeue batch")
		return nil, fmt.Errorf("%w: dequeue batch %s: %w", ErrStorageUnavailable, collection, err)
	}
	defer rows.Close()

	var ops []models.SyncOperation
	for rows.Next() {
		op, scanErr := scanOperation(rows)
		if scanErr != nil {
			q.logger.Err(scanErr).
				Str("func", "queueRepository.DequeueBatch").
				Str("collection", collection).
				Msg("failed to scan operation row")
			return nil, fmt.Errorf("%w: scan operation row: %w", ErrStorageUnavailable, scanErr)
		}
		ops = append(ops, op)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: iterate operation rows: %w", ErrStorageUnavailable, rowsErr)
	}

	return ops, nil
}

func (q *queueRepository) MarkSucceeded(ctx context.Context, opID string) error {
	res, err := q.DB.ExecContext(ctx, deleteOperation, opID)
	if err != nil {
		q.logger.Err(err).
			Str("func", "queueRepository.MarkSucceeded").
			Str("op_id", opID).
			Msg("failed to remove acknowledged operation")
		return fmt.Errorf("%w: remove operation %s: %w", ErrStorageUnavailable, opID, err)
	}

	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		return fmt.Errorf("%w: %s", ErrOperationNotFound, opID)
	}

	return nil
}

// MarkFailed bumps the retry counter inside a transaction; when the counter
// passes MaxRetries the operation is flipped to abandoned in the same write,
// so the abandoned transition happens exactly once.
func (q *queueRepository) MarkFailed(ctx context.Context, opID string, opErr error) (models.SyncOperation, bool, error) {
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.SyncOperation{}, false, fmt.Errorf("%w: begin transaction: %w", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	op, err := scanOperation(tx.QueryRowContext(ctx, getOperation, opID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SyncOperation{}, false, fmt.Errorf("%w: %s", ErrOperationNotFound, opID)
		}
		return models.SyncOperation{}, false, fmt.Errorf("%w: load operation %s: %w", ErrStorageUnavailable, opID, err)
	}

	op.RetryCount++
	op.LastError = opErr.Error()

	abandoned := op.RetryCount > op.MaxRetries
	if abandoned {
		op.Status = models.OpAbandoned
	}

	if _, err = tx.ExecContext(ctx, failOperation, op.RetryCount, op.LastError, string(op.Status), opID); err != nil {
		return models.SyncOperation{}, false, fmt.Errorf("%w: record failure for %s: %w", ErrStorageUnavailable, opID, err)
	}

	if err = tx.Commit(); err != nil {
		return models.SyncOperation{}, false, fmt.Errorf("%w: commit transaction: %w", ErrStorageUnavailable, err)
	}

	return op, abandoned, nil
}

func (q *queueRepository) Abandon(ctx context.Context, opID string, opErr error) (models.SyncOperation, error) {
	op, err := scanOperation(q.DB.QueryRowContext(ctx, getOperation, opID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SyncOperation{}, fmt.Errorf("%w: %s", ErrOperationNotFound, opID)
		}
		return models.SyncOperation{}, fmt.Errorf("%w: load operation %s: %w", ErrStorageUnavailable, opID, err)
	}

	op.LastError = opErr.Error()
	op.Status = models.OpAbandoned

	if _, err = q.DB.ExecContext(ctx, failOperation, op.RetryCount, op.LastError, string(op.Status), opID); err != nil {
		q.logger.Err(err).
			Str("func", "queueRepository.Abandon").
			Str("op_id", opID).
			Msg("failed to abandon operation")
		return models.SyncOperation{}, fmt.Errorf("%w: abandon operation %s: %w", ErrStorageUnavailable, opID, err)
	}

	return op, nil
}

func (q *queueRepository) UpdatePayload(ctx context.Context, opID string, payload models.Payload, baseVersion int64) error {
	_, err := q.DB.ExecContext(ctx, updateOperationPayload, payload, baseVersion, opID)
	if err != nil {
		return fmt.Errorf("%w: update payload for %s: %w", ErrStorageUnavailable, opID, err)
	}
	return nil
}

func (q *queueRepository) SetBaseVersion(ctx context.Context, opID string, baseVersion int64) error {
	_, err := q.DB.ExecContext(ctx, updateOperationBaseVersion, baseVersion, opID)
	if err != nil {
		return fmt.Errorf("%w: update base version for %s: %w", ErrStorageUnavailable, opID, err)
	}
	return nil
}

func (q *queueRepository) DeleteForRecord(ctx context.Context, collection, recordID string) error {
	_, err := q.DB.ExecContext(ctx, deleteOperationsForRecord, collection, recordID)
	if err != nil {
		return fmt.Errorf("%w: delete operations for %s/%s: %w", ErrStorageUnavailable, collection, recordID, err)
	}
	return nil
}

func (q *queueRepository) ListPendingForRecord(ctx context.Context, collection, recordID string) ([]models.SyncOperation, error) {
	rows, err := q.DB.QueryContext(ctx, listPendingForRecord, collection, recordID)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending for %s/%s: %w", ErrStorageUnavailable, collection, recordID, err)
	}
	defer rows.Close()

	var ops []models.SyncOperation
	for rows.Next() {
		op, scanErr := scanOperation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%w: scan operation row: %w", ErrStorageUnavailable, scanErr)
		}
		ops = append(ops, op)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: iterate operation rows: %w", ErrStorageUnavailable, rowsErr)
	}

	return ops, nil
}

func (q *queueRepository) ReactivateAbandoned(ctx context.Context) (int64, error) {
	res, err := q.DB.ExecContext(ctx, reactivateAbandonedOperations)
	if err != nil {
		return 0, fmt.Errorf("%w: reactivate abandoned operations: %w", ErrStorageUnavailable, err)
	}

	reactivated, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return reactivated, nil
}

func (q *queueRepository) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := q.DB.QueryRowContext(ctx, countPendingOperations).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count pending operations: %w", ErrStorageUnavailable, err)
	}
	return count, nil
}

func scanOperation(row rowScanner) (models.SyncOperation, error) {
	var (
		op       models.SyncOperation
		priority int
		status   string
		kind     string
	)

	err := row.Scan(
		&op.Seq,
		&op.ID,
		&kind,
		&op.Collection,
		&op.RecordID,
		&op.Payload,
		&priority,
		&op.BaseVersion,
		&op.EnqueuedAt,
		&op.RetryCount,
		&op.MaxRetries,
		&op.LastError,
		&status,
		&op.OriginDeviceID,
		&op.OriginUserID,
	)
	if err != nil {
		return models.SyncOperation{}, err
	}

	op.Kind = models.OpKind(kind)
	op.Priority = models.PriorityFromRank(priority)
	op.Status = models.OpStatus(status)

	return op, nil
}

func operationArgs(op models.SyncOperation) []any {
	return []any{
		op.ID,
		string(op.Kind),
		op.Collection,
		op.RecordID,
		op.Payload,
		op.Priority.Rank(),
		op.BaseVersion,
		op.EnqueuedAt,
		op.RetryCount,
		op.MaxRetries,
		op.LastError,
		string(op.Status),
		op.OriginDeviceID,
		op.OriginUserID,
	}
}
