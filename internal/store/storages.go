package store

import (
	"context"
	"fmt"

	"github.com/fieldpad/syncengine/internal/config"
	"github.com/fieldpad/syncengine/internal/logger"
)

// Storages groups all local repositories into a single value that can be
// passed around the service layer.
type Storages struct {
	// Records is the SQLite-backed repository for cached business records.
	Records RecordRepository
	// Operations is the persisted operation queue.
	Operations OperationRepository
	// Conflicts is the conflict log and resolution audit trail.
	Conflicts ConflictRepository
	// Meta stores per-collection delta-pull cursors.
	Meta MetaRepository

	db *DB
}

// Close releases the underlying database connection.
func (s *Storages) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewStorages initialises the durable local store using the supplied
// configuration and logger. It performs the following steps:
//  1. Opens an SQLite connection to the file path specified in cfg.DB.DSN,
//     creating the database file if it does not yet exist.
//  2. Runs pending schema migrations via [DB.Migrate].
//  3. Constructs and returns a [Storages] value wired to fresh repositories
//     sharing the connection.
//
// Returns an error if the database connection cannot be established or if
// migration fails.
func NewStorages(cfg config.Storage, logger *logger.Logger) (*Storages, error) {
	logger.Info().Msg("creating new storages...")

	db, err := NewConnectSQLite(context.Background(), cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("sqlite connection error: %w", err)
	}

	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &Storages{
		Records:    NewRecordRepository(db, logger),
		Operations: NewQueueRepository(db, logger),
		Conflicts:  NewConflictRepository(db, logger),
		Meta:       NewMetaRepository(db, logger),
		db:         db,
	}, nil
}
