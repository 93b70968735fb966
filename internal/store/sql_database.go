package store

import (
	"database/sql"

	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/migrations"
)

type DB struct {
	*sql.DB
	logger *logger.Logger
}

func (db *DB) Migrate() error {
	return migrations.Migrate(db.DB)
}
