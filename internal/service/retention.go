package service

import (
	"context"
	"errors"
	"time"

	"github.com/fieldpad/syncengine/internal/events"
	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/internal/store"
	"github.com/fieldpad/syncengine/models"
)

// RetentionSweeper reclaims local storage per collection policy: clean
// records untouched for longer than MaxOfflineRetention are purged, and
// manual conflicts parked past the same window are force-resolved to the
// server side so their records do not stay blocked forever.
type RetentionSweeper struct {
	stores   *store.Storages
	registry *Registry
	bus      *events.Bus
	logger   *logger.Logger

	now func() time.Time
}

func NewRetentionSweeper(stores *store.Storages, registry *Registry, bus *events.Bus, logger *logger.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		stores:   stores,
		registry: registry,
		bus:      bus,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one retention pass over every known collection. Dirty records
// and records with queued operations are never purged.
func (s *RetentionSweeper) Sweep(ctx context.Context) error {
	for _, collection := range s.registry.Names() {
		cfg := s.registry.Get(collection)
		cutoff := s.now().Add(-cfg.MaxOfflineRetention)

		purged, err := s.stores.Records.PurgeStale(ctx, collection, cutoff)
		if err != nil {
			return err
		}
		if purged > 0 {
			s.logger.Info().
				Str("func", "RetentionSweeper.Sweep").
				Str("collection", collection).
				Int64("purged", purged).
				Msg("purged stale records")
		}

		if err := s.expireConflicts(ctx, cfg, cutoff); err != nil {
			return err
		}
	}

	return nil
}

// expireConflicts force-resolves manual conflicts that outlived the
// retention window. The server payload wins: the local record adopts it, the
// record's queued operations are dropped and the conflict is closed.
func (s *RetentionSweeper) expireConflicts(ctx context.Context, cfg models.CollectionConfig, cutoff time.Time) error {
	expired, err := s.stores.Conflicts.UnresolvedOlderThan(ctx, cfg.Collection, cutoff)
	if err != nil {
		return err
	}

	for _, conflict := range expired {
		if err := s.stores.Operations.DeleteForRecord(ctx, conflict.Collection, conflict.RecordID); err != nil {
			return err
		}

		rec, err := s.stores.Records.Get(ctx, conflict.Collection, conflict.RecordID)
		if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			rec.Payload = conflict.ServerPayload.Clone()
			rec.Version = conflict.ServerVersion
			rec.LocallyModified = false
			rec.UpdatedAt = s.now()
			if err := s.stores.Records.Save(ctx, rec); err != nil {
				return err
			}
		}

		if err := s.stores.Conflicts.MarkResolved(ctx, conflict.ID, conflict.ServerPayload, models.StrategyServerWins); err != nil {
			return err
		}

		s.logger.Warn().
			Str("func", "RetentionSweeper.expireConflicts").
			Str("conflict_id", conflict.ID).
			Str("collection", conflict.Collection).
			Str("record_id", conflict.RecordID).
			Msg("manual conflict expired, server version kept")

		s.bus.Emit(events.ConflictResolved, events.ConflictResolvedPayload{
			Collection: conflict.Collection,
			RecordID:   conflict.RecordID,
			Strategy:   models.StrategyServerWins,
			Resolved:   conflict.ServerPayload,
		})
	}

	return nil
}
