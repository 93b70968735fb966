package service

import (
	"context"
	"fmt"
	"time"

	"dario.cat/mergo"

	"github.com/fieldpad/syncengine/internal/events"
	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/internal/store"
	"github.com/fieldpad/syncengine/models"
)

// Winner identifies which side a resolution kept.
type Winner int

const (
	// WinnerServer means the server payload stands and the local
	// modification is discarded.
	WinnerServer Winner = iota
	// WinnerLocal means the local payload stands and is pushed on the next
	// drain.
	WinnerLocal
	// WinnerMerged means the resolved payload combines both sides and is
	// pushed on the next drain.
	WinnerMerged
)

// LocalVersion is the client's side of a conflict.
type LocalVersion struct {
	Payload   models.Payload
	Version   int64
	UpdatedAt time.Time
}

// Resolution is the outcome of running one conflict through a collection's
// strategy. When Deferred is set no payload was chosen; a ConflictRecord was
// parked for manual resolution instead.
type Resolution struct {
	Payload  models.Payload
	Winner   Winner
	Deferred bool
	Conflict models.ConflictRecord
}

// Resolver dispatches the closed set of conflict strategies and records
// every resolution, automatic or parked, in the conflict log so the
// reconciliation stays explainable after the fact.
type Resolver struct {
	conflicts store.ConflictRepository
	bus       *events.Bus
	logger    *logger.Logger

	now   func() time.Time
	newID func() string
}

func NewResolver(conflicts store.ConflictRepository, bus *events.Bus, logger *logger.Logger) *Resolver {
	return &Resolver{
		conflicts: conflicts,
		bus:       bus,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     NewID,
	}
}

// Resolve applies cfg's strategy to a diverged record. Automatic strategies
// return the chosen payload and append a resolved audit entry; the manual
// strategy parks an unresolved ConflictRecord, emits conflict-detected and
// returns a deferred resolution.
func (r *Resolver) Resolve(ctx context.Context, cfg models.CollectionConfig, recordID string, local LocalVersion, server models.ServerRecord) (Resolution, error) {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = models.StrategyServerWins
	}

	conflict := models.ConflictRecord{
		ID:            r.newID(),
		Collection:    cfg.Collection,
		RecordID:      recordID,
		LocalPayload:  local.Payload.Clone(),
		ServerPayload: server.Payload.Clone(),
		LocalVersion:  local.Version,
		ServerVersion: server.Version,
		DetectedAt:    r.now(),
		Strategy:      strategy,
	}

	if strategy == models.StrategyManual {
		if err := r.conflicts.Save(ctx, conflict); err != nil {
			return Resolution{}, fmt.Errorf("park manual conflict: %w", err)
		}

		r.logger.Info().
			Str("func", "Resolver.Resolve").
			Str("collection", cfg.Collection).
			Str("record_id", recordID).
			Msg("conflict parked for manual resolution")

		r.bus.Emit(events.ConflictDetected, events.ConflictDetectedPayload{
			Collection: cfg.Collection,
			RecordID:   recordID,
			Local:      conflict.LocalPayload,
			Server:     conflict.ServerPayload,
		})

		return Resolution{Deferred: true, Conflict: conflict}, nil
	}

	resolved, winner := r.apply(strategy, cfg, local, server)

	// Critical fields keep their server value whenever the server side did
	// not win outright.
	if winner != WinnerServer && len(cfg.CriticalFields) > 0 {
		resolved = resolved.Clone()
		for _, field := range cfg.CriticalFields {
			if sv, ok := server.Payload[field]; ok {
				resolved[field] = sv
			}
		}
	}

	resolvedAt := r.now()
	conflict.Resolved = true
	conflict.Resolution = resolved
	conflict.ResolvedAt = &resolvedAt

	if err := r.conflicts.Save(ctx, conflict); err != nil {
		return Resolution{}, fmt.Errorf("record conflict resolution: %w", err)
	}

	r.bus.Emit(events.ConflictResolved, events.ConflictResolvedPayload{
		Collection: cfg.Collection,
		RecordID:   recordID,
		Strategy:   strategy,
		Resolved:   resolved,
	})

	return Resolution{Payload: resolved, Winner: winner, Conflict: conflict}, nil
}

func (r *Resolver) apply(strategy models.ConflictStrategy, cfg models.CollectionConfig, local LocalVersion, server models.ServerRecord) (models.Payload, Winner) {
	switch strategy {
	case models.StrategyClientWins:
		return local.Payload.Clone(), WinnerLocal

	case models.StrategyNewestWins:
		// Server wins exact timestamp ties so two devices resolving the
		// same pair reach the same answer.
		if local.UpdatedAt.After(server.UpdatedAt) {
			return local.Payload.Clone(), WinnerLocal
		}
		return server.Payload.Clone(), WinnerServer

	case models.StrategyMerge:
		if cfg.Merge != nil {
			return cfg.Merge(local.Payload.Clone(), server.Payload.Clone()), WinnerMerged
		}
		return shallowMerge(local.Payload, server.Payload), WinnerMerged

	default: // server-wins
		return server.Payload.Clone(), WinnerServer
	}
}

// shallowMerge combines both payloads with server values taking precedence
// on key collision; fields only the client knows survive.
func shallowMerge(local, server models.Payload) models.Payload {
	dst := map[string]any(server.Clone())
	if dst == nil {
		dst = map[string]any{}
	}

	if err := mergo.Map(&dst, map[string]any(local.Clone())); err != nil {
		// mergo only fails on type mismatches; fall back to the server side.
		return server.Clone()
	}

	return dst
}
