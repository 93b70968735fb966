// Package service implements the offline-first sync engine: mutations are
// applied to the durable local store immediately and queued for transmission,
// a background orchestrator drains the queue and merges server deltas, and a
// resolver reconciles concurrent edits per collection policy.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldpad/syncengine/internal/events"
	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/internal/netmon"
	"github.com/fieldpad/syncengine/internal/store"
	"github.com/fieldpad/syncengine/models"
)

// MutateOptions tunes one Create, Update or Delete call. The zero value means
// medium priority with the engine's default retry budget.
type MutateOptions struct {
	Priority models.Priority
	// MaxRetries overrides the engine default when positive.
	MaxRetries int
}

// EngineDeps collects everything an Engine needs. All fields are required
// except Monitor, which defaults to an always-online manual monitor.
type EngineDeps struct {
	Stores       *store.Storages
	Resolver     *Resolver
	Orchestrator *Orchestrator
	Registry     *Registry
	Monitor      netmon.Monitor
	Bus          *events.Bus
	Logger       *logger.Logger

	DeviceID   string
	UserID     string
	MaxRetries int
}

// Engine is the facade the host application talks to. Every mutation lands in
// the local store and the operation queue in one transaction; the network is
// never touched on the caller's path.
type Engine struct {
	stores       *store.Storages
	resolver     *Resolver
	orchestrator *Orchestrator
	registry     *Registry
	monitor      netmon.Monitor
	bus          *events.Bus
	logger       *logger.Logger

	deviceID   string
	userID     string
	maxRetries int

	now   func() time.Time
	newID func() string
}

func NewEngine(deps EngineDeps) *Engine {
	monitor := deps.Monitor
	if monitor == nil {
		monitor = netmon.NewManualMonitor(true)
	}
	maxRetries := deps.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	return &Engine{
		stores:       deps.Stores,
		resolver:     deps.Resolver,
		orchestrator: deps.Orchestrator,
		registry:     deps.Registry,
		monitor:      monitor,
		bus:          deps.Bus,
		logger:       deps.Logger,
		deviceID:     deps.DeviceID,
		userID:       deps.UserID,
		maxRetries:   maxRetries,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        NewID,
	}
}

// Events returns the bus callers subscribe to for data-changed, sync
// lifecycle and conflict notifications.
func (e *Engine) Events() *events.Bus {
	return e.bus
}

// Create stores a new record and queues its transmission. The generated id is
// stable across client and server.
func (e *Engine) Create(ctx context.Context, collection string, data models.Payload, opts MutateOptions) (string, error) {
	if collection == "" {
		return "", ErrEmptyCollection
	}
	e.registry.Get(collection)

	now := e.now()
	rec := models.OfflineRecord{
		Collection:      collection,
		ID:              e.newID(),
		Payload:         data.Clone(),
		LocallyModified: true,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	op := e.newOperation(models.OpCreate, rec, rec.Payload, 0, opts)
	if err := e.stores.Records.SaveWithOperation(ctx, rec, op); err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}

	e.logger.Debug().
		Str("func", "Engine.Create").
		Str("collection", collection).
		Str("record_id", rec.ID).
		Msg("record created locally")

	e.bus.Emit(events.DataChanged, events.DataChangedPayload{
		Collection: collection,
		Kind:       models.OpCreate,
		Record:     rec,
	})
	e.nudge()

	return rec.ID, nil
}

// Update applies a partial payload on top of the stored one and queues the
// result. Updating a soft-deleted record fails with ErrRecordDeleted.
func (e *Engine) Update(ctx context.Context, collection, id string, partial models.Payload, opts MutateOptions) error {
	if collection == "" {
		return ErrEmptyCollection
	}
	e.registry.Get(collection)

	rec, err := e.stores.Records.Get(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if rec.Deleted() {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrRecordDeleted)
	}

	base := rec.Version
	merged := rec.Payload.Clone()
	if merged == nil {
		merged = models.Payload{}
	}
	for k, v := range partial.Clone() {
		merged[k] = v
	}

	rec.Payload = merged
	rec.Version = base + 1
	rec.LocallyModified = true
	rec.UpdatedAt = e.now()

	op := e.newOperation(models.OpUpdate, rec, merged, base, opts)
	if err := e.stores.Records.SaveWithOperation(ctx, rec, op); err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	e.bus.Emit(events.DataChanged, events.DataChangedPayload{
		Collection: collection,
		Kind:       models.OpUpdate,
		Record:     rec,
	})
	e.nudge()

	return nil
}

// Delete soft-deletes a record and queues the deletion. The row survives
// until the server acknowledges it. Deleting twice is a no-op.
func (e *Engine) Delete(ctx context.Context, collection, id string, opts MutateOptions) error {
	if collection == "" {
		return ErrEmptyCollection
	}
	e.registry.Get(collection)

	rec, err := e.stores.Records.Get(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if rec.Deleted() {
		return nil
	}

	base := rec.Version
	now := e.now()
	rec.DeletedAt = &now
	rec.Version = base + 1
	rec.LocallyModified = true
	rec.UpdatedAt = now

	op := e.newOperation(models.OpDelete, rec, nil, base, opts)
	if err := e.stores.Records.SaveWithOperation(ctx, rec, op); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	e.bus.Emit(events.DataChanged, events.DataChangedPayload{
		Collection: collection,
		Kind:       models.OpDelete,
		Record:     rec,
	})
	e.nudge()

	return nil
}

// Find returns live records in a collection matching the query. Reads never
// touch the network.
func (e *Engine) Find(ctx context.Context, collection string, q models.Query) ([]models.OfflineRecord, error) {
	if collection == "" {
		return nil, ErrEmptyCollection
	}
	return e.stores.Records.Query(ctx, collection, q)
}

// FindByID returns one record by id. Soft-deleted records report
// store.ErrRecordNotFound like missing ones.
func (e *Engine) FindByID(ctx context.Context, collection, id string) (models.OfflineRecord, error) {
	if collection == "" {
		return models.OfflineRecord{}, ErrEmptyCollection
	}

	rec, err := e.stores.Records.Get(ctx, collection, id)
	if err != nil {
		return models.OfflineRecord{}, err
	}
	if rec.Deleted() {
		return models.OfflineRecord{}, fmt.Errorf("%w: %s/%s", store.ErrRecordNotFound, collection, id)
	}

	return rec, nil
}

// GetStatus snapshots the engine state the UI renders its indicators from.
func (e *Engine) GetStatus(ctx context.Context) (models.Status, error) {
	pending, err := e.stores.Operations.PendingCount(ctx)
	if err != nil {
		return models.Status{}, err
	}
	conflicts, err := e.stores.Conflicts.CountUnresolved(ctx)
	if err != nil {
		return models.Status{}, err
	}

	return models.Status{
		Online:         e.monitor.Online(),
		SyncInProgress: e.orchestrator.InProgress(),
		QueueLength:    pending,
		Conflicts:      conflicts,
	}, nil
}

// GetConflicts lists conflicts awaiting manual resolution.
func (e *Engine) GetConflicts(ctx context.Context) ([]models.ConflictRecord, error) {
	return e.stores.Conflicts.ListUnresolved(ctx)
}

// ResolveConflict closes a parked conflict with the caller's chosen payload,
// writes it back to the local store and re-aims the record's queued
// operations so the choice is what reaches the server.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, chosen models.Payload) error {
	conflict, err := e.stores.Conflicts.Get(ctx, conflictID)
	if err != nil {
		return err
	}
	if conflict.Resolved {
		return fmt.Errorf("resolve %s: %w", conflictID, ErrConflictAlreadyResolved)
	}

	if err := e.stores.Conflicts.MarkResolved(ctx, conflictID, chosen, models.StrategyManual); err != nil {
		return err
	}

	now := e.now()
	rec, err := e.stores.Records.Get(ctx, conflict.Collection, conflict.RecordID)
	if err != nil {
		if !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}
		rec = models.OfflineRecord{
			Collection: conflict.Collection,
			ID:         conflict.RecordID,
			CreatedAt:  now,
		}
	}

	rec.Payload = chosen.Clone()
	rec.Version = conflict.ServerVersion + 1
	rec.LocallyModified = true
	rec.UpdatedAt = now
	if err := e.stores.Records.Save(ctx, rec); err != nil {
		return err
	}

	pending, err := e.stores.Operations.ListPendingForRecord(ctx, conflict.Collection, conflict.RecordID)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		head := pending[0]
		if head.Kind == models.OpDelete {
			err = e.stores.Operations.SetBaseVersion(ctx, head.ID, conflict.ServerVersion)
		} else {
			err = e.stores.Operations.UpdatePayload(ctx, head.ID, chosen, conflict.ServerVersion)
		}
		if err != nil {
			return err
		}
	} else {
		op := models.SyncOperation{
			ID:             e.newID(),
			Kind:           models.OpUpdate,
			Collection:     conflict.Collection,
			RecordID:       conflict.RecordID,
			Payload:        chosen.Clone(),
			Priority:       models.PriorityMedium,
			BaseVersion:    conflict.ServerVersion,
			EnqueuedAt:     now,
			MaxRetries:     e.maxRetries,
			Status:         models.OpPending,
			OriginDeviceID: e.deviceID,
			OriginUserID:   e.userID,
		}
		if err := e.stores.Operations.Enqueue(ctx, op); err != nil {
			return err
		}
	}

	e.logger.Info().
		Str("func", "Engine.ResolveConflict").
		Str("conflict_id", conflictID).
		Str("collection", conflict.Collection).
		Str("record_id", conflict.RecordID).
		Msg("conflict resolved manually")

	e.bus.Emit(events.ConflictResolved, events.ConflictResolvedPayload{
		Collection: conflict.Collection,
		RecordID:   conflict.RecordID,
		Strategy:   models.StrategyManual,
		Resolved:   chosen,
	})
	e.nudge()

	return nil
}

// Sync is the manual flush: abandoned operations get a fresh retry budget and
// a full pass runs synchronously. Returns ErrOffline when the device has no
// connectivity, leaving abandoned operations untouched.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.monitor.Online() {
		return ErrOffline
	}

	reactivated, err := e.stores.Operations.ReactivateAbandoned(ctx)
	if err != nil {
		return err
	}
	if reactivated > 0 {
		e.logger.Info().
			Str("func", "Engine.Sync").
			Int64("reactivated", reactivated).
			Msg("abandoned operations returned to the queue")
	}

	return e.orchestrator.RunPass(ctx)
}

// Close releases the engine's database resources. Background workers must be
// stopped first.
func (e *Engine) Close() error {
	return e.stores.Close()
}

func (e *Engine) newOperation(kind models.OpKind, rec models.OfflineRecord, payload models.Payload, baseVersion int64, opts MutateOptions) models.SyncOperation {
	priority := opts.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.maxRetries
	}

	return models.SyncOperation{
		ID:             e.newID(),
		Kind:           kind,
		Collection:     rec.Collection,
		RecordID:       rec.ID,
		Payload:        payload.Clone(),
		Priority:       priority,
		BaseVersion:    baseVersion,
		EnqueuedAt:     e.now(),
		MaxRetries:     maxRetries,
		Status:         models.OpPending,
		OriginDeviceID: e.deviceID,
		OriginUserID:   e.userID,
	}
}

// nudge asks the background worker for a pass when connectivity allows.
func (e *Engine) nudge() {
	if e.monitor.Online() {
		e.orchestrator.Kick()
	}
}
