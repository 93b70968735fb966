package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fieldpad/syncengine/internal/adapter"
	"github.com/fieldpad/syncengine/internal/events"
	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/internal/netmon"
	"github.com/fieldpad/syncengine/internal/store"
	"github.com/fieldpad/syncengine/models"
)

// inPassRetries bounds immediate retries of one push inside a pass; the
// persisted retry counter covers cross-pass retries.
const inPassRetries = 2

// Orchestrator runs sync passes: drain the operation queue collection by
// collection, then pull server deltas and merge them into the local store.
// At most one pass runs at a time; overlapping triggers coalesce.
type Orchestrator struct {
	stores   *store.Storages
	remote   adapter.ServerAdapter
	resolver *Resolver
	registry *Registry
	monitor  netmon.Monitor
	bus      *events.Bus
	logger   *logger.Logger

	batchSize  int
	maxRetries int
	deviceID   string
	userID     string
	retryBase  time.Duration
	inProgress atomic.Bool
	kick       chan struct{}

	now func() time.Time
}

// OrchestratorOptions tunes a new Orchestrator. DeviceID and UserID tag the
// operations the orchestrator itself enqueues during pull merges.
type OrchestratorOptions struct {
	BatchSize  int
	MaxRetries int
	DeviceID   string
	UserID     string
}

func NewOrchestrator(
	stores *store.Storages,
	remote adapter.ServerAdapter,
	resolver *Resolver,
	registry *Registry,
	monitor netmon.Monitor,
	bus *events.Bus,
	opts OrchestratorOptions,
	logger *logger.Logger,
) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	return &Orchestrator{
		stores:     stores,
		remote:     remote,
		resolver:   resolver,
		registry:   registry,
		monitor:    monitor,
		bus:        bus,
		logger:     logger,
		batchSize:  opts.BatchSize,
		maxRetries: opts.MaxRetries,
		deviceID:   opts.DeviceID,
		userID:     opts.UserID,
		retryBase:  500 * time.Millisecond,
		kick:       make(chan struct{}, 1),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Kick requests a sync pass from the background worker without blocking.
// Kicks arriving while one is already queued collapse into it.
func (o *Orchestrator) Kick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// Kicks exposes the trigger channel to the background worker.
func (o *Orchestrator) Kicks() <-chan struct{} {
	return o.kick
}

// InProgress reports whether a pass is currently running.
func (o *Orchestrator) InProgress() bool {
	return o.inProgress.Load()
}

// RunPass executes one full sync pass over every known collection. A second
// concurrent call returns immediately; the running pass covers it. Offline
// passes return ErrOffline without touching the queue.
func (o *Orchestrator) RunPass(ctx context.Context) error {
	if !o.inProgress.CompareAndSwap(false, true) {
		o.logger.Debug().
			Str("func", "Orchestrator.RunPass").
			Msg("sync pass already in progress, coalescing")
		return nil
	}
	defer o.inProgress.Store(false)

	if !o.monitor.Online() {
		return ErrOffline
	}

	o.bus.Emit(events.SyncStarted, nil)

	started := o.now()
	for _, collection := range o.registry.Names() {
		if err := o.syncCollection(ctx, collection); err != nil {
			o.logger.Err(err).
				Str("func", "Orchestrator.RunPass").
				Str("collection", collection).
				Msg("sync pass failed")
			o.bus.Emit(events.SyncFailed, events.SyncFailedPayload{Err: err})
			return err
		}
	}

	o.logger.Info().
		Str("func", "Orchestrator.RunPass").
		Dur("elapsed", o.now().Sub(started)).
		Msg("sync pass completed")
	o.bus.Emit(events.SyncCompleted, nil)

	return nil
}

func (o *Orchestrator) syncCollection(ctx context.Context, collection string) error {
	if err := o.drain(ctx, collection); err != nil {
		return fmt.Errorf("drain %s: %w", collection, err)
	}
	if err := o.pull(ctx, collection); err != nil {
		return fmt.Errorf("pull %s: %w", collection, err)
	}
	return nil
}

// drain pushes eligible pending operations for one collection in priority
// order. Each operation is handled at most once per pass, so a pass always
// terminates even when resolutions enqueue replacement operations.
func (o *Orchestrator) drain(ctx context.Context, collection string) error {
	cfg := o.registry.Get(collection)
	seen := make(map[string]struct{})

	for {
		batch, err := o.stores.Operations.DequeueBatch(ctx, collection, o.batchSize)
		if err != nil {
			return err
		}

		pushed := 0
		for _, op := range batch {
			if _, done := seen[op.ID]; done {
				continue
			}
			seen[op.ID] = struct{}{}
			pushed++

			if err := o.pushOperation(ctx, cfg, op, seen); err != nil {
				return err
			}
		}

		if pushed == 0 {
			return nil
		}
	}
}

// pushOperation transmits one queued mutation and settles its outcome:
// acknowledge, resolve a version conflict, abandon a rejection, or record a
// transient failure for the next pass.
func (o *Orchestrator) pushOperation(ctx context.Context, cfg models.CollectionConfig, op models.SyncOperation, seen map[string]struct{}) error {
	server, pushErr := o.send(ctx, op)

	switch {
	case pushErr == nil:
		return o.acknowledge(ctx, op, server)

	case isConflict(pushErr):
		ce, ok := adapter.AsConflict(pushErr)
		if !ok {
			// A 409 whose body carried no readable server record, such as a
			// proxy error page. The strategy cannot run without the server
			// copy; keep the operation queued and let a later pull or retry
			// bring it.
			o.logger.Warn().
				Str("func", "Orchestrator.pushOperation").
				Str("op_id", op.ID).
				Str("record_id", op.RecordID).
				Msg("conflict response carried no server record, deferring")
			return o.recordFailure(ctx, op, pushErr)
		}
		return o.resolvePushConflict(ctx, cfg, op, ce.Server, seen)

	case errors.Is(pushErr, adapter.ErrServerRejected):
		abandoned, abErr := o.stores.Operations.Abandon(ctx, op.ID, pushErr)
		if abErr != nil {
			return abErr
		}

		o.logger.Warn().
			Str("func", "Orchestrator.pushOperation").
			Str("op_id", op.ID).
			Str("record_id", op.RecordID).
			Str("reason", pushErr.Error()).
			Msg("server rejected operation, abandoning")
		o.bus.Emit(events.OperationAbandoned, events.OperationAbandonedPayload{
			Operation: abandoned,
			Err:       pushErr,
		})

		// Credential failures affect every subsequent push the same way.
		if errors.Is(pushErr, adapter.ErrUnauthorized) {
			return pushErr
		}
		return nil

	default:
		// Transient failure. The persisted retry counter decides whether the
		// operation survives to the next pass; either way this pass stops,
		// since the link is unusable.
		if err := o.recordFailure(ctx, op, pushErr); err != nil {
			return err
		}
		return pushErr
	}
}

// recordFailure bumps the persisted retry counter and emits the abandoned
// event when the operation runs out of budget.
func (o *Orchestrator) recordFailure(ctx context.Context, op models.SyncOperation, cause error) error {
	failed, abandoned, err := o.stores.Operations.MarkFailed(ctx, op.ID, cause)
	if err != nil {
		return err
	}
	if abandoned {
		o.bus.Emit(events.OperationAbandoned, events.OperationAbandonedPayload{
			Operation: failed,
			Err:       cause,
		})
	}
	return nil
}

// send dispatches the operation to the matching adapter call, retrying
// transient failures a bounded number of times within the pass.
func (o *Orchestrator) send(ctx context.Context, op models.SyncOperation) (models.ServerRecord, error) {
	var server models.ServerRecord

	backoff := retry.WithMaxRetries(inPassRetries, retry.NewExponential(o.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var sendErr error

		switch op.Kind {
		case models.OpCreate:
			server, sendErr = o.remote.Create(ctx, op.Collection, upsertRequest(op))
		case models.OpUpdate:
			server, sendErr = o.remote.Update(ctx, op.Collection, op.RecordID, upsertRequest(op))
		case models.OpDelete:
			sendErr = o.remote.Delete(ctx, op.Collection, op.RecordID, op.BaseVersion)
		default:
			sendErr = fmt.Errorf("%w: unknown operation kind %q", adapter.ErrServerRejected, op.Kind)
		}

		if adapter.IsTransient(sendErr) {
			return retry.RetryableError(sendErr)
		}
		return sendErr
	})

	return server, err
}

func upsertRequest(op models.SyncOperation) models.UpsertRequest {
	return models.UpsertRequest{
		ID:          op.RecordID,
		Payload:     op.Payload,
		BaseVersion: op.BaseVersion,
		UpdatedAt:   op.EnqueuedAt,
	}
}

// acknowledge removes the confirmed operation and folds the server's version
// into the local record. The record stays locally modified while later
// operations for it remain queued; the next one is re-aimed at the version
// the server just assigned.
func (o *Orchestrator) acknowledge(ctx context.Context, op models.SyncOperation, server models.ServerRecord) error {
	if err := o.stores.Operations.MarkSucceeded(ctx, op.ID); err != nil {
		return err
	}

	if op.Kind == models.OpDelete {
		if err := o.stores.Records.Purge(ctx, op.Collection, op.RecordID); err != nil {
			return err
		}
		return nil
	}

	rec, err := o.stores.Records.Get(ctx, op.Collection, op.RecordID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			// Purged between enqueue and ack; nothing left to reconcile.
			return nil
		}
		return err
	}

	remaining, err := o.stores.Operations.ListPendingForRecord(ctx, op.Collection, op.RecordID)
	if err != nil {
		return err
	}

	rec.Version = server.Version
	rec.LocallyModified = len(remaining) > 0
	if len(remaining) == 0 && server.Payload != nil {
		// The server may have normalized fields; with nothing else queued
		// its response is the settled copy.
		rec.Payload = server.Payload.Clone()
		if !server.UpdatedAt.IsZero() {
			rec.UpdatedAt = server.UpdatedAt
		}
	}
	if err := o.stores.Records.Save(ctx, rec); err != nil {
		return err
	}

	if len(remaining) > 0 {
		if err := o.stores.Operations.SetBaseVersion(ctx, remaining[0].ID, server.Version); err != nil {
			return err
		}
	}

	return nil
}

// resolvePushConflict runs the collection's strategy against the server copy
// carried in the 409 body and rewires the queue accordingly.
func (o *Orchestrator) resolvePushConflict(ctx context.Context, cfg models.CollectionConfig, op models.SyncOperation, server models.ServerRecord, seen map[string]struct{}) error {
	local, err := o.localSide(ctx, op)
	if err != nil {
		return err
	}

	res, err := o.resolver.Resolve(ctx, cfg, op.RecordID, local, server)
	if err != nil {
		return err
	}

	if res.Deferred {
		// The parked conflict excludes this record from dequeue until a
		// caller resolves it. The operation stays queued untouched.
		return nil
	}

	switch res.Winner {
	case WinnerServer:
		return o.adoptServer(ctx, op.Collection, op.RecordID, server)
	default:
		return o.pushResolution(ctx, op, res.Payload, server.Version, seen)
	}
}

// localSide reconstructs the client's version of the record for the
// resolver, falling back to the operation snapshot if the record is gone.
func (o *Orchestrator) localSide(ctx context.Context, op models.SyncOperation) (LocalVersion, error) {
	rec, err := o.stores.Records.Get(ctx, op.Collection, op.RecordID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return LocalVersion{
				Payload:   op.Payload,
				Version:   op.BaseVersion,
				UpdatedAt: op.EnqueuedAt,
			}, nil
		}
		return LocalVersion{}, err
	}

	return LocalVersion{
		Payload:   rec.Payload,
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// adoptServer discards the local mutation history for a record and installs
// the server copy, or purges the record when the server deleted it.
func (o *Orchestrator) adoptServer(ctx context.Context, collection, recordID string, server models.ServerRecord) error {
	if err := o.stores.Operations.DeleteForRecord(ctx, collection, recordID); err != nil {
		return err
	}

	if server.Deleted {
		if err := o.stores.Records.Purge(ctx, collection, recordID); err != nil {
			return err
		}
		o.bus.Emit(events.DataChanged, events.DataChangedPayload{
			Collection: collection,
			Kind:       models.OpDelete,
			Record:     models.OfflineRecord{Collection: collection, ID: recordID},
		})
		return nil
	}

	now := o.now()
	rec := models.OfflineRecord{
		Collection:      collection,
		ID:              recordID,
		Payload:         server.Payload.Clone(),
		LocallyModified: false,
		Version:         server.Version,
		CreatedAt:       now,
		UpdatedAt:       server.UpdatedAt,
	}
	if existing, err := o.stores.Records.Get(ctx, collection, recordID); err == nil {
		rec.CreatedAt = existing.CreatedAt
	}

	if err := o.stores.Records.Save(ctx, rec); err != nil {
		return err
	}

	o.bus.Emit(events.DataChanged, events.DataChangedPayload{
		Collection: collection,
		Kind:       models.OpUpdate,
		Record:     rec,
	})

	return nil
}

// pushResolution supersedes the conflicted operation with a fresh update
// carrying the resolved payload, based on the server version that caused the
// conflict. A client-wins delete instead keeps the delete and re-aims it.
func (o *Orchestrator) pushResolution(ctx context.Context, op models.SyncOperation, resolved models.Payload, serverVersion int64, seen map[string]struct{}) error {
	if op.Kind == models.OpDelete {
		if err := o.stores.Operations.SetBaseVersion(ctx, op.ID, serverVersion); err != nil {
			return err
		}
		return nil
	}

	if err := o.stores.Operations.MarkSucceeded(ctx, op.ID); err != nil {
		return err
	}

	next := models.SyncOperation{
		ID:             o.resolver.newID(),
		Kind:           models.OpUpdate,
		Collection:     op.Collection,
		RecordID:       op.RecordID,
		Payload:        resolved.Clone(),
		Priority:       op.Priority,
		BaseVersion:    serverVersion,
		EnqueuedAt:     o.now(),
		MaxRetries:     op.MaxRetries,
		Status:         models.OpPending,
		OriginDeviceID: op.OriginDeviceID,
		OriginUserID:   op.OriginUserID,
	}
	if err := o.stores.Operations.Enqueue(ctx, next); err != nil {
		return err
	}
	// Defer the replacement to the next pass; pushing it now could ping-pong
	// against a server that keeps moving.
	seen[next.ID] = struct{}{}

	rec, err := o.stores.Records.Get(ctx, op.Collection, op.RecordID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	rec.Payload = resolved.Clone()
	rec.Version = serverVersion + 1
	rec.LocallyModified = true
	rec.UpdatedAt = o.now()
	if err := o.stores.Records.Save(ctx, rec); err != nil {
		return err
	}

	o.bus.Emit(events.DataChanged, events.DataChangedPayload{
		Collection: op.Collection,
		Kind:       models.OpUpdate,
		Record:     rec,
	})

	return nil
}

// pull fetches server-side changes since the stored cursor and merges them
// into the local store. The cursor advances only after the whole batch
// merged, so an interrupted merge is replayed on the next pass.
func (o *Orchestrator) pull(ctx context.Context, collection string) error {
	cfg := o.registry.Get(collection)

	cursor, err := o.stores.Meta.GetCursor(ctx, collection)
	if err != nil {
		return err
	}

	var resp models.PullResponse
	backoff := retry.WithMaxRetries(inPassRetries, retry.NewExponential(o.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var pullErr error
		resp, pullErr = o.remote.Pull(ctx, collection, cursor.LastSyncedAt)
		if adapter.IsTransient(pullErr) {
			return retry.RetryableError(pullErr)
		}
		return pullErr
	})
	if err != nil {
		return err
	}

	for _, server := range resp.Records {
		if err := o.mergePulled(ctx, cfg, server); err != nil {
			return err
		}
	}

	if resp.Cursor != "" && resp.Cursor != cursor.LastSyncedAt {
		if err := o.stores.Meta.SetCursor(ctx, collection, resp.Cursor); err != nil {
			return err
		}
	}

	return nil
}

// mergePulled folds one server record into the local store. Clean records
// follow the server unconditionally; locally modified ones go through the
// collection's conflict strategy.
func (o *Orchestrator) mergePulled(ctx context.Context, cfg models.CollectionConfig, server models.ServerRecord) error {
	local, err := o.stores.Records.Get(ctx, cfg.Collection, server.ID)
	if err != nil {
		if !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}

		// Unknown locally. A deletion of something never cached is a no-op.
		if server.Deleted {
			return nil
		}

		now := o.now()
		rec := models.OfflineRecord{
			Collection: cfg.Collection,
			ID:         server.ID,
			Payload:    server.Payload.Clone(),
			Version:    server.Version,
			CreatedAt:  now,
			UpdatedAt:  server.UpdatedAt,
		}
		if err := o.stores.Records.Save(ctx, rec); err != nil {
			return err
		}
		o.bus.Emit(events.DataChanged, events.DataChangedPayload{
			Collection: cfg.Collection,
			Kind:       models.OpCreate,
			Record:     rec,
		})
		return nil
	}

	if !local.LocallyModified {
		if server.Version <= local.Version {
			return nil
		}
		return o.adoptServer(ctx, cfg.Collection, server.ID, server)
	}

	// Diverged: both sides changed since the last sync.
	res, err := o.resolver.Resolve(ctx, cfg, server.ID, LocalVersion{
		Payload:   local.Payload,
		Version:   local.Version,
		UpdatedAt: local.UpdatedAt,
	}, server)
	if err != nil {
		return err
	}

	if res.Deferred {
		return nil
	}

	if res.Winner == WinnerServer {
		return o.adoptServer(ctx, cfg.Collection, server.ID, server)
	}

	return o.keepResolvedLocal(ctx, cfg.Collection, local, res.Payload, server.Version)
}

// keepResolvedLocal installs a resolution that favours the local side and
// re-aims the record's head pending operation so the next drain pushes the
// resolved payload against the server version just observed.
func (o *Orchestrator) keepResolvedLocal(ctx context.Context, collection string, local models.OfflineRecord, resolved models.Payload, serverVersion int64) error {
	local.Payload = resolved.Clone()
	local.Version = serverVersion + 1
	local.UpdatedAt = o.now()
	if err := o.stores.Records.Save(ctx, local); err != nil {
		return err
	}

	pending, err := o.stores.Operations.ListPendingForRecord(ctx, collection, local.ID)
	if err != nil {
		return err
	}

	if len(pending) > 0 {
		head := pending[0]
		if head.Kind == models.OpDelete {
			err = o.stores.Operations.SetBaseVersion(ctx, head.ID, serverVersion)
		} else {
			err = o.stores.Operations.UpdatePayload(ctx, head.ID, resolved, serverVersion)
		}
		if err != nil {
			return err
		}
	} else {
		op := models.SyncOperation{
			ID:             o.resolver.newID(),
			Kind:           models.OpUpdate,
			Collection:     collection,
			RecordID:       local.ID,
			Payload:        resolved.Clone(),
			Priority:       models.PriorityMedium,
			BaseVersion:    serverVersion,
			EnqueuedAt:     o.now(),
			MaxRetries:     o.maxRetries,
			Status:         models.OpPending,
			OriginDeviceID: o.deviceID,
			OriginUserID:   o.userID,
		}
		if err := o.stores.Operations.Enqueue(ctx, op); err != nil {
			return err
		}
	}

	o.bus.Emit(events.DataChanged, events.DataChangedPayload{
		Collection: collection,
		Kind:       models.OpUpdate,
		Record:     local,
	})

	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, adapter.ErrVersionConflict)
}
