package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fieldpad/syncengine/internal/events"
	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/internal/netmon"
	"github.com/fieldpad/syncengine/internal/store"
	"github.com/fieldpad/syncengine/models"
)

// harness wires an engine against in-memory repositories and a scripted
// server so tests can drive full offline/online cycles.
type harness struct {
	store    *memStore
	server   *fakeServer
	bus      *events.Bus
	monitor  *netmon.ManualMonitor
	registry *Registry
	resolver *Resolver
	orch     *Orchestrator
	engine   *Engine
}

func newHarness(configs ...models.CollectionConfig) *harness {
	log := logger.Nop()
	mem := newMemStore()
	server := newFakeServer()
	bus := events.NewBus(log)
	monitor := netmon.NewManualMonitor(true)
	registry := NewRegistry(configs)
	stores := mem.storages()
	resolver := NewResolver(stores.Conflicts, bus, log)
	orch := NewOrchestrator(stores, server, resolver, registry, monitor, bus, OrchestratorOptions{
		BatchSize:  10,
		MaxRetries: 3,
		DeviceID:   "device-1",
		UserID:     "user-1",
	}, log)
	orch.retryBase = time.Millisecond
	engine := NewEngine(EngineDeps{
		Stores:       stores,
		Resolver:     resolver,
		Orchestrator: orch,
		Registry:     registry,
		Monitor:      monitor,
		Bus:          bus,
		Logger:       log,
		DeviceID:     "device-1",
		UserID:       "user-1",
		MaxRetries:   3,
	})

	return &harness{
		store:    mem,
		server:   server,
		bus:      bus,
		monitor:  monitor,
		registry: registry,
		resolver: resolver,
		orch:     orch,
		engine:   engine,
	}
}

// eventLog records emitted event names in order.
type eventLog struct {
	mu    sync.Mutex
	names []string
}

func watchEvents(bus *events.Bus, names ...string) *eventLog {
	l := &eventLog{}
	for _, name := range names {
		name := name
		bus.Subscribe(name, func(any) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.names = append(l.names, name)
		})
	}
	return l
}

func (l *eventLog) seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

// memStore is an in-memory implementation of all four repositories, honoring
// the same dequeue semantics as the SQL queue: only the earliest pending
// operation per record is eligible and conflicted records are skipped.
type memStore struct {
	mu        sync.Mutex
	nextSeq   int64
	records   map[string]models.OfflineRecord
	ops       map[string]models.SyncOperation
	conflicts map[string]models.ConflictRecord
	cursors   map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		records:   make(map[string]models.OfflineRecord),
		ops:       make(map[string]models.SyncOperation),
		conflicts: make(map[string]models.ConflictRecord),
		cursors:   make(map[string]string),
	}
}

func (m *memStore) storages() *store.Storages {
	return &store.Storages{
		Records:    m,
		Operations: m,
		Conflicts:  memConflicts{m},
		Meta:       m,
	}
}

// memConflicts adapts memStore to ConflictRepository; Save and Get collide
// with the record repository method set and need distinct names underneath.
type memConflicts struct {
	*memStore
}

func (c memConflicts) Save(ctx context.Context, conflict models.ConflictRecord) error {
	return c.SaveConflict(ctx, conflict)
}

func (c memConflicts) Get(ctx context.Context, id string) (models.ConflictRecord, error) {
	return c.GetConflict(ctx, id)
}

func recordKey(collection, id string) string {
	return collection + "/" + id
}

// ── RecordRepository ─────────────────────────────────────────────────────────

func (m *memStore) Save(_ context.Context, rec models.OfflineRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey(rec.Collection, rec.ID)] = rec
	return nil
}

func (m *memStore) SaveWithOperation(ctx context.Context, rec models.OfflineRecord, op models.SyncOperation) error {
	if err := m.Save(ctx, rec); err != nil {
		return err
	}
	return m.Enqueue(ctx, op)
}

func (m *memStore) Get(_ context.Context, collection, id string) (models.OfflineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(collection, id)]
	if !ok {
		return models.OfflineRecord{}, fmt.Errorf("%w: %s/%s", store.ErrRecordNotFound, collection, id)
	}
	return rec, nil
}

func (m *memStore) Query(_ context.Context, collection string, q models.Query) ([]models.OfflineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.OfflineRecord
	for _, rec := range m.records {
		if rec.Collection != collection || rec.Deleted() {
			continue
		}
		match := true
		for field, want := range q.Filters {
			if rec.Payload[field] != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && uint64(len(out)) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memStore) Purge(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordKey(collection, id))
	return nil
}

func (m *memStore) PurgeStale(_ context.Context, collection string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for key, rec := range m.records {
		if rec.Collection == collection && !rec.LocallyModified && rec.UpdatedAt.Before(cutoff) {
			delete(m.records, key)
			purged++
		}
	}
	return purged, nil
}

// ── OperationRepository ──────────────────────────────────────────────────────

func (m *memStore) Enqueue(_ context.Context, op models.SyncOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	op.Seq = m.nextSeq
	m.ops[op.ID] = op
	return nil
}

func (m *memStore) DequeueBatch(_ context.Context, collection string, limit int) ([]models.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	heads := make(map[string]models.SyncOperation)
	for _, op := range m.ops {
		if op.Status != models.OpPending || op.Collection != collection {
			continue
		}
		if m.hasOpenConflictLocked(op.Collection, op.RecordID) {
			continue
		}
		head, ok := heads[op.RecordID]
		if !ok || op.Seq < head.Seq {
			heads[op.RecordID] = op
		}
	}

	out := make([]models.SyncOperation, 0, len(heads))
	for _, op := range heads {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) hasOpenConflictLocked(collection, recordID string) bool {
	for _, c := range m.conflicts {
		if !c.Resolved && c.Collection == collection && c.RecordID == recordID {
			return true
		}
	}
	return false
}

func (m *memStore) MarkSucceeded(_ context.Context, opID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ops[opID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrOperationNotFound, opID)
	}
	delete(m.ops, opID)
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, opID string, opErr error) (models.SyncOperation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[opID]
	if !ok {
		return models.SyncOperation{}, false, fmt.Errorf("%w: %s", store.ErrOperationNotFound, opID)
	}

	op.RetryCount++
	op.LastError = opErr.Error()
	abandoned := op.RetryCount > op.MaxRetries
	if abandoned {
		op.Status = models.OpAbandoned
	}
	m.ops[opID] = op
	return op, abandoned, nil
}

func (m *memStore) Abandon(_ context.Context, opID string, opErr error) (models.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[opID]
	if !ok {
		return models.SyncOperation{}, fmt.Errorf("%w: %s", store.ErrOperationNotFound, opID)
	}
	op.LastError = opErr.Error()
	op.Status = models.OpAbandoned
	m.ops[opID] = op
	return op, nil
}

func (m *memStore) UpdatePayload(_ context.Context, opID string, payload models.Payload, baseVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.ops[opID]; ok && op.Status == models.OpPending {
		op.Payload = payload
		op.BaseVersion = baseVersion
		m.ops[opID] = op
	}
	return nil
}

func (m *memStore) SetBaseVersion(_ context.Context, opID string, baseVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.ops[opID]; ok && op.Status == models.OpPending {
		op.BaseVersion = baseVersion
		m.ops[opID] = op
	}
	return nil
}

func (m *memStore) DeleteForRecord(_ context.Context, collection, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, op := range m.ops {
		if op.Collection == collection && op.RecordID == recordID && op.Status == models.OpPending {
			delete(m.ops, id)
		}
	}
	return nil
}

func (m *memStore) ListPendingForRecord(_ context.Context, collection, recordID string) ([]models.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.SyncOperation
	for _, op := range m.ops {
		if op.Collection == collection && op.RecordID == recordID && op.Status == models.OpPending {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *memStore) ReactivateAbandoned(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, op := range m.ops {
		if op.Status == models.OpAbandoned {
			op.Status = models.OpPending
			op.RetryCount = 0
			m.ops[id] = op
			n++
		}
	}
	return n, nil
}

func (m *memStore) PendingCount(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, op := range m.ops {
		if op.Status == models.OpPending {
			count++
		}
	}
	return count, nil
}

// ── ConflictRepository ───────────────────────────────────────────────────────

func (m *memStore) SaveConflict(ctx context.Context, c models.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[c.ID] = c
	return nil
}

func (m *memStore) GetConflict(_ context.Context, id string) (models.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok {
		return models.ConflictRecord{}, fmt.Errorf("%w: %s", store.ErrConflictNotFound, id)
	}
	return c, nil
}

func (m *memStore) ListUnresolved(_ context.Context) ([]models.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ConflictRecord
	for _, c := range m.conflicts {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UnresolvedOlderThan(_ context.Context, collection string, cutoff time.Time) ([]models.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ConflictRecord
	for _, c := range m.conflicts {
		if !c.Resolved && c.Collection == collection && c.DetectedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) MarkResolved(_ context.Context, id string, resolution models.Payload, strategy models.ConflictStrategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conflicts[id]
	if !ok || c.Resolved {
		return fmt.Errorf("%w: %s", store.ErrConflictNotFound, id)
	}
	now := time.Now().UTC()
	c.Resolved = true
	c.Resolution = resolution
	c.Strategy = strategy
	c.ResolvedAt = &now
	m.conflicts[id] = c
	return nil
}

func (m *memStore) CountUnresolved(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, c := range m.conflicts {
		if !c.Resolved {
			count++
		}
	}
	return count, nil
}

// ── MetaRepository ───────────────────────────────────────────────────────────

func (m *memStore) GetCursor(_ context.Context, collection string) (models.SyncMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.SyncMetadata{Collection: collection, LastSyncedAt: m.cursors[collection]}, nil
}

func (m *memStore) SetCursor(_ context.Context, collection, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[collection] = cursor
	return nil
}

// ── fake server adapter ──────────────────────────────────────────────────────

// fakeServer is a scripted ServerAdapter that records the exact call order.
// The default script acknowledges everything: creates land at version 1,
// updates at base+1, pulls return nothing.
type fakeServer struct {
	mu    sync.Mutex
	calls []string

	createFn func(collection string, req models.UpsertRequest) (models.ServerRecord, error)
	updateFn func(collection, id string, req models.UpsertRequest) (models.ServerRecord, error)
	deleteFn func(collection, id string, baseVersion int64) error
	pullFn   func(collection, since string) (models.PullResponse, error)
}

func newFakeServer() *fakeServer {
	return &fakeServer{}
}

func (f *fakeServer) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeServer) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeServer) Create(_ context.Context, collection string, req models.UpsertRequest) (models.ServerRecord, error) {
	f.record("create:" + collection + "/" + req.ID)
	if f.createFn != nil {
		return f.createFn(collection, req)
	}
	return models.ServerRecord{ID: req.ID, Payload: req.Payload, Version: 1, UpdatedAt: time.Now().UTC()}, nil
}

func (f *fakeServer) Update(_ context.Context, collection, id string, req models.UpsertRequest) (models.ServerRecord, error) {
	f.record("update:" + collection + "/" + id)
	if f.updateFn != nil {
		return f.updateFn(collection, id, req)
	}
	return models.ServerRecord{ID: id, Payload: req.Payload, Version: req.BaseVersion + 1, UpdatedAt: time.Now().UTC()}, nil
}

func (f *fakeServer) Delete(_ context.Context, collection, id string, baseVersion int64) error {
	f.record("delete:" + collection + "/" + id)
	if f.deleteFn != nil {
		return f.deleteFn(collection, id, baseVersion)
	}
	return nil
}

func (f *fakeServer) Pull(_ context.Context, collection, since string) (models.PullResponse, error) {
	f.record("pull:" + collection)
	if f.pullFn != nil {
		return f.pullFn(collection, since)
	}
	return models.PullResponse{Cursor: since}, nil
}
