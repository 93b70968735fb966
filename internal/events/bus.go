// Package events provides the in-process publish/subscribe bus the engine
// uses to surface data changes, sync lifecycle transitions and conflicts to
// its callers. Handlers are invoked synchronously on the emitting goroutine;
// a panicking handler is recovered and logged, never allowed to break the
// emitting code path.
package events

import (
	"sync"

	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/models"
)

// Event names emitted by the engine.
const (
	DataChanged        = "data-changed"
	SyncStarted        = "sync-started"
	SyncCompleted      = "sync-completed"
	SyncFailed         = "sync-failed"
	OperationAbandoned = "operation-abandoned"
	ConflictDetected   = "conflict-detected"
	ConflictResolved   = "conflict-resolved"
)

// DataChangedPayload accompanies DataChanged events.
type DataChangedPayload struct {
	Collection string
	Kind       models.OpKind
	Record     models.OfflineRecord
}

// SyncFailedPayload accompanies SyncFailed events.
type SyncFailedPayload struct {
	Err error
}

// OperationAbandonedPayload accompanies OperationAbandoned events.
type OperationAbandonedPayload struct {
	Operation models.SyncOperation
	Err       error
}

// ConflictDetectedPayload accompanies ConflictDetected events.
type ConflictDetectedPayload struct {
	Collection string
	RecordID   string
	Local      models.Payload
	Server     models.Payload
}

// ConflictResolvedPayload accompanies ConflictResolved events.
type ConflictResolvedPayload struct {
	Collection string
	RecordID   string
	Strategy   models.ConflictStrategy
	Resolved   models.Payload
}

// Handler receives the payload emitted with an event.
type Handler func(payload any)

// Subscription identifies one registered handler for later removal.
type Subscription struct {
	event string
	id    int64
}

// Bus is a mutex-guarded in-process pub/sub dispatcher.
type Bus struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[string]map[int64]Handler

	logger *logger.Logger
}

func NewBus(logger *logger.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]map[int64]Handler),
		logger: logger,
	}
}

// Subscribe registers handler for event and returns a Subscription that
// removes exactly this registration when passed to Unsubscribe.
func (b *Bus) Subscribe(event string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	if b.subs[event] == nil {
		b.subs[event] = make(map[int64]Handler)
	}
	b.subs[event][id] = handler

	return Subscription{event: event, id: id}
}

// Unsubscribe removes a registration. Unknown subscriptions are a no-op, so
// double-unsubscribe is safe.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.subs[sub.event]; ok {
		delete(handlers, sub.id)
		if len(handlers) == 0 {
			delete(b.subs, sub.event)
		}
	}
}

// Emit dispatches payload to every handler registered for event. Handlers
// run synchronously; panics are recovered and logged.
func (b *Bus) Emit(event string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event]))
	for _, h := range b.subs[event] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(event, h, payload)
	}
}

func (b *Bus) dispatch(event string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("func", "Bus.dispatch").
				Str("event", event).
				Any("panic", r).
				Msg("event handler panicked")
		}
	}()

	h(payload)
}
