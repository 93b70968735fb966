// Package netmon abstracts the platform's connectivity signal. The engine
// only depends on the current online state and a stream of transitions; the
// concrete detection mechanism (OS callbacks, captive-portal probes) is
// injected by the host application.
package netmon

import (
	"sync"
	"time"
)

// Monitor exposes the current connectivity state and transition
// notifications. Watch registrations receive the new state after every
// transition; the returned func removes the registration.
type Monitor interface {
	Online() bool
	Watch(fn func(online bool)) (cancel func())
}

// ManualMonitor is a Monitor whose state is driven by explicit Set calls.
// It backs tests and hosts that receive connectivity callbacks from the
// platform.
type ManualMonitor struct {
	mu       sync.Mutex
	online   bool
	nextID   int64
	watchers map[int64]func(bool)
}

func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{
		online:   online,
		watchers: make(map[int64]func(bool)),
	}
}

func (m *ManualMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state and notifies watchers on an actual transition only.
func (m *ManualMonitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	watchers := make([]func(bool), 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(online)
	}
}

func (m *ManualMonitor) Watch(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.watchers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	}
}

// Debouncer collapses flapping offline→online transitions into at most one
// trigger per quiet window, preventing sync storms when connectivity
// oscillates.
type Debouncer struct {
	window time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Trigger schedules fn after the quiet window, replacing any pending
// schedule. Only the last call within a window fires.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, fn)
}

// Stop cancels any pending trigger.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
