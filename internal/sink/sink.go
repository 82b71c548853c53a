// Package sink defines the abstract write/flush contract the simulation
// driver targets (spec §4.F, §6). Durable implementations (binary append
// log, mmap key-value store, streaming client) are out of scope; this
// package provides only a discard sink and an in-memory capture sink used
// by tests.
package sink

import (
	"sync"

	"fenrir/internal/event"
)

// Sink accepts events from exactly one worker thread at a time per
// instance; a sink shared across workers is responsible for its own
// synchronization (spec §4.F).
type Sink interface {
	// Write accepts one event. It must not block indefinitely; it may
	// buffer internally.
	Write(e event.Event) error
	// Flush durably commits any buffered events. Called once at the end
	// of a run.
	Flush() error
}

// Null discards every event. Grounded on original_source's NullStorage
// (make_storage("")).
type Null struct{}

// NewNull returns a sink that discards all writes.
func NewNull() *Null { return &Null{} }

func (*Null) Write(event.Event) error { return nil }
func (*Null) Flush() error            { return nil }

// Memory appends every written event to an in-process slice behind a
// mutex. It exists for tests (deterministic-replay comparison, emission
// order assertions) and is not a durable sink implementation.
type Memory struct {
	mu      sync.Mutex
	events  []event.Event
	flushes int
}

// NewMemory returns an empty in-memory capture sink.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Write(e event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

// Events returns a copy of every event written so far.
func (m *Memory) Events() []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Flushes returns the number of times Flush has been called.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
