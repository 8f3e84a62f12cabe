// Package syncutil provides the mutex and thread-local-storage
// abstractions the engine's registry, allocator and instrumentation
// dispatcher are built on.
//
// Dobby (the engine this API is modeled after) picks between a Win32
// CRITICAL_SECTION and a pthread_mutex_t at compile time purely because C
// has no portable mutex of its own. Go's sync.Mutex already is that
// portable primitive, so Mutex here is a thin, deliberately unconditional
// wrapper: the "abstraction" spec.md calls for is satisfied by the type
// existing as its own named thing, not by a platform switch that Go does
// not need.
package syncutil

import "sync"

// Mutex serializes access to a small piece of shared state. It exists as
// a distinct type (rather than embedding sync.Mutex directly everywhere)
// so call sites read as "this is the registry/allocator lock" rather than
// an anonymous field.
type Mutex struct {
	mu sync.Mutex
}

// Lock acquires the mutex.
func (m *Mutex) Lock() { m.mu.Lock() }

// Unlock releases the mutex.
func (m *Mutex) Unlock() { m.mu.Unlock() }

// Guard runs fn while holding the mutex and releases it on return, even if
// fn panics.
func (m *Mutex) Guard(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}
