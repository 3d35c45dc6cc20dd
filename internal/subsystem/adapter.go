// Package subsystem defines the adapter contract every coordinated
// component implements and the registry that initializes, inspects and
// shuts them down as a set.
package subsystem

import (
	"context"
	"sync"
)

// State is a component's lifecycle state as reported through Status.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
	StateError         State = "error"
)

// Status is one component's self-report. Status calls must not block.
type Status struct {
	State   State          `json:"state"`
	Detail  string         `json:"detail,omitempty"`
	Metrics map[string]any `json:"metrics,omitempty"`
}

// Adapter wraps one subsystem behind a uniform lifecycle. Initialize and
// Shutdown are idempotent; Status is safe to call in any state.
type Adapter interface {
	Name() string
	Initialize(ctx context.Context) error
	Status() Status
	Shutdown(ctx context.Context) error
}

// Base tracks name and state for concrete adapters to embed. Adapters with
// metrics override Status and use State to fill the rest.
type Base struct {
	name string

	mu     sync.RWMutex
	state  State
	detail string
}

// NewBase returns a Base starting uninitialized.
func NewBase(name string) *Base {
	return &Base{name: name, state: StateUninitialized}
}

// Name returns the adapter name.
func (b *Base) Name() string { return b.name }

// SetState records the current state and detail.
func (b *Base) SetState(state State, detail string) {
	b.mu.Lock()
	b.state = state
	b.detail = detail
	b.mu.Unlock()
}

// State returns the current state and detail.
func (b *Base) State() (State, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state, b.detail
}

// Status satisfies Adapter for adapters without metrics.
func (b *Base) Status() Status {
	state, detail := b.State()
	return Status{State: state, Detail: detail}
}
