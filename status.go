package loom

import (
	"time"

	"github.com/kingrea/loom/internal/pipeline"
	"github.com/kingrea/loom/internal/subsystem"
)

// LifecycleState is the coordinator's own position in its lifecycle.
type LifecycleState string

const (
	// StateUninitialized is the state before Initialize.
	StateUninitialized LifecycleState = "uninitialized"
	// StateInitializing covers the window while subsystems come up.
	StateInitializing LifecycleState = "initializing"
	// StateReady means every subsystem initialized.
	StateReady LifecycleState = "ready"
	// StateDegraded means the coordinator runs with at least one failed
	// subsystem.
	StateDegraded LifecycleState = "degraded"
	// StateError means initialization left zero subsystems usable.
	StateError LifecycleState = "error"
	// StateDraining covers the window while Shutdown waits for in-flight
	// workflows.
	StateDraining LifecycleState = "draining"
	// StateShutdown is terminal.
	StateShutdown LifecycleState = "shutdown"
)

// SystemStatus is the aggregated health snapshot. The coordinator
// recomputes it on every bus event and swaps it atomically, so reads
// never block on a subsystem.
type SystemStatus struct {
	State   LifecycleState `json:"state"`
	Version string         `json:"version"`
	// Components maps the four subsystem adapters plus the two
	// core-reported entries, workflow and workspace.
	Components    map[string]subsystem.Status `json:"components"`
	Pipeline      pipeline.Stats              `json:"pipeline"`
	Workspaces    int                         `json:"workspaces"`
	Documents     int                         `json:"documents"`
	UptimeSeconds int64                       `json:"uptimeSeconds"`
	LastUpdate    time.Time                   `json:"lastUpdate"`
	RecentEvents  []string                    `json:"recentEvents,omitempty"`
}

// Healthy reports whether the coordinator can accept work.
func (s SystemStatus) Healthy() bool {
	return s.State == StateReady || s.State == StateDegraded
}

// Component returns one component's status, defaulting to uninitialized
// for unknown names.
func (s SystemStatus) Component(name string) subsystem.Status {
	if st, ok := s.Components[name]; ok {
		return st
	}
	return subsystem.Status{State: subsystem.StateUninitialized}
}
