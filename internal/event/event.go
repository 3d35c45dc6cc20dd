// Package event carries lifecycle and stage-transition notifications between
// loom components over a typed publish/subscribe bus.
package event

import (
	"strings"
	"time"
)

// Kind identifies a category of event.
type Kind string

const (
	// KindAll subscribes a handler to every published event.
	KindAll Kind = "*"

	KindDocumentEnqueued   Kind = "document.enqueued"
	KindDocumentRolledBack Kind = "document.rolled_back"
	KindStageAdvanced      Kind = "stage.advanced"

	KindWorkflowStarted   Kind = "workflow.started"
	KindWorkflowCompleted Kind = "workflow.completed"
	KindWorkflowFailed    Kind = "workflow.failed"
	KindWorkflowBlocked   Kind = "workflow.blocked"
	KindWorkflowRequeued  Kind = "workflow.requeued"
	KindWorkflowRetrying  Kind = "workflow.retrying"

	KindRefinementStarted   Kind = "refinement.started"
	KindRefinementCompleted Kind = "refinement.completed"
	KindRefinementFailed    Kind = "refinement.failed"

	KindWorkspaceLoaded   Kind = "workspace.loaded"
	KindWorkspaceUnloaded Kind = "workspace.unloaded"

	KindComponentStatus   Kind = "component.status"
	KindSystemInitialized Kind = "system.initialized"
	KindSystemLaunched    Kind = "system.launched"
	KindSystemShutdown    Kind = "system.shutdown"
)

// Event is the notification payload delivered to subscribers.
type Event struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Time        time.Time `json:"time"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	DocumentID  string    `json:"document_id,omitempty"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	Component   string    `json:"component,omitempty"`
	Message     string    `json:"message,omitempty"`
	Err         string    `json:"error,omitempty"`
}

// Handler consumes events delivered on a subscription.
type Handler func(Event)

// NormalizeKind trims and lowercases a kind; empty maps to KindAll.
func NormalizeKind(kind Kind) Kind {
	normalized := Kind(strings.TrimSpace(strings.ToLower(string(kind))))
	if normalized == "" {
		return KindAll
	}
	return normalized
}

// isCritical marks kinds that must survive queue overflow.
func isCritical(kind Kind) bool {
	switch kind {
	case KindSystemInitialized, KindSystemLaunched, KindSystemShutdown,
		KindComponentStatus, KindWorkflowFailed, KindDocumentRolledBack:
		return true
	}
	return false
}

// isPreferredDrop marks chatty kinds dropped first under overflow.
func isPreferredDrop(kind Kind) bool {
	return kind == KindWorkflowRetrying
}
