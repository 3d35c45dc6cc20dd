// Package pipeline runs document workflows through the stage sequence with
// bounded concurrency. Each submission plans one instance per remaining
// stage; instances admit FIFO, retry transient failures with backoff, and
// roll the document back one stage when validation fails.
package pipeline

import (
	"time"

	"github.com/kingrea/loom/internal/document"
)

// Status is the lifecycle state of one workflow instance.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Instance is one stage's workflow for one document. A submission produces
// a chain of instances, one per remaining stage, linked by ChainID. A
// refinement run is a nested instance pointing at its stage instance
// through ParentID.
type Instance struct {
	ID          string         `json:"id"`
	ChainID     string         `json:"chainId"`
	ParentID    string         `json:"parentId,omitempty"`
	WorkspaceID string         `json:"workspaceId"`
	DocumentID  string         `json:"documentId"`
	Stage       document.Stage `json:"stage"`
	Status      Status         `json:"status"`

	RetryCount   int    `json:"retryCount"`
	RequeueCount int    `json:"requeueCount"`
	Error        string `json:"error,omitempty"`

	RefinementPhases []string `json:"refinementPhases,omitempty"`

	EnqueuedAt time.Time `json:"enqueuedAt"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Clone returns a copy safe to hand outside the engine lock.
func (in Instance) Clone() Instance {
	out := in
	if in.RefinementPhases != nil {
		out.RefinementPhases = append([]string(nil), in.RefinementPhases...)
	}
	return out
}
