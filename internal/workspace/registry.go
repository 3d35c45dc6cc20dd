package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/document"
	"github.com/kingrea/loom/internal/event"
	"github.com/kingrea/loom/internal/logging"
)

// ErrNotFound reports a workspace id with no loaded workspace.
var ErrNotFound = errors.New("workspace: not found")

// ErrDocumentNotFound reports a document id missing from a workspace.
var ErrDocumentNotFound = errors.New("workspace: document not found")

// Registry owns every loaded workspace. Load is idempotent per canonical
// root path, and all mutations for one workspace serialize on that
// workspace's lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byPath  map[string]string

	bus    *event.Bus
	logger logging.Logger
	clock  func() time.Time
}

type entry struct {
	mu sync.Mutex
	ws Workspace
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger routes registry logging to logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRegistry returns an empty registry publishing change events on bus.
func NewRegistry(bus *event.Bus, opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		byPath:  make(map[string]string),
		bus:     bus,
		logger:  logging.Nop(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load registers the workspace rooted at path and returns its id. Loading
// the same root twice, through any spelling of the path, returns the id of
// the already loaded workspace without side effects.
func (r *Registry) Load(path string) (string, error) {
	canonical, err := canonicalPath(path)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if id, ok := r.byPath[canonical]; ok {
		r.mu.Unlock()
		return id, nil
	}
	ws := Workspace{
		ID:              uuid.NewString(),
		RootPath:        canonical,
		Documents:       make(map[string]document.Document),
		ActiveWorkflows: make(map[string]struct{}),
		LoadedAt:        r.clock(),
	}
	r.entries[ws.ID] = &entry{ws: ws}
	r.byPath[canonical] = ws.ID
	r.mu.Unlock()

	r.logger.Printf("workspace loaded id=%s root=%s", ws.ID, canonical)
	r.publish(event.Event{
		Kind:        event.KindWorkspaceLoaded,
		WorkspaceID: ws.ID,
		Message:     canonical,
	})
	return ws.ID, nil
}

// Get returns a deep copy of the workspace with the given id.
func (r *Registry) Get(id string) (Workspace, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Workspace{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ws.Clone(), nil
}

// List returns copies of every loaded workspace ordered by root path.
func (r *Registry) List() []Workspace {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Workspace, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.ws.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RootPath < out[j].RootPath })
	return out
}

// AddDocument registers doc under the workspace and returns the document
// id, assigning one when the document does not carry its own.
func (r *Registry) AddDocument(wsID string, doc document.Document) (string, error) {
	e, err := r.lookup(wsID)
	if err != nil {
		return "", err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	e.mu.Lock()
	e.ws.Documents[doc.ID] = doc.Clone()
	e.mu.Unlock()
	return doc.ID, nil
}

// Document returns a copy of one registered document.
func (r *Registry) Document(wsID, docID string) (document.Document, error) {
	e, err := r.lookup(wsID)
	if err != nil {
		return document.Document{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	doc, ok := e.ws.Documents[docID]
	if !ok {
		return document.Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	return doc.Clone(), nil
}

// AdvanceStage moves a document forward to stage. The move must be to the
// immediate successor of the document's current stage.
func (r *Registry) AdvanceStage(wsID, docID string, stage document.Stage) error {
	e, err := r.lookup(wsID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	doc, ok := e.ws.Documents[docID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	next, ok := doc.CurrentStage.Next()
	if !ok {
		e.mu.Unlock()
		return fault.New(fault.KindValidation, "workspace",
			fmt.Sprintf("document %s already at final stage %s", docID, doc.CurrentStage))
	}
	if stage != next {
		e.mu.Unlock()
		return fault.New(fault.KindValidation, "workspace",
			fmt.Sprintf("document %s at %s cannot advance to %s", docID, doc.CurrentStage, stage))
	}
	doc.CurrentStage = stage
	e.ws.Documents[docID] = doc
	e.mu.Unlock()

	r.publish(event.Event{
		Kind:        event.KindStageAdvanced,
		WorkspaceID: wsID,
		DocumentID:  docID,
		Stage:       stage.String(),
	})
	return nil
}

// RollbackStage moves a document back one stage and returns the stage it
// lands on. Documents before the first stage stay where they are.
func (r *Registry) RollbackStage(wsID, docID string) (document.Stage, error) {
	e, err := r.lookup(wsID)
	if err != nil {
		return document.StageNone, err
	}

	e.mu.Lock()
	doc, ok := e.ws.Documents[docID]
	if !ok {
		e.mu.Unlock()
		return document.StageNone, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	doc.CurrentStage = doc.CurrentStage.Prev()
	e.ws.Documents[docID] = doc
	landed := doc.CurrentStage
	e.mu.Unlock()

	r.publish(event.Event{
		Kind:        event.KindDocumentRolledBack,
		WorkspaceID: wsID,
		DocumentID:  docID,
		Stage:       landed.String(),
	})
	return landed, nil
}

// TrackWorkflow records a workflow as active against the workspace.
func (r *Registry) TrackWorkflow(wsID, workflowID string) error {
	e, err := r.lookup(wsID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.ws.ActiveWorkflows[workflowID] = struct{}{}
	e.mu.Unlock()
	return nil
}

// ReleaseWorkflow drops a workflow from the workspace's active set.
func (r *Registry) ReleaseWorkflow(wsID, workflowID string) error {
	e, err := r.lookup(wsID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.ws.ActiveWorkflows, workflowID)
	e.mu.Unlock()
	return nil
}

// Unload removes the workspace from the registry.
func (r *Registry) Unload(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.entries, id)
	delete(r.byPath, e.ws.RootPath)
	r.mu.Unlock()

	r.logger.Printf("workspace unloaded id=%s", id)
	r.publish(event.Event{
		Kind:        event.KindWorkspaceUnloaded,
		WorkspaceID: id,
		Message:     e.ws.RootPath,
	})
	return nil
}

// UnloadAll removes every workspace without publishing per-workspace events.
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	r.entries = make(map[string]*entry)
	r.byPath = make(map[string]string)
	r.mu.Unlock()
}

// Counts reports loaded workspaces, registered documents and active
// workflows, for status snapshots.
func (r *Registry) Counts() (workspaces, documents, active int) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	workspaces = len(entries)
	for _, e := range entries {
		e.mu.Lock()
		documents += len(e.ws.Documents)
		active += len(e.ws.ActiveWorkflows)
		e.mu.Unlock()
	}
	return workspaces, documents, active
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (r *Registry) publish(ev event.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}

// canonicalPath normalizes path so every spelling of the same root maps to
// one registry key. Symlinks resolve only when the target exists.
func canonicalPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fault.New(fault.KindValidation, "workspace", "root path is required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fault.Wrap(fault.KindValidation, "workspace", err)
	}
	abs = filepath.Clean(abs)
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}
