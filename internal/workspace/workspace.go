package workspace

import (
	"time"

	"github.com/kingrea/loom/internal/document"
)

// Workspace is one loaded root with the documents registered under it and
// the workflow ids currently running against those documents.
type Workspace struct {
	ID              string                       `json:"id"`
	RootPath        string                       `json:"rootPath"`
	Documents       map[string]document.Document `json:"documents"`
	ActiveWorkflows map[string]struct{}          `json:"activeWorkflows"`
	LoadedAt        time.Time                    `json:"loadedAt"`
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (w Workspace) Clone() Workspace {
	out := w
	out.Documents = make(map[string]document.Document, len(w.Documents))
	for id, doc := range w.Documents {
		out.Documents[id] = doc.Clone()
	}
	out.ActiveWorkflows = make(map[string]struct{}, len(w.ActiveWorkflows))
	for id := range w.ActiveWorkflows {
		out.ActiveWorkflows[id] = struct{}{}
	}
	return out
}

// DocumentIDs returns the registered document ids in no particular order.
func (w Workspace) DocumentIDs() []string {
	ids := make([]string, 0, len(w.Documents))
	for id := range w.Documents {
		ids = append(ids, id)
	}
	return ids
}
