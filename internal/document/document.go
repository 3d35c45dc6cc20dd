package document

import (
	"time"
)

// Type classifies raw document content for indexing and reporting. The type
// never changes which pipeline a document runs; every document enters at the
// first stage.
type Type string

const (
	TypeVision  Type = "vision"
	TypeADR     Type = "adr"
	TypePRD     Type = "prd"
	TypeEpic    Type = "epic"
	TypeFeature Type = "feature"
	TypeTask    Type = "task"
	TypeSpec    Type = "spec"
)

// Document tracks one file moving through the pipeline. CurrentStage equals
// the stage of its most recently completed workflow instance and only moves
// backwards on validation rollback.
type Document struct {
	ID           string            `json:"id"`
	Path         string            `json:"path"`
	Type         Type              `json:"type"`
	Title        string            `json:"title,omitempty"`
	CurrentStage Stage             `json:"current_stage,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	AddedAt      time.Time         `json:"added_at"`
}

// Clone returns a deep copy of the document record.
func (d Document) Clone() Document {
	clone := d
	if len(d.Tags) > 0 {
		clone.Tags = make([]string, len(d.Tags))
		copy(clone.Tags, d.Tags)
	}
	if len(d.Metadata) > 0 {
		clone.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// Describe builds a document record from raw content: frontmatter overrides
// win, then heading heuristics fill the gaps.
func Describe(id, path string, content []byte, now time.Time) Document {
	doc := Document{
		ID:      id,
		Path:    path,
		AddedAt: now.UTC(),
	}
	body := content
	if meta, rest, err := ParseFrontMatter(content); err == nil {
		body = rest
		doc.Title = meta.Title
		if meta.Type != "" {
			doc.Type = Type(meta.Type)
		}
		if len(meta.Tags) > 0 {
			doc.Tags = append([]string{}, meta.Tags...)
		}
	}
	if doc.Title == "" {
		doc.Title = TitleOf(path, body)
	}
	if doc.Type == "" {
		doc.Type = DetectType(path, body)
	}
	return doc
}
