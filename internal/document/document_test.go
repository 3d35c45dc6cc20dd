package document

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/loom/fault"
)

func TestStageOrdering(t *testing.T) {
	stages := Stages()
	if len(stages) != 7 {
		t.Fatalf("expected 7 stages, got %d", len(stages))
	}
	if FirstStage() != StageVision || FinalStage() != StageCode {
		t.Fatalf("unexpected pipeline endpoints: %s .. %s", FirstStage(), FinalStage())
	}
	for i := 0; i < len(stages)-1; i++ {
		next, ok := stages[i].Next()
		if !ok || next != stages[i+1] {
			t.Fatalf("Next(%s) = %s, want %s", stages[i], next, stages[i+1])
		}
	}
	if _, ok := StageCode.Next(); ok {
		t.Fatalf("code must be the final stage")
	}
	if next, ok := StageNone.Next(); !ok || next != StageVision {
		t.Fatalf("fresh documents must enter at vision, got %s", next)
	}
	if StageVision.Prev() != StageNone {
		t.Fatalf("vision should roll back to none")
	}
	if StageTask.Prev() != StageFeature {
		t.Fatalf("task should roll back to feature, got %s", StageTask.Prev())
	}
	if !StageNone.Before(StageVision) || StageCode.Before(StageVision) {
		t.Fatalf("Before ordering is wrong")
	}
}

func TestParseStage(t *testing.T) {
	if stage, err := ParseStage("epic"); err != nil || stage != StageEpic {
		t.Fatalf("epic: %v %s", err, stage)
	}
	if stage, err := ParseStage("none"); err != nil || stage != StageNone {
		t.Fatalf("none: %v %s", err, stage)
	}
	if _, err := ParseStage("galaxy"); err == nil {
		t.Fatalf("expected error for unknown stage")
	}
}

func TestDetectType(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		content string
		want    Type
	}{
		{"vision heading", "notes.md", "# Product Vision\n\nWhere we are going.", TypeVision},
		{"adr prefix", "ADR-0007-queues.md", "Use queues.", TypeADR},
		{"adr heading", "decision.md", "# ADR 12: Switch storage", TypeADR},
		{"prd heading", "doc.md", "# PRD: Search", TypePRD},
		{"epic heading", "doc.md", "# Epic: Onboarding", TypeEpic},
		{"spec heading", "doc.md", "# Transport Spec", TypeSpec},
		{"task checklist", "plan.md", "Work items\n\n- [ ] first\n- [x] second", TypeTask},
		{"todo filename", "TODO.md", "remember the milk", TypeTask},
		{"adr needs a word boundary", "quadrant-metrics.md", "rollout notes", TypeFeature},
		{"default feature", "widget.md", "# Widget Toggle\n\nAdds a toggle.", TypeFeature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectType(tc.path, []byte(tc.content)); got != tc.want {
				t.Fatalf("DetectType = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestTitleOfFallsBackToFileName(t *testing.T) {
	if got := TitleOf("/tmp/epic-login.md", []byte("no heading here")); got != "epic-login" {
		t.Fatalf("title = %q", got)
	}
	if got := TitleOf("/tmp/x.md", []byte("# Real Title\nbody")); got != "Real Title" {
		t.Fatalf("title = %q", got)
	}
}

func TestParseFrontMatter(t *testing.T) {
	content := "---\ntitle: Launch Plan\ntype: prd\ntags: [growth, q3]\n---\n\n# Body\n"
	meta, body, err := ParseFrontMatter([]byte(content))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if meta.Title != "Launch Plan" || meta.Type != "prd" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if len(meta.Tags) != 2 || meta.Tags[0] != "growth" {
		t.Fatalf("unexpected tags: %v", meta.Tags)
	}
	if !strings.Contains(string(body), "# Body") {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestParseFrontMatterErrors(t *testing.T) {
	if _, _, err := ParseFrontMatter([]byte("plain text")); err != ErrMissingFrontMatter {
		t.Fatalf("expected missing frontmatter, got %v", err)
	}
	if _, _, err := ParseFrontMatter([]byte("---\ntitle: x\nno closing fence")); err != ErrMalformedFrontMatter {
		t.Fatalf("expected malformed frontmatter, got %v", err)
	}
}

func TestWriteFrontMatterRoundTrip(t *testing.T) {
	meta := FrontMatter{Title: "Notes", Type: "task", Tags: []string{"a"}}
	rendered, err := WriteFrontMatter(meta, []byte("body text"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	parsed, body, err := ParseFrontMatter(rendered)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if parsed.Title != meta.Title || parsed.Type != meta.Type {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}
	if strings.TrimSpace(string(body)) != "body text" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestDescribePrefersFrontMatter(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	content := "---\ntitle: Override\ntype: adr\n---\n\n# Ignored Heading\n"
	doc := Describe("doc-1", "/ws/notes.md", []byte(content), now)
	if doc.Title != "Override" || doc.Type != TypeADR {
		t.Fatalf("frontmatter should win: %+v", doc)
	}
	if doc.CurrentStage != StageNone {
		t.Fatalf("new documents start before the first stage")
	}
	if !doc.AddedAt.Equal(now) {
		t.Fatalf("added at = %v", doc.AddedAt)
	}
}

func TestDescribeDetectsWithoutFrontMatter(t *testing.T) {
	doc := Describe("doc-2", "/ws/ADR-0001.md", []byte("choose boring tech"), time.Now())
	if doc.Type != TypeADR {
		t.Fatalf("type = %s, want adr", doc.Type)
	}
	if doc.Title != "ADR-0001" {
		t.Fatalf("title = %q", doc.Title)
	}
}

func TestFileLoaderClassifiesErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	loader := FileLoader{}
	data, err := loader.Load(path)
	if err != nil || string(data) != "content" {
		t.Fatalf("load: %v %q", err, data)
	}
	_, err = loader.Load(filepath.Join(dir, "absent.md"))
	if err == nil || fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("missing file should be a validation failure, got %v", err)
	}
}
