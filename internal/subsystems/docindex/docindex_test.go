package docindex

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/subsystem"
)

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestInitializeScansMarkdownOnly(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "vision.md", "# Product Vision\nwhere we are going\n")
	writeDoc(t, dir, "notes/epic.md", "# Checkout Epic\n")
	writeDoc(t, dir, "ignored.txt", "not markdown")
	writeDoc(t, dir, ".hidden/secret.md", "# Hidden\n")

	a := New(Config{ScanPaths: []string{dir}})
	ctx := context.Background()
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(ctx) })

	entries, err := a.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("indexed %d entries, want 2: %+v", len(entries), entries)
	}
	titles := map[string]bool{}
	for _, e := range entries {
		titles[e.Title] = true
	}
	if !titles["Product Vision"] || !titles["Checkout Epic"] {
		t.Fatalf("titles = %v", titles)
	}
}

func TestSearchFindsByFuzzyTitle(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "vision.md", "# Product Vision\n")
	writeDoc(t, dir, "tasks.md", "# Task Breakdown\n")

	a := New(Config{ScanPaths: []string{dir}})
	ctx := context.Background()
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(ctx) })

	matches, err := a.Search("prodvis", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) == 0 || matches[0].Entry.Title != "Product Vision" {
		t.Fatalf("Search = %+v, want Product Vision first", matches)
	}
}

func TestAutoLinkConnectsSharedVocabulary(t *testing.T) {
	dir := t.TempDir()
	checkout := writeDoc(t, dir, "checkout-vision.md", "# Checkout Vision\n")
	epic := writeDoc(t, dir, "checkout-epic.md", "# Checkout Epic\n")
	writeDoc(t, dir, "billing.md", "# Billing Notes\n")

	a := New(Config{ScanPaths: []string{dir}, AutoLink: true})
	ctx := context.Background()
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(ctx) })

	entries, err := a.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	byPath := map[string]Entry{}
	for _, e := range entries {
		byPath[e.Path] = e
	}

	if got := byPath[checkout].Links; len(got) != 1 || got[0] != epic {
		t.Fatalf("checkout links = %v, want [%s]", got, epic)
	}
	if got := byPath[filepath.Join(dir, "billing.md")].Links; len(got) != 0 {
		t.Fatalf("billing links = %v, want none", got)
	}
}

func TestMissingScanPathDegrades(t *testing.T) {
	a := New(Config{ScanPaths: []string{filepath.Join(t.TempDir(), "absent")}})
	ctx := context.Background()
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(ctx) })

	st := a.Status()
	if st.State != subsystem.StateDegraded {
		t.Fatalf("state = %s, want degraded", st.State)
	}
	if st.Metrics["skippedPaths"] != 1 {
		t.Fatalf("skippedPaths = %v, want 1", st.Metrics["skippedPaths"])
	}
}

func TestAddDocumentUpdatesIndexAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	indexDir := t.TempDir()
	writeDoc(t, dir, "vision.md", "# Payments Vision\n")

	a := New(Config{ScanPaths: []string{dir}, AutoLink: true, IndexDir: indexDir})
	ctx := context.Background()
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(ctx) })

	extra := writeDoc(t, dir, "payments-epic.md", "# Payments Epic\n")
	if err := a.AddDocument(extra); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	entries, err := a.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("indexed %d entries, want 2", len(entries))
	}
	added, ok := func() (Entry, bool) {
		for _, e := range entries {
			if e.Path == extra {
				return e, true
			}
		}
		return Entry{}, false
	}()
	if !ok || len(added.Links) != 1 {
		t.Fatalf("added entry = %+v, want one payments link", added)
	}

	data, err := os.ReadFile(filepath.Join(indexDir, "index.json"))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	if len(snap.Documents) != 2 {
		t.Fatalf("snapshot has %d documents, want 2", len(snap.Documents))
	}
	if snap.GeneratedAt.IsZero() {
		t.Fatal("snapshot missing generatedAt")
	}
}

func TestAdapterConformsToLifecycleContract(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "vision.md", "# Vision\n")
	a := New(Config{ScanPaths: []string{dir}})
	if report := subsystem.Verify(context.Background(), a); !report.IsValid() {
		t.Fatalf("contract violations: %v", report.Errors)
	}
}

func TestSearchBeforeInitialize(t *testing.T) {
	a := New(Config{})
	if _, err := a.Search("x", 1); fault.KindOf(err) != fault.KindResource {
		t.Fatalf("Search before initialize = %v, want resource error", err)
	}
}

func TestCodePathsIndexSourceByName(t *testing.T) {
	docs := t.TempDir()
	code := t.TempDir()
	writeDoc(t, docs, "checkout.md", "# Checkout Flow\n")
	writeDoc(t, code, "checkout_service.go", "package checkout\n")
	writeDoc(t, code, "README.txt", "not source")

	a := New(Config{ScanPaths: []string{docs}, CodePaths: []string{code}, AutoLink: true})
	ctx := context.Background()
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(ctx) })

	entries, err := a.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("indexed %d entries, want 2: %+v", len(entries), entries)
	}
	byType := map[string]Entry{}
	for _, e := range entries {
		byType[e.Type] = e
	}
	codeEntry, ok := byType["code"]
	if !ok {
		t.Fatalf("no code entry in %+v", entries)
	}
	if codeEntry.Title != "checkout_service" {
		t.Fatalf("code title = %s", codeEntry.Title)
	}
	if len(codeEntry.Links) != 1 {
		t.Fatalf("code entry links = %v, want link to checkout doc", codeEntry.Links)
	}
}
