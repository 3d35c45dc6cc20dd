package logging

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestJournalAppendsLeveledLines(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewJournal(filepath.Join(dir, "logs", "loom.log"))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	journal.Info("starting %s", "up")
	journal.Warn("slow subsystem")
	journal.Error("boom")
	lines := journal.Tail(10)
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	if !strings.Contains(lines[0], "INFO") || !strings.Contains(lines[0], "starting up") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "WARN") {
		t.Fatalf("unexpected second line: %q", lines[1])
	}
	if !strings.Contains(lines[2], "ERROR") {
		t.Fatalf("unexpected third line: %q", lines[2])
	}
}

func TestJournalTailReturnsMostRecent(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewJournal(filepath.Join(dir, "loom.log"))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	for i := 0; i < 5; i++ {
		journal.Info("entry-%d", i)
	}
	lines := journal.Tail(3)
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestJournalPrintfSatisfiesLogger(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewJournal(filepath.Join(dir, "loom.log"))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	var logger Logger = journal
	logger.Printf("via interface %d", 7)
	lines := journal.Tail(1)
	if len(lines) != 1 || !strings.Contains(lines[0], "via interface 7") {
		t.Fatalf("unexpected tail: %v", lines)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	Nop().Printf("nothing %d", 1)
}
