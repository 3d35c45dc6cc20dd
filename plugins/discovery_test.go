package plugins

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const discoveryYAML = `name: default
description: house methodology
phases:
  - outline
  - build
  - verify
`

func TestDiscoverMergesYAMLAndGo(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "default.yaml"), []byte(discoveryYAML), 0644); err != nil {
		t.Fatalf("write yaml plugin: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "spiral.go"), []byte(goPluginSource), 0644); err != nil {
		t.Fatalf("write go plugin: %v", err)
	}
	defs, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 methodologies, got %d", len(defs))
	}
	if defs[0].Name != "default" || defs[1].Name != "spiral" {
		t.Fatalf("expected name-sorted results, got %s then %s", defs[0].Name, defs[1].Name)
	}
}

func TestDiscoverRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	for _, file := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(discoveryYAML), 0644); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
	}
	_, err := Discover(dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate methodology") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	defs, err := Discover(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected no methodologies, got %v", defs)
	}
}

func TestPickPrefersDefault(t *testing.T) {
	defs := []Definition{
		{Name: "agile", Phases: []string{"plan"}},
		{Name: "Default", Phases: []string{"outline"}},
	}
	def, ok := Pick(defs)
	if !ok || def.Name != "Default" {
		t.Fatalf("expected the default methodology, got %+v ok=%v", def, ok)
	}
}

func TestPickFallsBackToFirst(t *testing.T) {
	defs := []Definition{
		{Name: "agile", Phases: []string{"plan"}},
		{Name: "spiral", Phases: []string{"objectives"}},
	}
	def, ok := Pick(defs)
	if !ok || def.Name != "agile" {
		t.Fatalf("expected first methodology, got %+v ok=%v", def, ok)
	}
	if _, ok := Pick(nil); ok {
		t.Fatalf("expected no pick from an empty set")
	}
}
