package loom

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/subsystems/ui"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loom.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Workflow.MaxConcurrentWorkflows != 4 {
		t.Fatalf("expected 4 concurrent workflows, got %d", cfg.Workflow.MaxConcurrentWorkflows)
	}
	if time.Duration(cfg.Workflow.RetryBaseDelay) != 100*time.Millisecond {
		t.Fatalf("unexpected retry delay: %s", time.Duration(cfg.Workflow.RetryBaseDelay))
	}
	if time.Duration(cfg.Workflow.DrainTimeout) != 5*time.Second {
		t.Fatalf("unexpected drain timeout: %s", time.Duration(cfg.Workflow.DrainTimeout))
	}
	if cfg.Workflow.EnableRefinement {
		t.Fatalf("refinement should default off")
	}
	if len(cfg.Workflow.RefinementStages) != 2 ||
		cfg.Workflow.RefinementStages[0] != "feature" || cfg.Workflow.RefinementStages[1] != "task" {
		t.Fatalf("unexpected refinement stages: %v", cfg.Workflow.RefinementStages)
	}
	if !cfg.Memory.EnableCache || cfg.Memory.EnableVectorStorage {
		t.Fatalf("unexpected memory defaults: %+v", cfg.Memory)
	}
	if !cfg.Documentation.EnableAutoLinking {
		t.Fatalf("auto-linking should default on")
	}
	if cfg.Export.DefaultFormat != "json" {
		t.Fatalf("unexpected export format: %q", cfg.Export.DefaultFormat)
	}
	if cfg.Interface.DefaultMode != "auto" || cfg.Interface.WebPort != ui.DefaultPort {
		t.Fatalf("unexpected interface defaults: %+v", cfg.Interface)
	}
	if !cfg.Workspace.AutoDetect {
		t.Fatalf("workspace auto-detect should default on")
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Workflow.MaxConcurrentWorkflows != 4 || cfg.Export.DefaultFormat != "json" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `workflow:
  maxConcurrentWorkflows: 2
  drainTimeout: 250ms
interface:
  defaultMode: CLI
  theme: midnight
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workflow.MaxConcurrentWorkflows != 2 {
		t.Fatalf("expected overlay to win, got %d", cfg.Workflow.MaxConcurrentWorkflows)
	}
	if time.Duration(cfg.Workflow.DrainTimeout) != 250*time.Millisecond {
		t.Fatalf("duration string did not parse: %s", time.Duration(cfg.Workflow.DrainTimeout))
	}
	if cfg.Interface.DefaultMode != "cli" {
		t.Fatalf("mode should normalize to lowercase, got %q", cfg.Interface.DefaultMode)
	}
	if cfg.Interface.Theme != "midnight" {
		t.Fatalf("unexpected theme: %q", cfg.Interface.Theme)
	}
	// Untouched sections keep their defaults.
	if time.Duration(cfg.Workflow.RetryBaseDelay) != 100*time.Millisecond {
		t.Fatalf("retry delay should stay default, got %s", time.Duration(cfg.Workflow.RetryBaseDelay))
	}
	if cfg.Export.DefaultFormat != "json" || !cfg.Memory.EnableCache {
		t.Fatalf("unrelated defaults disturbed: %+v", cfg)
	}
}

func TestLoadConfigEnvOverridesWin(t *testing.T) {
	path := writeConfig(t, `interface:
  defaultMode: web
  webPort: 9000
`)
	t.Setenv("LOOM_INTERFACE_MODE", "cli")
	t.Setenv("LOOM_WEB_PORT", "9123")
	t.Setenv("LOOM_WORKSPACE_ROOT", "/srv/loom")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Interface.DefaultMode != "cli" {
		t.Fatalf("env mode should win, got %q", cfg.Interface.DefaultMode)
	}
	if cfg.Interface.WebPort != 9123 {
		t.Fatalf("env port should win, got %d", cfg.Interface.WebPort)
	}
	if cfg.Workspace.Root != "/srv/loom" {
		t.Fatalf("env root should win, got %q", cfg.Workspace.Root)
	}
}

func TestLoadConfigIgnoresInvalidEnvPort(t *testing.T) {
	path := writeConfig(t, "interface:\n  webPort: 9000\n")
	t.Setenv("LOOM_WEB_PORT", "not-a-port")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Interface.WebPort != 9000 {
		t.Fatalf("file port should survive bad env, got %d", cfg.Interface.WebPort)
	}
}

func TestLoadConfigNormalizes(t *testing.T) {
	path := writeConfig(t, `workflow:
  maxConcurrentWorkflows: -3
  maxRequeueAttempts: 0
interface:
  webHost: "   "
  webPort: 0
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workflow.MaxConcurrentWorkflows != 4 || cfg.Workflow.MaxRequeueAttempts != 8 {
		t.Fatalf("bad workflow values should clamp to defaults: %+v", cfg.Workflow)
	}
	if cfg.Interface.WebHost != ui.DefaultHost {
		t.Fatalf("blank host should clamp, got %q", cfg.Interface.WebHost)
	}
	// Port zero is a deliberate kernel-assigned-port request, not a
	// missing value.
	if cfg.Interface.WebPort != 0 {
		t.Fatalf("explicit zero port should survive, got %d", cfg.Interface.WebPort)
	}

	path = writeConfig(t, "interface:\n  webPort: 70000\n")
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Interface.WebPort != ui.DefaultPort {
		t.Fatalf("out-of-range port should clamp, got %d", cfg.Interface.WebPort)
	}
}

func TestLoadConfigRejections(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown mode", body: "interface:\n  defaultMode: holographic\n"},
		{name: "unknown format", body: "export:\n  defaultFormat: xml\n"},
		{name: "unknown refinement stage", body: "workflow:\n  refinementStages: [shipping]\n"},
		{name: "bad duration", body: "workflow:\n  drainTimeout: sideways\n"},
		{name: "bad yaml", body: "workflow: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected rejection")
			}
			if kind := fault.KindOf(err); kind != fault.KindConfiguration {
				t.Fatalf("expected configuration fault, got %s (%v)", kind, err)
			}
		})
	}
}
