package loom

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/document"
	"github.com/kingrea/loom/internal/subsystems/export"
	"github.com/kingrea/loom/internal/subsystems/ui"
)

const defaultConfigYAML = `# loom configuration
# Every value is optional; missing keys take the defaults shown here.

memory:
  # Empty means .loom/state/memory under the workspace root.
  directory: ""
  enableCache: true
  enableVectorStorage: false

workflow:
  maxConcurrentWorkflows: 4
  maxRetries: 3
  retryBaseDelay: 100ms
  maxRequeueAttempts: 8
  drainTimeout: 5s
  enableRefinement: false
  refinementStages: [feature, task]

documentation:
  documentationPaths: []
  codePaths: []
  enableAutoLinking: true

export:
  defaultFormat: json
  # Empty means .loom/exports under the workspace root.
  outputPath: ""

workspace:
  # Empty means the current directory.
  root: ""
  autoDetect: true

interface:
  defaultMode: auto
  webHost: 127.0.0.1
  webPort: 8900
  theme: default
  enableRealTime: true
`

// Duration wraps time.Duration so config values read naturally ("250ms",
// "5s") in YAML.
type Duration time.Duration

// UnmarshalYAML parses duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back to its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// MemoryConfig controls the memory subsystem.
type MemoryConfig struct {
	Directory           string `yaml:"directory"`
	EnableCache         bool   `yaml:"enableCache"`
	EnableVectorStorage bool   `yaml:"enableVectorStorage"`
}

// WorkflowConfig carries the pipeline engine knobs.
type WorkflowConfig struct {
	MaxConcurrentWorkflows int      `yaml:"maxConcurrentWorkflows"`
	MaxRetries             int      `yaml:"maxRetries"`
	RetryBaseDelay         Duration `yaml:"retryBaseDelay"`
	MaxRequeueAttempts     int      `yaml:"maxRequeueAttempts"`
	DrainTimeout           Duration `yaml:"drainTimeout"`
	EnableRefinement       bool     `yaml:"enableRefinement"`
	RefinementStages       []string `yaml:"refinementStages"`
}

// DocumentationConfig controls the documentation index.
type DocumentationConfig struct {
	DocumentationPaths []string `yaml:"documentationPaths"`
	CodePaths          []string `yaml:"codePaths"`
	EnableAutoLinking  bool     `yaml:"enableAutoLinking"`
}

// ExportConfig controls the export subsystem.
type ExportConfig struct {
	DefaultFormat string `yaml:"defaultFormat"`
	OutputPath    string `yaml:"outputPath"`
}

// WorkspaceConfig controls workspace resolution.
type WorkspaceConfig struct {
	Root       string `yaml:"root"`
	AutoDetect bool   `yaml:"autoDetect"`
}

// InterfaceConfig controls the user-facing surface.
type InterfaceConfig struct {
	DefaultMode    string `yaml:"defaultMode"`
	WebHost        string `yaml:"webHost"`
	WebPort        int    `yaml:"webPort"`
	Theme          string `yaml:"theme"`
	EnableRealTime bool   `yaml:"enableRealTime"`
}

// Config is the full runtime configuration, shaped section for section
// like the YAML document it loads from.
type Config struct {
	Memory        MemoryConfig        `yaml:"memory"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Documentation DocumentationConfig `yaml:"documentation"`
	Export        ExportConfig        `yaml:"export"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Interface     InterfaceConfig     `yaml:"interface"`
}

// DefaultConfig returns the canonical defaults from defaultConfigYAML.
func DefaultConfig() Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultConfigYAML), &cfg); err != nil {
		panic("loom: default config does not parse: " + err.Error())
	}
	return cfg
}

// LoadConfig reads a YAML config file and overlays it on the defaults. A
// missing file returns the defaults unchanged. Environment overrides are
// applied after the file, then the result is normalized and validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fault.Wrap(fault.KindConfiguration, "loom", fmt.Errorf("read %s: %w", path, err))
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fault.Wrap(fault.KindConfiguration, "loom", fmt.Errorf("parse %s: %w", path, err))
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment win over file values.
func (c *Config) applyEnvOverrides() {
	if mode := strings.TrimSpace(os.Getenv("LOOM_INTERFACE_MODE")); mode != "" {
		c.Interface.DefaultMode = mode
	}
	if port := strings.TrimSpace(os.Getenv("LOOM_WEB_PORT")); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && validPort(parsed) {
			c.Interface.WebPort = parsed
		}
	}
	if root := strings.TrimSpace(os.Getenv("LOOM_WORKSPACE_ROOT")); root != "" {
		c.Workspace.Root = root
	}
}

func (c *Config) normalize() {
	if c.Workflow.MaxConcurrentWorkflows < 1 {
		c.Workflow.MaxConcurrentWorkflows = 4
	}
	if c.Workflow.MaxRequeueAttempts < 1 {
		c.Workflow.MaxRequeueAttempts = 8
	}
	if c.Workflow.RetryBaseDelay <= 0 {
		c.Workflow.RetryBaseDelay = Duration(100 * time.Millisecond)
	}
	if c.Workflow.DrainTimeout <= 0 {
		c.Workflow.DrainTimeout = Duration(5 * time.Second)
	}
	if !validPort(c.Interface.WebPort) && c.Interface.WebPort != 0 {
		c.Interface.WebPort = ui.DefaultPort
	}
	c.Interface.WebHost = strings.TrimSpace(c.Interface.WebHost)
	if c.Interface.WebHost == "" {
		c.Interface.WebHost = ui.DefaultHost
	}
	c.Interface.DefaultMode = strings.ToLower(strings.TrimSpace(c.Interface.DefaultMode))
	c.Export.DefaultFormat = strings.ToLower(strings.TrimSpace(c.Export.DefaultFormat))
	c.Workspace.Root = strings.TrimSpace(c.Workspace.Root)
	c.Memory.Directory = strings.TrimSpace(c.Memory.Directory)
	c.Export.OutputPath = strings.TrimSpace(c.Export.OutputPath)
}

func (c Config) validate() error {
	if _, err := ui.ParseMode(c.Interface.DefaultMode); err != nil {
		return err
	}
	if _, err := export.ParseFormat(c.Export.DefaultFormat); err != nil {
		return fault.Wrap(fault.KindConfiguration, "loom",
			fmt.Errorf("defaultFormat: %w", err))
	}
	for _, name := range c.Workflow.RefinementStages {
		if _, err := document.ParseStage(name); err != nil {
			return fault.Wrap(fault.KindConfiguration, "loom",
				fmt.Errorf("refinementStages: %w", err))
		}
	}
	return nil
}

// refinementStages converts the configured stage names.
func (c Config) refinementStages() []document.Stage {
	out := make([]document.Stage, 0, len(c.Workflow.RefinementStages))
	for _, name := range c.Workflow.RefinementStages {
		stage, err := document.ParseStage(name)
		if err != nil {
			continue
		}
		out = append(out, stage)
	}
	return out
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
