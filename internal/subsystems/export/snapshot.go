// Package export serializes system snapshots to timestamped files and
// reads them back. JSON and YAML exports round-trip; markdown is a
// write-only human rendering.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/pipeline"
	"github.com/kingrea/loom/internal/subsystem"
	"github.com/kingrea/loom/internal/workspace"
)

// Format selects the export serialization.
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat normalizes a format name, accepting the usual short forms.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fault.New(fault.KindValidation, "export", fmt.Sprintf("unknown format %q", s))
	}
}

// Extension returns the file extension for the format.
func (f Format) Extension() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatMarkdown:
		return "md"
	default:
		return "json"
	}
}

// Snapshot is the full exportable system state.
type Snapshot struct {
	GeneratedAt  time.Time                   `json:"generatedAt" yaml:"generatedAt"`
	Version      string                      `json:"version" yaml:"version"`
	Workspaces   []workspace.Workspace       `json:"workspaces" yaml:"workspaces"`
	Instances    []pipeline.Instance         `json:"instances" yaml:"instances"`
	Components   map[string]subsystem.Status `json:"components" yaml:"components"`
	Stats        pipeline.Stats              `json:"stats" yaml:"stats"`
	RecentEvents []string                    `json:"recentEvents,omitempty" yaml:"recentEvents,omitempty"`
}
