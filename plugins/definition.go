package plugins

import (
	"fmt"
	"strings"

	"github.com/kingrea/loom/internal/document"
)

// Definition describes a refinement methodology loaded from the workspace
// plugins directory.
//
// The struct mirrors the on-disk schema under .loom/plugins/*.yaml and is
// intentionally narrow: a methodology is data (phase names and the stages
// they apply to), never code. Go plugin files produce the same shape
// through RefinementDefinitions().
type Definition struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string   `json:"version,omitempty" yaml:"version,omitempty"`
	Stages      []string `json:"stages,omitempty" yaml:"stages,omitempty"`
	Phases      []string `json:"phases" yaml:"phases"`
}

// Normalized returns a trimmed copy of the definition. Stage names fold
// to lowercase; phase names keep their case but lose surrounding space.
func (def Definition) Normalized() Definition {
	clone := Definition{
		Name:        strings.TrimSpace(def.Name),
		Description: strings.TrimSpace(def.Description),
		Version:     strings.TrimSpace(def.Version),
	}
	if len(def.Stages) > 0 {
		clone.Stages = make([]string, 0, len(def.Stages))
		for _, stage := range def.Stages {
			if trimmed := strings.ToLower(strings.TrimSpace(stage)); trimmed != "" {
				clone.Stages = append(clone.Stages, trimmed)
			}
		}
	}
	if len(def.Phases) > 0 {
		clone.Phases = make([]string, 0, len(def.Phases))
		for _, phase := range def.Phases {
			if trimmed := strings.TrimSpace(phase); trimmed != "" {
				clone.Phases = append(clone.Phases, trimmed)
			}
		}
	}
	return clone
}

// Validate ensures the methodology is well-formed and applies only to
// known pipeline stages.
func (def Definition) Validate() error {
	normalized := def.Normalized()
	if normalized.Name == "" {
		return fmt.Errorf("plugin: name is required")
	}
	if len(normalized.Phases) == 0 {
		return fmt.Errorf("plugin %s: at least one phase is required", normalized.Name)
	}
	seenPhases := make(map[string]struct{}, len(normalized.Phases))
	for idx, phase := range normalized.Phases {
		if _, exists := seenPhases[phase]; exists {
			return fmt.Errorf("plugin %s: phases[%d]: duplicate phase %s", normalized.Name, idx, phase)
		}
		seenPhases[phase] = struct{}{}
	}
	seenStages := make(map[string]struct{}, len(normalized.Stages))
	for idx, name := range normalized.Stages {
		stage, err := document.ParseStage(name)
		if err != nil {
			return fmt.Errorf("plugin %s: stages[%d]: %w", normalized.Name, idx, err)
		}
		if stage == document.StageNone {
			return fmt.Errorf("plugin %s: stages[%d]: %s is not a pipeline stage", normalized.Name, idx, name)
		}
		if _, exists := seenStages[name]; exists {
			return fmt.Errorf("plugin %s: stages[%d]: duplicate stage %s", normalized.Name, idx, name)
		}
		seenStages[name] = struct{}{}
	}
	return nil
}
