package plugins

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/loom/internal/logging"
)

// Option adjusts discovery behavior.
type Option func(*discoverer)

// WithLogger routes discovery notes to logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *discoverer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

type discoverer struct {
	logger logging.Logger
}

// Discover loads every methodology under dir, YAML files and interpreted
// Go files alike. A missing directory means no plugins. Results come back
// sorted by name; two files claiming the same name is an error.
func Discover(dir string, opts ...Option) ([]Definition, error) {
	d := discoverer{logger: logging.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&d)
		}
	}
	yamlDefs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	files := append(yamlDefs, goDefs...)
	if len(files) == 0 {
		return nil, nil
	}
	seen := make(map[string]string, len(files))
	defs := make([]Definition, 0, len(files))
	for _, file := range files {
		key := strings.ToLower(file.Definition.Name)
		if existing, ok := seen[key]; ok {
			return nil, fmt.Errorf("plugin: duplicate methodology %s (%s and %s)",
				file.Definition.Name, existing, file.Path)
		}
		seen[key] = file.Path
		defs = append(defs, file.Definition)
		d.logger.Printf("plugin: loaded methodology %s from %s", file.Definition.Name, file.Path)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Pick chooses the methodology the engine should run: the one named
// "default" when present, otherwise the first by name.
func Pick(defs []Definition) (Definition, bool) {
	if len(defs) == 0 {
		return Definition{}, false
	}
	for _, def := range defs {
		if strings.EqualFold(def.Name, "default") {
			return def, true
		}
	}
	return defs[0], true
}
