package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotArchived reports a lookup for an instance the archive never saved.
var ErrNotArchived = errors.New("pipeline: instance not archived")

// Archive persists terminal instances as one JSON file per instance, so
// runs survive process restarts and exports can include history.
type Archive struct {
	dir string
}

// NewArchive returns an archive rooted at dir. The directory is created on
// first save.
func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// Dir returns the archive root.
func (a *Archive) Dir() string { return a.dir }

// Save writes the instance record, replacing any previous version. The
// write goes through a temp file so readers never see a partial record.
func (a *Archive) Save(inst Instance) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("pipeline: create archive dir: %w", err)
	}
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: encode instance %s: %w", inst.ID, err)
	}
	data = append(data, '\n')
	path := filepath.Join(a.dir, inst.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("pipeline: write instance %s: %w", inst.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("pipeline: write instance %s: %w", inst.ID, err)
	}
	return nil
}

// Load reads one archived instance by id.
func (a *Archive) Load(id string) (Instance, error) {
	data, err := os.ReadFile(filepath.Join(a.dir, id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Instance{}, fmt.Errorf("%w: %s", ErrNotArchived, id)
		}
		return Instance{}, fmt.Errorf("pipeline: read instance %s: %w", id, err)
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return Instance{}, fmt.Errorf("pipeline: decode instance %s: %w", id, err)
	}
	return inst, nil
}

// List returns every archived instance ordered by enqueue time.
func (a *Archive) List() ([]Instance, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("pipeline: read archive dir: %w", err)
	}
	out := make([]Instance, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		inst, err := a.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
