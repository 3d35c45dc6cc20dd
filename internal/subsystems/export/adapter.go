package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/logging"
	"github.com/kingrea/loom/internal/subsystem"
)

// Name is the adapter's registry name.
const Name = "export"

// Config controls where exports land.
type Config struct {
	Directory string
}

// Adapter writes snapshots through the subsystem lifecycle.
type Adapter struct {
	*subsystem.Base
	cfg    Config
	logger logging.Logger
	now    func() time.Time

	mu       sync.RWMutex
	ready    bool
	exports  int
	lastFile string
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger routes adapter logging to logger.
func WithLogger(logger logging.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the clock used for export filenames.
func WithClock(clock func() time.Time) AdapterOption {
	return func(a *Adapter) {
		if clock != nil {
			a.now = clock
		}
	}
}

// New returns an uninitialized export adapter.
func New(cfg Config, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		Base:   subsystem.NewBase(Name),
		cfg:    cfg,
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initialize ensures the export directory exists. Calling it again is a
// no-op.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return nil
	}
	if a.cfg.Directory == "" {
		a.SetState(subsystem.StateError, "no directory configured")
		return fault.New(fault.KindConfiguration, "export", "directory is required")
	}
	if err := os.MkdirAll(a.cfg.Directory, 0o755); err != nil {
		a.SetState(subsystem.StateError, err.Error())
		return fault.Wrap(fault.KindResource, "export", err)
	}
	a.ready = true
	a.SetState(subsystem.StateReady, "")
	return nil
}

// Status reports state plus export metrics.
func (a *Adapter) Status() subsystem.Status {
	state, detail := a.State()
	st := subsystem.Status{State: state, Detail: detail}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.ready {
		st.Metrics = map[string]any{
			"exports":   a.exports,
			"directory": a.cfg.Directory,
		}
		if a.lastFile != "" {
			st.Metrics["lastExport"] = a.lastFile
		}
	}
	return st
}

// Shutdown stops accepting exports. Written files stay on disk.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready = false
	a.SetState(subsystem.StateUninitialized, "")
	return nil
}

// Export writes the snapshot in the requested format and returns the
// file's absolute path.
func (a *Adapter) Export(snap Snapshot, format Format) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return "", fault.New(fault.KindResource, "export", "adapter not initialized")
	}

	var data []byte
	var err error
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(snap, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	case FormatYAML:
		data, err = yaml.Marshal(snap)
	case FormatMarkdown:
		data = RenderMarkdown(snap)
	default:
		return "", fault.New(fault.KindValidation, "export", fmt.Sprintf("unknown format %q", format))
	}
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "export", err)
	}

	path := a.nextFileLocked(format)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fault.Wrap(fault.KindResource, "export", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fault.Wrap(fault.KindResource, "export", err)
	}

	a.exports++
	a.lastFile = path
	a.logger.Printf("exported snapshot to %s", path)
	return path, nil
}

// nextFileLocked picks a timestamped filename that does not exist yet.
func (a *Adapter) nextFileLocked(format Format) string {
	stamp := a.now().UTC().Format("20060102-150405")
	base := fmt.Sprintf("loom-export-%s", stamp)
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		path := filepath.Join(a.cfg.Directory, name+"."+format.Extension())
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path
		}
	}
}

// ReadSnapshot loads a JSON or YAML export back into memory.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fault.Wrap(fault.KindResource, "export", err)
	}
	var snap Snapshot
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, fault.Wrap(fault.KindValidation, "export", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, fault.Wrap(fault.KindValidation, "export", err)
		}
	default:
		return Snapshot{}, fault.New(fault.KindValidation, "export",
			fmt.Sprintf("cannot re-import %s exports", strings.TrimPrefix(filepath.Ext(path), ".")))
	}
	return snap, nil
}
