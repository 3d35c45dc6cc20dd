package docindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/logging"
	"github.com/kingrea/loom/internal/subsystem"
)

// Name is the adapter's registry name.
const Name = "documentation"

// Config controls what gets scanned and where snapshots land.
type Config struct {
	// ScanPaths are directories walked for markdown at initialize time.
	ScanPaths []string
	// CodePaths are directories walked for source files, indexed by name
	// so documents can link to the code that implements them.
	CodePaths []string
	// AutoLink computes related-document links after each index change.
	AutoLink bool
	// IndexDir, when set, receives an index.json snapshot.
	IndexDir string
}

// Adapter exposes the documentation index through the subsystem lifecycle.
// Unreadable scan paths degrade the adapter instead of failing it.
type Adapter struct {
	*subsystem.Base
	cfg    Config
	logger logging.Logger
	now    func() time.Time

	mu      sync.RWMutex
	index   *Index
	skipped []string
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

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) AdapterOption {
	return func(a *Adapter) {
		if clock != nil {
			a.now = clock
		}
	}
}

// New returns an uninitialized documentation adapter.
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

// Initialize scans the configured paths and builds the index. Calling it
// again is a no-op.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.index != nil {
		return nil
	}

	ix := NewIndex()
	var skipped []string
	scanned := 0
	scan := func(roots []string, walk func(*Index, string, func() time.Time) (int, error)) error {
		for _, root := range roots {
			if err := ctx.Err(); err != nil {
				return fault.Wrap(fault.KindTimeout, "docindex", err)
			}
			if _, err := os.Stat(root); err != nil {
				skipped = append(skipped, root)
				a.logger.Printf("skipping scan path %s: %v", root, err)
				continue
			}
			if _, err := walk(ix, root, a.now); err != nil {
				skipped = append(skipped, root)
				a.logger.Printf("skipping scan path %s: %v", root, err)
				continue
			}
			scanned++
		}
		return nil
	}
	if err := scan(a.cfg.ScanPaths, scanPath); err != nil {
		return err
	}
	if err := scan(a.cfg.CodePaths, scanCodePath); err != nil {
		return err
	}
	if a.cfg.AutoLink {
		relink(ix)
	}
	a.index = ix
	a.skipped = skipped

	if len(a.cfg.ScanPaths)+len(a.cfg.CodePaths) > 0 && scanned == 0 {
		a.SetState(subsystem.StateDegraded, "no scan paths readable")
	} else {
		a.SetState(subsystem.StateReady, fmt.Sprintf("%d documents", ix.Len()))
	}
	a.persistLocked()
	return nil
}

// Status reports state plus index metrics.
func (a *Adapter) Status() subsystem.Status {
	state, detail := a.State()
	st := subsystem.Status{State: state, Detail: detail}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.index != nil {
		st.Metrics = map[string]any{
			"documents":    a.index.Len(),
			"links":        a.index.LinkCount(),
			"scanPaths":    len(a.cfg.ScanPaths) + len(a.cfg.CodePaths),
			"skippedPaths": len(a.skipped),
		}
	}
	return st
}

// Shutdown drops the index. The last snapshot stays on disk.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.index = nil
	a.skipped = nil
	a.SetState(subsystem.StateUninitialized, "")
	return nil
}

// AddDocument indexes one file after the initial scan, refreshing links
// and the snapshot.
func (a *Adapter) AddDocument(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.index == nil {
		return fault.New(fault.KindResource, "docindex", "adapter not initialized")
	}
	if err := indexFile(a.index, path, a.now); err != nil {
		return fault.Wrap(fault.KindResource, "docindex", err)
	}
	if a.cfg.AutoLink {
		relink(a.index)
	}
	a.persistLocked()
	return nil
}

// Search fuzzy-matches query against the index.
func (a *Adapter) Search(query string, limit int) ([]Match, error) {
	a.mu.RLock()
	ix := a.index
	a.mu.RUnlock()
	if ix == nil {
		return nil, fault.New(fault.KindResource, "docindex", "adapter not initialized")
	}
	return ix.Search(query, limit), nil
}

// Entries returns every indexed document.
func (a *Adapter) Entries() ([]Entry, error) {
	a.mu.RLock()
	ix := a.index
	a.mu.RUnlock()
	if ix == nil {
		return nil, fault.New(fault.KindResource, "docindex", "adapter not initialized")
	}
	return ix.Entries(), nil
}

type snapshot struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Documents   []Entry   `json:"documents"`
}

// persistLocked writes the index snapshot; failures log and degrade
// nothing.
func (a *Adapter) persistLocked() {
	if a.cfg.IndexDir == "" || a.index == nil {
		return
	}
	snap := snapshot{GeneratedAt: a.now().UTC(), Documents: a.index.Entries()}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		a.logger.Printf("encode index snapshot: %v", err)
		return
	}
	data = append(data, '\n')
	if err := os.MkdirAll(a.cfg.IndexDir, 0o755); err != nil {
		a.logger.Printf("write index snapshot: %v", err)
		return
	}
	path := filepath.Join(a.cfg.IndexDir, "index.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		a.logger.Printf("write index snapshot: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		a.logger.Printf("write index snapshot: %v", err)
	}
}
