package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/logging"
	"github.com/kingrea/loom/internal/subsystem"
)

// Name is the adapter's registry name.
const Name = "memory"

// Config controls where records live and which capabilities advertise.
type Config struct {
	Directory string
	// EnableCache keeps a read-through copy of records in memory.
	EnableCache bool
	// EnableVectorStorage advertises embedding support to status readers.
	// Storage itself stays file-backed either way.
	EnableVectorStorage bool
}

// Adapter exposes the record store through the subsystem lifecycle.
type Adapter struct {
	*subsystem.Base
	cfg    Config
	logger logging.Logger

	mu    sync.RWMutex
	store *Store
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

// New returns an uninitialized memory adapter.
func New(cfg Config, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		Base:   subsystem.NewBase(Name),
		cfg:    cfg,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initialize opens the store directory. Calling it again is a no-op.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return nil
	}
	if a.cfg.Directory == "" {
		a.SetState(subsystem.StateError, "no directory configured")
		return fault.New(fault.KindConfiguration, "memory", "directory is required")
	}
	var opts []StoreOption
	if !a.cfg.EnableCache {
		opts = append(opts, WithoutCache())
	}
	store := NewStore(a.cfg.Directory, opts...)
	probe := store.Count()
	a.store = store
	a.SetState(subsystem.StateReady, fmt.Sprintf("%d records", probe))
	a.logger.Printf("memory ready dir=%s records=%d", a.cfg.Directory, probe)
	return nil
}

// Status reports state plus store metrics.
func (a *Adapter) Status() subsystem.Status {
	state, detail := a.State()
	st := subsystem.Status{State: state, Detail: detail}
	a.mu.RLock()
	store := a.store
	a.mu.RUnlock()
	if store != nil {
		st.Metrics = map[string]any{
			"records":       store.Count(),
			"cache":         a.cfg.EnableCache,
			"vectorStorage": a.cfg.EnableVectorStorage,
			"directory":     a.cfg.Directory,
		}
	}
	return st
}

// Shutdown drops the store handle. Records stay on disk.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		a.SetState(subsystem.StateUninitialized, "")
		return nil
	}
	a.store = nil
	a.SetState(subsystem.StateUninitialized, "")
	return nil
}

// Save persists a record through the adapter.
func (a *Adapter) Save(rec Record) error {
	store, err := a.ready()
	if err != nil {
		return err
	}
	return store.Save(rec)
}

// Get returns the record for key.
func (a *Adapter) Get(key string) (Record, error) {
	store, err := a.ready()
	if err != nil {
		return Record{}, err
	}
	return store.Get(key)
}

// Records lists everything stored.
func (a *Adapter) Records() ([]Record, error) {
	store, err := a.ready()
	if err != nil {
		return nil, err
	}
	return store.List()
}

func (a *Adapter) ready() (*Store, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.store == nil {
		return nil, fault.New(fault.KindResource, "memory", "adapter not initialized")
	}
	return a.store, nil
}

// StageKey names the record holding one document's stage output.
func StageKey(documentID, stage string) string {
	return fmt.Sprintf("stage/%s/%s", documentID, stage)
}
