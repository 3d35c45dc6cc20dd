package subsystem

import (
	"context"
	"fmt"
	"sync"

	"github.com/kingrea/loom/internal/event"
	"github.com/kingrea/loom/internal/logging"
)

// Registry holds registered adapters in registration order. Initialization
// runs them concurrently; shutdown walks the order in reverse.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	adapters map[string]Adapter

	bus    *event.Bus
	logger logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger routes registry logging to logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry returns an empty registry publishing component.status events
// on bus.
func NewRegistry(bus *event.Bus, opts ...Option) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
		bus:      bus,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs an adapter. Names must be unique.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("subsystem: adapter is required")
	}
	name := a.Name()
	if name == "" {
		return fmt.Errorf("subsystem: adapter name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("subsystem: %s already registered", name)
	}
	r.adapters[name] = a
	r.order = append(r.order, name)
	return nil
}

// Adapter returns a registered adapter by name.
func (r *Registry) Adapter(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns adapter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// InitializeAll initializes every adapter concurrently and returns the
// failures by name. A failing or panicking adapter never stops the others.
func (r *Registry) InitializeAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	adapters := make([]Adapter, 0, len(names))
	for _, name := range names {
		adapters = append(adapters, r.adapters[name])
	}
	r.mu.RUnlock()

	errs := make([]error, len(adapters))
	var wg sync.WaitGroup
	wg.Add(len(adapters))
	for i, a := range adapters {
		go func(i int, a Adapter) {
			defer wg.Done()
			errs[i] = r.guarded(ctx, a, "initialize", a.Initialize)
		}(i, a)
	}
	wg.Wait()

	failures := make(map[string]error)
	for i, name := range names {
		if errs[i] != nil {
			failures[name] = errs[i]
			r.logger.Printf("initialize %s: %v", name, errs[i])
		}
		r.publishStatus(adapters[i])
	}
	if len(failures) == 0 {
		return nil
	}
	return failures
}

// ShutdownAll shuts adapters down in reverse registration order and
// returns the failures by name.
func (r *Registry) ShutdownAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	adapters := make([]Adapter, 0, len(names))
	for _, name := range names {
		adapters = append(adapters, r.adapters[name])
	}
	r.mu.RUnlock()

	failures := make(map[string]error)
	for i := len(adapters) - 1; i >= 0; i-- {
		if err := r.guarded(ctx, adapters[i], "shutdown", adapters[i].Shutdown); err != nil {
			failures[names[i]] = err
			r.logger.Printf("shutdown %s: %v", names[i], err)
		}
		r.publishStatus(adapters[i])
	}
	if len(failures) == 0 {
		return nil
	}
	return failures
}

// Statuses reports every adapter's status by name. A panicking Status call
// reports as error state rather than tearing anything down.
func (r *Registry) Statuses() map[string]Status {
	r.mu.RLock()
	adapters := make(map[string]Adapter, len(r.adapters))
	for name, a := range r.adapters {
		adapters[name] = a
	}
	r.mu.RUnlock()

	out := make(map[string]Status, len(adapters))
	for name, a := range adapters {
		out[name] = safeStatus(a)
	}
	return out
}

func (r *Registry) guarded(ctx context.Context, a Adapter, op string, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("subsystem: %s %s panicked: %v", a.Name(), op, rec)
		}
	}()
	return fn(ctx)
}

func (r *Registry) publishStatus(a Adapter) {
	if r.bus == nil {
		return
	}
	st := safeStatus(a)
	ev := event.Event{
		Kind:      event.KindComponentStatus,
		Component: a.Name(),
		Message:   string(st.State),
	}
	if st.State == StateDegraded || st.State == StateError {
		ev.Err = st.Detail
	}
	r.bus.Publish(ev)
}

func safeStatus(a Adapter) (st Status) {
	defer func() {
		if rec := recover(); rec != nil {
			st = Status{State: StateError, Detail: fmt.Sprintf("status panicked: %v", rec)}
		}
	}()
	return a.Status()
}
