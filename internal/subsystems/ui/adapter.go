// Package ui is the interface subsystem. It resolves the configured
// interface mode exactly once at initialization and, in web mode, runs
// the read-only status server. The terminal dashboard itself lives in
// internal/tui; this package only decides which surface runs and keeps
// the web surface alive.
package ui

import (
	"context"
	"os"
	"sync"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/logging"
	"github.com/kingrea/loom/internal/subsystem"
)

// Name is the adapter's registry name.
const Name = "interface"

// Config controls the interface surface.
type Config struct {
	// Mode is auto, cli, or web. Empty means auto.
	Mode string
	// Host and Port bind the web server. A zero port asks the kernel
	// for a free one.
	Host string
	Port int
	// Theme names the dashboard color theme.
	Theme string
	// EnableRealTime switches the dashboard from polling to push
	// refresh off the event bus.
	EnableRealTime bool
}

// Adapter runs the interface subsystem through the standard lifecycle.
type Adapter struct {
	*subsystem.Base
	cfg     Config
	logger  logging.Logger
	source  StatusSource
	version string
	ttyFd   uintptr

	mu     sync.RWMutex
	mode   Mode
	server *Server
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger attaches a logger.
func WithLogger(logger logging.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithStatusSource supplies the data served by the web endpoints.
func WithStatusSource(source StatusSource) AdapterOption {
	return func(a *Adapter) {
		if source != nil {
			a.source = source
		}
	}
}

// WithAdapterVersion sets the version string reported by /health.
func WithAdapterVersion(version string) AdapterOption {
	return func(a *Adapter) {
		if version != "" {
			a.version = version
		}
	}
}

// WithTerminalFd overrides the file descriptor used for auto-mode
// resolution. Tests use it to force either outcome.
func WithTerminalFd(fd uintptr) AdapterOption {
	return func(a *Adapter) { a.ttyFd = fd }
}

// New builds the interface adapter.
func New(cfg Config, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		Base:    subsystem.NewBase(Name),
		cfg:     cfg,
		logger:  logging.Nop(),
		source:  nopSource{},
		version: "dev",
		ttyFd:   os.Stdout.Fd(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Initialize resolves the interface mode and, in web mode, starts the
// status server. Calling it on a ready adapter is a no-op.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if state, _ := a.State(); state == subsystem.StateReady {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fault.Wrap(fault.KindTimeout, "ui", err)
	}

	mode, err := ParseMode(a.cfg.Mode)
	if err != nil {
		a.SetState(subsystem.StateError, err.Error())
		return err
	}
	a.mode = mode.Resolve(a.ttyFd)

	if a.mode == ModeWeb {
		server := NewServer(a.cfg.Host, a.cfg.Port, a.source,
			WithServerLogger(a.logger),
			WithVersion(a.version))
		if err := server.Start(ctx); err != nil {
			a.SetState(subsystem.StateError, err.Error())
			return err
		}
		a.server = server
		a.SetState(subsystem.StateReady, "web interface on "+server.Addr())
		return nil
	}
	a.SetState(subsystem.StateReady, "cli dashboard ready")
	return nil
}

// Status reports state plus interface metrics.
func (a *Adapter) Status() subsystem.Status {
	state, detail := a.State()
	st := subsystem.Status{State: state, Detail: detail}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if state == subsystem.StateReady {
		st.Metrics = map[string]any{
			"mode":     string(a.mode),
			"realTime": a.cfg.EnableRealTime,
		}
		if a.cfg.Theme != "" {
			st.Metrics["theme"] = a.cfg.Theme
		}
		if a.server != nil {
			st.Metrics["address"] = a.server.Addr()
		}
	}
	return st
}

// Shutdown drains the web server if one is running.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.server != nil {
		err = a.server.Shutdown(ctx)
		a.server = nil
	}
	a.mode = ""
	a.SetState(subsystem.StateUninitialized, "")
	return err
}

// Mode returns the resolved mode, empty before initialization.
func (a *Adapter) Mode() Mode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// ServerAddr returns the web server's bound address, empty unless the
// adapter runs in web mode.
func (a *Adapter) ServerAddr() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// ServerBaseURL returns the web server's base URL, empty unless the
// adapter runs in web mode.
func (a *Adapter) ServerBaseURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.server == nil {
		return ""
	}
	return a.server.BaseURL()
}

// RealTime reports whether push refresh is enabled for the dashboard.
func (a *Adapter) RealTime() bool { return a.cfg.EnableRealTime }

// Theme returns the configured dashboard theme name.
func (a *Adapter) Theme() string { return a.cfg.Theme }
