package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/logging"
)

const (
	// DefaultHost is the loopback interface used when no host is configured.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the default TCP port for the web interface.
	DefaultPort = 8900
	// defaultReadTimeout guards hung clients.
	defaultReadTimeout = 15 * time.Second
	// defaultWriteTimeout bounds handler writes.
	defaultWriteTimeout = 15 * time.Second
	// defaultIdleTimeout bounds keep-alive connections.
	defaultIdleTimeout = 60 * time.Second
)

// StatusSource supplies the live data behind the web endpoints. The
// coordinator implements it; tests substitute fixtures.
type StatusSource interface {
	SystemStatus() any
	SystemReport() string
}

type nopSource struct{}

func (nopSource) SystemStatus() any    { return map[string]any{} }
func (nopSource) SystemReport() string { return "" }

// Server exposes system status over HTTP when the interface runs in web
// mode. It serves read-only endpoints and drains in-flight requests on
// shutdown.
type Server struct {
	host    string
	port    int
	version string
	source  StatusSource
	logger  logging.Logger
	clock   func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	startTime time.Time
	draining  bool
}

// ServerOption customizes server construction.
type ServerOption func(*Server)

// WithServerLogger overrides the default no-op logger.
func WithServerLogger(logger logging.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServerClock allows tests to control timestamps.
func WithServerClock(clock func() time.Time) ServerOption {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithVersion sets the version string reported by /health.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		if version != "" {
			s.version = version
		}
	}
}

// NewServer prepares a status server bound to host:port. A port of zero
// asks the kernel for a free port, which tests rely on.
func NewServer(host string, port int, source StatusSource, opts ...ServerOption) *Server {
	if host == "" {
		host = DefaultHost
	}
	if source == nil {
		source = nopSource{}
	}
	s := &Server{
		host:    host,
		port:    port,
		version: "dev",
		source:  source,
		logger:  logging.Nop(),
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fault.New(fault.KindValidation, "ui", "server already started")
	}
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fault.Wrap(fault.KindResource, "ui", fmt.Errorf("listen %s: %w", addr, err))
	}
	s.listener = listener
	s.startTime = s.clock()
	s.draining = false

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/report", s.handleReport)
	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("ui: serve error: %v", err)
		}
	}()
	s.logger.Printf("ui: web interface listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight
// requests to finish. Safe to call on a server that never started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.draining = true
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return fault.Wrap(fault.KindTimeout, "ui", err)
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	return "http://" + addr
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(s.startTime).Seconds())
}

func (s *Server) lifecycle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draining {
		return "draining"
	}
	if s.listener == nil {
		return "stopped"
	}
	return "ready"
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        s.lifecycle(),
		Version:       s.version,
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.source.SystemStatus())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, s.source.SystemReport())
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
