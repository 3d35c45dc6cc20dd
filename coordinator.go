package loom

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/document"
	"github.com/kingrea/loom/internal/event"
	"github.com/kingrea/loom/internal/logging"
	"github.com/kingrea/loom/internal/pipeline"
	"github.com/kingrea/loom/internal/subsystem"
	"github.com/kingrea/loom/internal/subsystems/docindex"
	"github.com/kingrea/loom/internal/subsystems/export"
	"github.com/kingrea/loom/internal/subsystems/memory"
	"github.com/kingrea/loom/internal/subsystems/ui"
	"github.com/kingrea/loom/internal/workspace"
	"github.com/kingrea/loom/plugins"
)

// recentEventLimit bounds the event-kind trail kept for reports.
const recentEventLimit = 10

// ProcessResult is the outcome of one ProcessDocument call. Failures are
// carried in Error; the method itself never fails.
type ProcessResult struct {
	Success     bool
	WorkflowIDs []string
	Error       error
}

// ExportResult is the outcome of one ExportSystemData call.
type ExportResult struct {
	Success  bool
	Filename string
	Error    error
}

// Coordinator owns subsystem lifecycle, drives documents through the
// pipeline and aggregates system health. Construct with NewCoordinator,
// then Initialize and Launch.
type Coordinator struct {
	cfg    Config
	logger logging.Logger
	clock  func() time.Time
	loader document.Loader
	exec   pipeline.StageExecutor

	root     string
	bus      *event.Bus
	registry *workspace.Registry
	adapters *subsystem.Registry
	mem      *memory.Adapter
	docs     *docindex.Adapter
	exporter *export.Adapter
	iface    *ui.Adapter

	mu sync.Mutex // serializes Initialize, Launch and Shutdown

	stateMu   sync.RWMutex
	state     LifecycleState
	launched  bool
	startedAt time.Time
	engine    *pipeline.Engine
	recent    []string

	sub    *event.Subscription
	status atomic.Pointer[SystemStatus]
}

// Option configures a Coordinator during construction.
type Option func(*Coordinator)

// WithLogger replaces the default journal logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLoader replaces the file-based document loader, for tests and
// embedders with virtual content.
func WithLoader(loader document.Loader) Option {
	return func(c *Coordinator) {
		if loader != nil {
			c.loader = loader
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithStageExecutor installs the collaborator that performs the real
// work of each stage. Stage outputs are recorded to the memory subsystem
// around it either way.
func WithStageExecutor(exec pipeline.StageExecutor) Option {
	return func(c *Coordinator) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// NewCoordinator validates the configuration and builds the component
// graph. Nothing touches the pipeline until Initialize.
func NewCoordinator(cfg Config, opts ...Option) (*Coordinator, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	root := cfg.Workspace.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fault.Wrap(fault.KindConfiguration, "loom", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "loom",
			fmt.Errorf("resolve workspace root: %w", err))
	}

	c := &Coordinator{
		cfg:    cfg,
		clock:  func() time.Time { return time.Now().UTC() },
		loader: document.FileLoader{},
		root:   root,
		state:  StateUninitialized,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		journal, err := logging.NewJournal(workspace.JournalPath(root))
		if err != nil {
			c.logger = logging.Nop()
		} else {
			c.logger = journal
		}
	}

	c.bus = event.NewBus(event.WithLogger(c.logger))
	c.registry = workspace.NewRegistry(c.bus,
		workspace.WithLogger(c.logger),
		workspace.WithClock(c.clock))

	memDir := cfg.Memory.Directory
	if memDir == "" {
		memDir = filepath.Join(workspace.StateDir(root), "memory")
	}
	c.mem = memory.New(memory.Config{
		Directory:           memDir,
		EnableCache:         cfg.Memory.EnableCache,
		EnableVectorStorage: cfg.Memory.EnableVectorStorage,
	}, memory.WithLogger(c.logger))

	c.docs = docindex.New(docindex.Config{
		ScanPaths: cfg.Documentation.DocumentationPaths,
		CodePaths: cfg.Documentation.CodePaths,
		AutoLink:  cfg.Documentation.EnableAutoLinking,
		IndexDir:  workspace.IndexDir(root),
	}, docindex.WithLogger(c.logger), docindex.WithClock(c.clock))

	exportDir := cfg.Export.OutputPath
	if exportDir == "" {
		exportDir = workspace.ExportsDir(root)
	}
	c.exporter = export.New(export.Config{Directory: exportDir},
		export.WithLogger(c.logger), export.WithClock(c.clock))

	c.iface = ui.New(ui.Config{
		Mode:           cfg.Interface.DefaultMode,
		Host:           cfg.Interface.WebHost,
		Port:           cfg.Interface.WebPort,
		Theme:          cfg.Interface.Theme,
		EnableRealTime: cfg.Interface.EnableRealTime,
	}, ui.WithLogger(c.logger),
		ui.WithStatusSource(statusSource{c}),
		ui.WithAdapterVersion(Version))

	c.adapters = subsystem.NewRegistry(c.bus, subsystem.WithLogger(c.logger))
	for _, a := range []subsystem.Adapter{c.mem, c.docs, c.exporter, c.iface} {
		if err := c.adapters.Register(a); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Initialize brings the subsystems up concurrently and wires the engine.
// A subsystem failure degrades the coordinator instead of stopping it;
// only zero usable subsystems is fatal. Idempotent once ready.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.currentState() {
	case StateReady, StateDegraded:
		return nil
	case StateDraining, StateShutdown:
		return fault.New(fault.KindValidation, "loom", "coordinator is shut down")
	}
	c.setState(StateInitializing)
	c.refreshStatus()

	if err := workspace.EnsureTree(c.root); err != nil {
		c.logger.Printf("loom: ensure workspace tree: %v", err)
	}

	failures := c.adapters.InitializeAll(ctx)
	for name, err := range failures {
		c.logger.Printf("loom: subsystem %s failed to initialize: %v", name, err)
	}
	usable := 0
	for _, st := range c.adapters.Statuses() {
		if st.State == subsystem.StateReady || st.State == subsystem.StateDegraded {
			usable++
		}
	}
	if usable == 0 {
		c.setState(StateError)
		c.refreshStatus()
		errs := make([]error, 0, len(failures))
		for _, err := range failures {
			errs = append(errs, err)
		}
		return fault.Wrap(fault.KindResource, "loom",
			fmt.Errorf("no subsystem initialized: %w", errors.Join(errs...)))
	}

	engine := pipeline.New(c.engineConfig(), c.registry, c.bus,
		pipeline.WithLogger(c.logger),
		pipeline.WithExecutor(&stageRecorder{
			inner:  c.exec,
			mem:    c.mem,
			logger: c.logger,
			clock:  c.clock,
		}),
		pipeline.WithArchive(pipeline.NewArchive(
			filepath.Join(workspace.StateDir(c.root), "instances"))),
		pipeline.WithClock(c.clock))

	c.sub = c.bus.Subscribe(event.KindAll, c.onEvent)

	c.stateMu.Lock()
	c.engine = engine
	c.startedAt = c.clock()
	if len(failures) > 0 {
		c.state = StateDegraded
	} else {
		c.state = StateReady
	}
	state := c.state
	c.stateMu.Unlock()

	c.bus.Publish(event.Event{Kind: event.KindSystemInitialized, Message: string(state)})
	c.refreshStatus()
	c.logger.Printf("loom: initialized state=%s subsystems=%d failed=%d",
		state, usable, len(failures))
	return nil
}

// engineConfig translates the workflow section, folding in a refinement
// methodology from plugins when one is installed.
func (c *Coordinator) engineConfig() pipeline.Config {
	cfg := pipeline.Config{
		MaxConcurrent:      c.cfg.Workflow.MaxConcurrentWorkflows,
		MaxRetries:         c.cfg.Workflow.MaxRetries,
		RetryBaseDelay:     time.Duration(c.cfg.Workflow.RetryBaseDelay),
		MaxRequeueAttempts: c.cfg.Workflow.MaxRequeueAttempts,
		DrainTimeout:       time.Duration(c.cfg.Workflow.DrainTimeout),
		EnableRefinement:   c.cfg.Workflow.EnableRefinement,
		RefinementStages:   c.cfg.refinementStages(),
	}
	if !cfg.EnableRefinement {
		return cfg
	}
	defs, err := plugins.Discover(workspace.PluginsDir(c.root), plugins.WithLogger(c.logger))
	if err != nil {
		c.logger.Printf("loom: discover refinement plugins: %v", err)
		return cfg
	}
	def, ok := plugins.Pick(defs)
	if !ok {
		return cfg
	}
	cfg.RefinementPhases = def.Phases
	if stages := parseStages(def.Stages); len(stages) > 0 {
		cfg.RefinementStages = stages
	}
	c.logger.Printf("loom: refinement methodology %s (%d phases)", def.Name, len(def.Phases))
	return cfg
}

func parseStages(names []string) []document.Stage {
	var out []document.Stage
	for _, name := range names {
		stage, err := document.ParseStage(name)
		if err != nil || stage == document.StageNone {
			continue
		}
		out = append(out, stage)
	}
	return out
}

// Launch opens document intake. Requires a successful Initialize.
func (c *Coordinator) Launch() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateMu.RLock()
	state, launched, engine := c.state, c.launched, c.engine
	c.stateMu.RUnlock()
	if launched {
		return nil
	}
	if (state != StateReady && state != StateDegraded) || engine == nil {
		return fault.New(fault.KindValidation, "loom", "coordinator not initialized")
	}
	if err := engine.Start(context.Background()); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.launched = true
	c.stateMu.Unlock()

	c.bus.Publish(event.Event{Kind: event.KindSystemLaunched})
	c.refreshStatus()
	c.logger.Printf("loom: intake open")
	return nil
}

// ProcessDocument registers the file with its workspace and plans the
// full stage chain. All failures land in the result; the call never
// panics and never blocks on pipeline capacity.
func (c *Coordinator) ProcessDocument(path string) ProcessResult {
	fail := func(err error) ProcessResult { return ProcessResult{Error: err} }

	c.stateMu.RLock()
	state, launched, engine := c.state, c.launched, c.engine
	c.stateMu.RUnlock()
	if state != StateReady && state != StateDegraded {
		return fail(fault.New(fault.KindValidation, "loom",
			fmt.Sprintf("coordinator is %s", state)))
	}
	if !launched || engine == nil {
		return fail(fault.New(fault.KindValidation, "loom", "intake is closed until Launch"))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fail(fault.Wrap(fault.KindValidation, "loom", err))
	}

	root := c.root
	if c.cfg.Workspace.AutoDetect {
		root = workspace.DetectRoot(abs)
	}
	wsID, err := c.registry.Load(root)
	if err != nil {
		return fail(err)
	}

	content, err := c.loader.Load(abs)
	if err != nil {
		return fail(err)
	}

	docID := c.findDocument(wsID, abs)
	if docID == "" {
		doc := document.Describe("", abs, content, c.clock())
		docID, err = c.registry.AddDocument(wsID, doc)
		if err != nil {
			return fail(err)
		}
	}

	if err := c.docs.AddDocument(abs); err != nil {
		c.logger.Printf("loom: index %s: %v", abs, err)
	}

	ids, err := engine.Submit(wsID, docID)
	if err != nil {
		return fail(err)
	}
	c.logger.Printf("loom: enqueued %s as document %s (%d stages)", abs, docID, len(ids))
	return ProcessResult{Success: true, WorkflowIDs: ids}
}

// findDocument returns the id of the workspace document already backed
// by path, or empty. Re-processing a known file resumes its pipeline
// position instead of starting a parallel identity.
func (c *Coordinator) findDocument(wsID, path string) string {
	ws, err := c.registry.Get(wsID)
	if err != nil {
		return ""
	}
	for id, doc := range ws.Documents {
		if doc.Path == path {
			return id
		}
	}
	return ""
}

// ExportSystemData writes the current snapshot in the requested format.
// The empty format uses the configured default.
func (c *Coordinator) ExportSystemData(format string) ExportResult {
	name := strings.TrimSpace(format)
	if name == "" {
		name = c.cfg.Export.DefaultFormat
	}
	parsed, err := export.ParseFormat(name)
	if err != nil {
		return ExportResult{Error: err}
	}
	path, err := c.exporter.Export(c.snapshot(), parsed)
	if err != nil {
		return ExportResult{Error: err}
	}
	c.logger.Printf("loom: exported system data to %s", path)
	return ExportResult{Success: true, Filename: path}
}

// GenerateSystemReport renders the human-readable system summary.
func (c *Coordinator) GenerateSystemReport() string {
	return string(export.RenderMarkdown(c.snapshot()))
}

// SystemStatus returns the aggregated snapshot. Reads come from an
// atomically swapped cache refreshed on every bus event, so this never
// blocks on a subsystem.
func (c *Coordinator) SystemStatus() SystemStatus {
	if cached := c.status.Load(); cached != nil {
		return cached.clone()
	}
	return c.computeStatus()
}

// Shutdown closes intake, drains the pipeline within the configured
// timeout, shuts subsystems down in reverse registration order and
// closes the bus. Idempotent.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateMu.RLock()
	state, engine := c.state, c.engine
	c.stateMu.RUnlock()
	if state == StateShutdown {
		return nil
	}
	if state == StateUninitialized {
		c.setState(StateShutdown)
		c.refreshStatus()
		return nil
	}

	c.stateMu.Lock()
	c.state = StateDraining
	c.launched = false
	c.stateMu.Unlock()
	c.refreshStatus()
	c.logger.Printf("loom: shutdown started")

	var errs []error
	if engine != nil {
		if err := engine.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for name, err := range c.adapters.ShutdownAll(ctx) {
		errs = append(errs, fmt.Errorf("loom: shutdown %s: %w", name, err))
	}
	c.registry.UnloadAll()

	c.bus.Publish(event.Event{Kind: event.KindSystemShutdown})
	c.setState(StateShutdown)
	c.refreshStatus()
	if c.sub != nil {
		c.sub.Close()
	}
	c.bus.Close()
	c.logger.Printf("loom: shutdown complete")
	return errors.Join(errs...)
}

// Subscribe attaches a handler to the coordinator's event bus.
func (c *Coordinator) Subscribe(kind event.Kind, handler event.Handler) *event.Subscription {
	return c.bus.Subscribe(kind, handler)
}

// Instances lists every workflow instance in submission order.
func (c *Coordinator) Instances() []pipeline.Instance {
	c.stateMu.RLock()
	engine := c.engine
	c.stateMu.RUnlock()
	if engine == nil {
		return nil
	}
	return engine.Instances()
}

// Workspaces lists the loaded workspaces.
func (c *Coordinator) Workspaces() []workspace.Workspace {
	return c.registry.List()
}

// InterfaceMode reports the resolved interface mode, empty before
// Initialize.
func (c *Coordinator) InterfaceMode() ui.Mode {
	return c.iface.Mode()
}

// WebURL returns the status server's base URL when the interface runs in
// web mode.
func (c *Coordinator) WebURL() string {
	return c.iface.ServerBaseURL()
}

// RealTime reports whether the dashboard should refresh off the bus.
func (c *Coordinator) RealTime() bool {
	return c.iface.RealTime()
}

// Theme returns the configured dashboard theme.
func (c *Coordinator) Theme() string {
	return c.iface.Theme()
}

// WorkspaceRoot returns the resolved primary workspace root.
func (c *Coordinator) WorkspaceRoot() string {
	return c.root
}

// JournalTail returns the last lines of the workspace journal, or nil
// when logging is not journal-backed.
func (c *Coordinator) JournalTail(maxLines int) []string {
	if journal, ok := c.logger.(*logging.Journal); ok {
		return journal.Tail(maxLines)
	}
	return nil
}

func (c *Coordinator) currentState() LifecycleState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(state LifecycleState) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

// onEvent is the bus subscription driving the push-model status cache.
func (c *Coordinator) onEvent(ev event.Event) {
	c.stateMu.Lock()
	c.recent = append(c.recent, string(ev.Kind))
	if len(c.recent) > recentEventLimit {
		c.recent = c.recent[len(c.recent)-recentEventLimit:]
	}
	c.stateMu.Unlock()
	c.refreshStatus()
}

func (c *Coordinator) refreshStatus() {
	st := c.computeStatus()
	c.status.Store(&st)
}

func (c *Coordinator) computeStatus() SystemStatus {
	c.stateMu.RLock()
	state := c.state
	started := c.startedAt
	engine := c.engine
	recent := append([]string(nil), c.recent...)
	c.stateMu.RUnlock()

	components := c.adapters.Statuses()
	var stats pipeline.Stats
	if engine != nil {
		stats = engine.Stats()
	}
	workspaces, documents, active := c.registry.Counts()

	coreState := subsystem.StateReady
	if engine == nil || state == StateShutdown {
		coreState = subsystem.StateUninitialized
	}
	components["workflow"] = subsystem.Status{
		State: coreState,
		Metrics: map[string]any{
			"running":    stats.Running,
			"pending":    stats.Pending,
			"blocked":    stats.Blocked,
			"completed":  stats.Completed,
			"failed":     stats.Failed,
			"queueDepth": stats.QueueDepth,
		},
	}
	components["workspace"] = subsystem.Status{
		State: coreState,
		Metrics: map[string]any{
			"workspaces":      workspaces,
			"documents":       documents,
			"activeWorkflows": active,
		},
	}

	var uptime int64
	if !started.IsZero() {
		uptime = int64(c.clock().Sub(started).Seconds())
	}
	return SystemStatus{
		State:         state,
		Version:       Version,
		Components:    components,
		Pipeline:      stats,
		Workspaces:    workspaces,
		Documents:     documents,
		UptimeSeconds: uptime,
		LastUpdate:    c.clock(),
		RecentEvents:  recent,
	}
}

// snapshot assembles the exportable view of the whole system.
func (c *Coordinator) snapshot() export.Snapshot {
	status := c.computeStatus()
	snap := export.Snapshot{
		GeneratedAt:  c.clock(),
		Version:      Version,
		Workspaces:   c.registry.List(),
		Components:   status.Components,
		Stats:        status.Pipeline,
		RecentEvents: status.RecentEvents,
	}
	c.stateMu.RLock()
	engine := c.engine
	c.stateMu.RUnlock()
	if engine != nil {
		snap.Instances = engine.Instances()
	}
	return snap
}

func (s SystemStatus) clone() SystemStatus {
	out := s
	out.Components = make(map[string]subsystem.Status, len(s.Components))
	for name, st := range s.Components {
		out.Components[name] = st
	}
	out.RecentEvents = append([]string(nil), s.RecentEvents...)
	return out
}

// statusSource feeds the web interface endpoints from the coordinator.
type statusSource struct{ c *Coordinator }

func (s statusSource) SystemStatus() any    { return s.c.SystemStatus() }
func (s statusSource) SystemReport() string { return s.c.GenerateSystemReport() }

// stageRecorder wraps the stage executor so every completed stage leaves
// a record in the memory subsystem. Persistence failures log and pass;
// a degraded memory store must not stall the pipeline.
type stageRecorder struct {
	inner  pipeline.StageExecutor
	mem    *memory.Adapter
	logger logging.Logger
	clock  func() time.Time
}

func (r *stageRecorder) ExecuteStage(ctx context.Context, inst pipeline.Instance) error {
	if r.inner != nil {
		if err := r.inner.ExecuteStage(ctx, inst); err != nil {
			return err
		}
	}
	rec := memory.Record{
		Key:         memory.StageKey(inst.DocumentID, inst.Stage.String()),
		Kind:        "stage-output",
		WorkspaceID: inst.WorkspaceID,
		DocumentID:  inst.DocumentID,
		Stage:       inst.Stage.String(),
		Payload: map[string]any{
			"workflow":    inst.ID,
			"completedAt": r.clock().UTC().Format(time.RFC3339),
		},
	}
	if err := r.mem.Save(rec); err != nil {
		r.logger.Printf("loom: record stage output %s: %v", rec.Key, err)
	}
	return nil
}

func (r *stageRecorder) ExecutePhase(ctx context.Context, inst pipeline.Instance, phase string) error {
	if exec, ok := r.inner.(pipeline.PhaseExecutor); ok {
		return exec.ExecutePhase(ctx, inst, phase)
	}
	return nil
}
