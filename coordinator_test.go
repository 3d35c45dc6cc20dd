package loom

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/document"
	"github.com/kingrea/loom/internal/pipeline"
	"github.com/kingrea/loom/internal/subsystem"
	"github.com/kingrea/loom/internal/subsystems/export"
	"github.com/kingrea/loom/internal/subsystems/memory"
	"github.com/kingrea/loom/internal/subsystems/ui"
)

var stageSequence = []string{"vision", "adr", "prd", "epic", "feature", "task", "code"}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workspace.Root = t.TempDir()
	cfg.Workspace.AutoDetect = false
	cfg.Interface.DefaultMode = "cli"
	cfg.Workflow.RetryBaseDelay = Duration(time.Millisecond)
	cfg.Workflow.DrainTimeout = Duration(2 * time.Second)
	return cfg
}

func startLoom(t *testing.T, cfg Config, opts ...Option) *Coordinator {
	t.Helper()
	c, err := QuickStart(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("QuickStart: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func writeDocument(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func waitForWorkflows(t *testing.T, c *Coordinator, ids []string) map[string]pipeline.Instance {
	t.Helper()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		byID := make(map[string]pipeline.Instance, len(ids))
		settled := true
		for _, inst := range c.Instances() {
			if _, ok := want[inst.ID]; !ok {
				continue
			}
			byID[inst.ID] = inst
			if !inst.Status.Terminal() {
				settled = false
			}
		}
		if len(byID) == len(ids) && settled {
			return byID
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("workflows did not settle within deadline")
	return nil
}

// waitForStatus polls the cached snapshot until pred holds. The cache
// refreshes off bus events, so it trails the engine by a delivery.
func waitForStatus(t *testing.T, c *Coordinator, pred func(SystemStatus) bool) SystemStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last SystemStatus
	for time.Now().Before(deadline) {
		last = c.SystemStatus()
		if pred(last) {
			return last
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("status never converged, last: %+v", last)
	return SystemStatus{}
}

func soleDocument(t *testing.T, c *Coordinator) document.Document {
	t.Helper()
	spaces := c.Workspaces()
	if len(spaces) != 1 {
		t.Fatalf("expected 1 workspace, got %d", len(spaces))
	}
	if len(spaces[0].Documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(spaces[0].Documents))
	}
	for _, doc := range spaces[0].Documents {
		return doc
	}
	return document.Document{}
}

// journeyLog records executed stages in completion order.
type journeyLog struct {
	mu      sync.Mutex
	entries []string
	docs    []string
}

func (l *journeyLog) record(inst pipeline.Instance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, inst.Stage.String())
	l.docs = append(l.docs, inst.DocumentID)
}

func (l *journeyLog) stages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *journeyLog) documents() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.docs...)
}

func TestQuickStartRunsDocumentToCode(t *testing.T) {
	cfg := testConfig(t)
	log := &journeyLog{}
	c := startLoom(t, cfg, WithStageExecutor(pipeline.ExecutorFunc(
		func(_ context.Context, inst pipeline.Instance) error {
			log.record(inst)
			return nil
		})))

	path := writeDocument(t, cfg.Workspace.Root, "vision.md", "# Payments Vision\n\nCollect money.\n")
	res := c.ProcessDocument(path)
	if res.Error != nil || !res.Success {
		t.Fatalf("ProcessDocument: %+v", res)
	}
	if len(res.WorkflowIDs) != len(stageSequence) {
		t.Fatalf("expected %d planned stages, got %d", len(stageSequence), len(res.WorkflowIDs))
	}

	insts := waitForWorkflows(t, c, res.WorkflowIDs)
	for id, inst := range insts {
		if inst.Status != pipeline.StatusCompleted {
			t.Fatalf("workflow %s ended %s (%s)", id, inst.Status, inst.Error)
		}
	}
	got := log.stages()
	if strings.Join(got, ",") != strings.Join(stageSequence, ",") {
		t.Fatalf("stages ran out of order: %v", got)
	}

	doc := soleDocument(t, c)
	if doc.CurrentStage != document.StageCode {
		t.Fatalf("document should land at code, got %s", doc.CurrentStage)
	}
	if doc.Title != "Payments Vision" {
		t.Fatalf("unexpected title: %q", doc.Title)
	}

	status := waitForStatus(t, c, func(s SystemStatus) bool {
		return s.Pipeline.Completed == len(stageSequence) && s.Pipeline.ActiveChains == 0
	})
	if !status.Healthy() || status.State != StateReady {
		t.Fatalf("unexpected state: %+v", status.State)
	}
	if status.Workspaces != 1 || status.Documents != 1 {
		t.Fatalf("unexpected counts: %+v", status)
	}
	if len(status.RecentEvents) == 0 {
		t.Fatalf("expected a recent event trail")
	}

	// Every completed stage leaves a record behind.
	rec, err := c.mem.Get(memory.StageKey(doc.ID, "code"))
	if err != nil {
		t.Fatalf("stage output record missing: %v", err)
	}
	if rec.Kind != "stage-output" || rec.DocumentID != doc.ID {
		t.Fatalf("unexpected stage record: %+v", rec)
	}
}

func TestProcessDocumentRejectsSecondActiveChain(t *testing.T) {
	cfg := testConfig(t)
	release := make(chan struct{})
	started := make(chan struct{}, 16)
	c := startLoom(t, cfg, WithStageExecutor(pipeline.ExecutorFunc(
		func(ctx context.Context, inst pipeline.Instance) error {
			started <- struct{}{}
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})))

	path := writeDocument(t, cfg.Workspace.Root, "vision.md", "# Vision\n")
	first := c.ProcessDocument(path)
	if first.Error != nil {
		t.Fatalf("first submission: %v", first.Error)
	}
	<-started

	second := c.ProcessDocument(path)
	if second.Error == nil {
		t.Fatalf("expected second submission to be rejected")
	}
	if kind := fault.KindOf(second.Error); kind != fault.KindValidation {
		t.Fatalf("expected validation fault, got %s", kind)
	}
	if !strings.Contains(second.Error.Error(), "active chain") {
		t.Fatalf("unexpected rejection: %v", second.Error)
	}

	close(release)
	waitForWorkflows(t, c, first.WorkflowIDs)

	third := c.ProcessDocument(path)
	if third.Error == nil || !strings.Contains(third.Error.Error(), "final stage") {
		t.Fatalf("finished document should be rejected, got %+v", third)
	}
}

func TestConcurrencyCapAndChainOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.MaxConcurrentWorkflows = 1
	log := &journeyLog{}
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var gateOnce sync.Once
	c := startLoom(t, cfg, WithStageExecutor(pipeline.ExecutorFunc(
		func(ctx context.Context, inst pipeline.Instance) error {
			log.record(inst)
			gateOnce.Do(func() {
				started <- struct{}{}
				select {
				case <-release:
				case <-ctx.Done():
				}
			})
			return ctx.Err()
		})))

	pathA := writeDocument(t, cfg.Workspace.Root, "a.md", "# First\n")
	pathB := writeDocument(t, cfg.Workspace.Root, "b.md", "# Second\n")
	resA := c.ProcessDocument(pathA)
	if resA.Error != nil {
		t.Fatalf("submit a: %v", resA.Error)
	}
	resB := c.ProcessDocument(pathB)
	if resB.Error != nil {
		t.Fatalf("submit b: %v", resB.Error)
	}
	<-started

	// While the first stage holds its slot nothing else may run.
	for i := 0; i < 10; i++ {
		running := 0
		for _, inst := range c.Instances() {
			if inst.Status == pipeline.StatusRunning {
				running++
			}
		}
		if running > 1 {
			t.Fatalf("concurrency cap exceeded: %d running", running)
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	all := append(append([]string(nil), resA.WorkflowIDs...), resB.WorkflowIDs...)
	insts := waitForWorkflows(t, c, all)
	for id, inst := range insts {
		if inst.Status != pipeline.StatusCompleted {
			t.Fatalf("workflow %s ended %s (%s)", id, inst.Status, inst.Error)
		}
	}

	// FIFO admission finishes the first document's whole chain before the
	// second document starts.
	docA := insts[resA.WorkflowIDs[0]].DocumentID
	docB := insts[resB.WorkflowIDs[0]].DocumentID
	ran := log.documents()
	if len(ran) != 2*len(stageSequence) {
		t.Fatalf("expected %d executions, got %d", 2*len(stageSequence), len(ran))
	}
	for i, docID := range ran {
		want := docA
		if i >= len(stageSequence) {
			want = docB
		}
		if docID != want {
			t.Fatalf("execution %d belongs to %s, want %s (order %v)", i, docID, want, ran)
		}
	}
}

func TestDefaultConcurrencyCompletesAllDocuments(t *testing.T) {
	cfg := testConfig(t)
	c := startLoom(t, cfg)

	// More chains than default slots; every chain must still finish.
	names := []string{"a.md", "b.md", "c.md"}
	var all []string
	for _, name := range names {
		path := writeDocument(t, cfg.Workspace.Root, name, "# "+name+"\n")
		res := c.ProcessDocument(path)
		if res.Error != nil {
			t.Fatalf("submit %s: %v", name, res.Error)
		}
		if len(res.WorkflowIDs) != len(stageSequence) {
			t.Fatalf("%s planned %d stages, want %d", name, len(res.WorkflowIDs), len(stageSequence))
		}
		all = append(all, res.WorkflowIDs...)
	}

	insts := waitForWorkflows(t, c, all)
	for id, inst := range insts {
		if inst.Status != pipeline.StatusCompleted {
			t.Fatalf("workflow %s (%s/%s) ended %s (%s)", id, inst.DocumentID, inst.Stage, inst.Status, inst.Error)
		}
	}

	spaces := c.Workspaces()
	if len(spaces) != 1 {
		t.Fatalf("expected 1 workspace, got %d", len(spaces))
	}
	if len(spaces[0].Documents) != len(names) {
		t.Fatalf("expected %d documents, got %d", len(names), len(spaces[0].Documents))
	}
	for _, doc := range spaces[0].Documents {
		if doc.CurrentStage != document.StageCode {
			t.Fatalf("document %s ended at %s, want code", doc.Title, doc.CurrentStage)
		}
	}
}

func TestTransientFailuresRetry(t *testing.T) {
	cfg := testConfig(t)
	var attempts atomic.Int32
	c := startLoom(t, cfg, WithStageExecutor(pipeline.ExecutorFunc(
		func(_ context.Context, inst pipeline.Instance) error {
			if inst.Stage == document.StageVision && attempts.Add(1) <= 2 {
				return fault.New(fault.KindNetwork, "stub", "flaky upstream")
			}
			return nil
		})))

	path := writeDocument(t, cfg.Workspace.Root, "vision.md", "# Vision\n")
	res := c.ProcessDocument(path)
	if res.Error != nil {
		t.Fatalf("submit: %v", res.Error)
	}
	insts := waitForWorkflows(t, c, res.WorkflowIDs)

	vision := insts[res.WorkflowIDs[0]]
	if vision.Status != pipeline.StatusCompleted {
		t.Fatalf("vision ended %s (%s)", vision.Status, vision.Error)
	}
	if vision.RetryCount != 2 {
		t.Fatalf("expected 2 retries, got %d", vision.RetryCount)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts total, got %d", got)
	}
}

func TestValidationFailureRollsBackAndResubmitResumes(t *testing.T) {
	cfg := testConfig(t)
	var rejected atomic.Bool
	c := startLoom(t, cfg, WithStageExecutor(pipeline.ExecutorFunc(
		func(_ context.Context, inst pipeline.Instance) error {
			if inst.Stage == document.StagePRD && rejected.CompareAndSwap(false, true) {
				return fault.New(fault.KindValidation, "stub", "prd rejected")
			}
			return nil
		})))

	path := writeDocument(t, cfg.Workspace.Root, "vision.md", "# Vision\n")
	first := c.ProcessDocument(path)
	if first.Error != nil {
		t.Fatalf("submit: %v", first.Error)
	}
	insts := waitForWorkflows(t, c, first.WorkflowIDs)

	prd := insts[first.WorkflowIDs[2]]
	if prd.Status != pipeline.StatusFailed || !strings.Contains(prd.Error, "prd rejected") {
		t.Fatalf("unexpected prd outcome: %+v", prd)
	}
	for _, id := range first.WorkflowIDs[3:] {
		inst := insts[id]
		if inst.Status != pipeline.StatusFailed {
			t.Fatalf("downstream %s should fail, got %s", inst.Stage, inst.Status)
		}
		if !strings.Contains(inst.Error, "rolled back") {
			t.Fatalf("downstream %s error should cite rollback: %q", inst.Stage, inst.Error)
		}
	}

	// The validation failure rolled the document back one stage from adr.
	if doc := soleDocument(t, c); doc.CurrentStage != document.StageVision {
		t.Fatalf("document should roll back to vision, got %s", doc.CurrentStage)
	}

	// Re-submitting the same file resumes from the rolled-back stage.
	second := c.ProcessDocument(path)
	if second.Error != nil {
		t.Fatalf("resubmit: %v", second.Error)
	}
	if len(second.WorkflowIDs) != 6 {
		t.Fatalf("expected 6 remaining stages, got %d", len(second.WorkflowIDs))
	}
	for id, inst := range waitForWorkflows(t, c, second.WorkflowIDs) {
		if inst.Status != pipeline.StatusCompleted {
			t.Fatalf("workflow %s ended %s (%s)", id, inst.Status, inst.Error)
		}
	}
	if doc := soleDocument(t, c); doc.CurrentStage != document.StageCode {
		t.Fatalf("document should finish at code, got %s", doc.CurrentStage)
	}
}

func TestDegradedInitializationKeepsProcessing(t *testing.T) {
	cfg := testConfig(t)
	blocker := writeDocument(t, cfg.Workspace.Root, "blocker", "not a directory\n")
	cfg.Export.OutputPath = filepath.Join(blocker, "exports")

	c := startLoom(t, cfg)
	status := c.SystemStatus()
	if status.State != StateDegraded {
		t.Fatalf("expected degraded state, got %s", status.State)
	}
	if !status.Healthy() {
		t.Fatalf("degraded coordinator should stay healthy")
	}
	if st := status.Component(export.Name); st.State != subsystem.StateError {
		t.Fatalf("export component should report error, got %+v", st)
	}
	if st := status.Component(memory.Name); st.State != subsystem.StateReady {
		t.Fatalf("memory component should be ready, got %+v", st)
	}

	path := writeDocument(t, cfg.Workspace.Root, "vision.md", "# Vision\n")
	res := c.ProcessDocument(path)
	if res.Error != nil {
		t.Fatalf("degraded coordinator should accept documents: %v", res.Error)
	}
	for id, inst := range waitForWorkflows(t, c, res.WorkflowIDs) {
		if inst.Status != pipeline.StatusCompleted {
			t.Fatalf("workflow %s ended %s (%s)", id, inst.Status, inst.Error)
		}
	}

	if exp := c.ExportSystemData("json"); exp.Error == nil {
		t.Fatalf("export should fail while its subsystem is down")
	}
	if report := c.GenerateSystemReport(); !strings.Contains(report, "Loom System Report") {
		t.Fatalf("report should render regardless: %q", report)
	}
}

func TestShutdownIsIdempotentAndClosesIntake(t *testing.T) {
	cfg := testConfig(t)
	c := startLoom(t, cfg)

	path := writeDocument(t, cfg.Workspace.Root, "vision.md", "# Vision\n")
	res := c.ProcessDocument(path)
	if res.Error != nil {
		t.Fatalf("submit: %v", res.Error)
	}
	waitForWorkflows(t, c, res.WorkflowIDs)

	ctx := context.Background()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown should be a no-op: %v", err)
	}

	status := c.SystemStatus()
	if status.State != StateShutdown || status.Healthy() {
		t.Fatalf("unexpected post-shutdown status: %+v", status.State)
	}

	after := c.ProcessDocument(path)
	if after.Error == nil {
		t.Fatalf("intake should be closed after shutdown")
	}
	if kind := fault.KindOf(after.Error); kind != fault.KindValidation {
		t.Fatalf("expected validation fault, got %s", kind)
	}
}

func TestShutdownFailsInstancesNeverAdmitted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.DrainTimeout = Duration(50 * time.Millisecond)
	started := make(chan struct{}, 1)
	c := startLoom(t, cfg, WithStageExecutor(pipeline.ExecutorFunc(
		func(ctx context.Context, inst pipeline.Instance) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		})))

	path := writeDocument(t, cfg.Workspace.Root, "vision.md", "# Vision\n")
	res := c.ProcessDocument(path)
	if res.Error != nil {
		t.Fatalf("submit: %v", res.Error)
	}
	<-started

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	sawQueueFailure := false
	for _, inst := range c.Instances() {
		if !inst.Status.Terminal() {
			t.Fatalf("instance %s still %s after shutdown", inst.ID, inst.Status)
		}
		if strings.Contains(inst.Error, "shut down before admission") {
			sawQueueFailure = true
		}
	}
	if !sawQueueFailure {
		t.Fatalf("queued instances should fail with a shutdown reason")
	}
}

func TestWorkspaceResolutionSharesCanonicalRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workspace.AutoDetect = true
	c := startLoom(t, cfg)

	nested := filepath.Join(cfg.Workspace.Root, "docs")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	first := c.ProcessDocument(writeDocument(t, cfg.Workspace.Root, "a.md", "# A\n"))
	if first.Error != nil {
		t.Fatalf("submit a: %v", first.Error)
	}
	// The nested file walks up to the same .loom-marked root.
	second := c.ProcessDocument(writeDocument(t, nested, "b.md", "# B\n"))
	if second.Error != nil {
		t.Fatalf("submit b: %v", second.Error)
	}
	waitForWorkflows(t, c, append(append([]string(nil), first.WorkflowIDs...), second.WorkflowIDs...))

	if spaces := c.Workspaces(); len(spaces) != 1 {
		t.Fatalf("expected one shared workspace, got %d", len(spaces))
	}
	waitForStatus(t, c, func(s SystemStatus) bool { return s.Documents == 2 })

	// A file outside any marked tree gets its own workspace.
	outside := c.ProcessDocument(writeDocument(t, t.TempDir(), "c.md", "# C\n"))
	if outside.Error != nil {
		t.Fatalf("submit c: %v", outside.Error)
	}
	waitForWorkflows(t, c, outside.WorkflowIDs)
	if spaces := c.Workspaces(); len(spaces) != 2 {
		t.Fatalf("expected a second workspace, got %d", len(spaces))
	}
}

func TestExportRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	c := startLoom(t, cfg)

	path := writeDocument(t, cfg.Workspace.Root, "vision.md", "# Vision\n")
	res := c.ProcessDocument(path)
	if res.Error != nil {
		t.Fatalf("submit: %v", res.Error)
	}
	waitForWorkflows(t, c, res.WorkflowIDs)

	exp := c.ExportSystemData("yaml")
	if exp.Error != nil || !exp.Success {
		t.Fatalf("export: %+v", exp)
	}
	if dir := filepath.Dir(exp.Filename); dir != filepath.Join(cfg.Workspace.Root, ".loom", "exports") {
		t.Fatalf("export landed in %s", dir)
	}
	data, err := os.ReadFile(exp.Filename)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var snap export.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if snap.Version != Version || len(snap.Workspaces) != 1 {
		t.Fatalf("unexpected snapshot: version=%s workspaces=%d", snap.Version, len(snap.Workspaces))
	}
	if snap.Stats.Completed != len(stageSequence) || len(snap.Instances) != len(stageSequence) {
		t.Fatalf("unexpected snapshot stats: %+v", snap.Stats)
	}

	// The empty format falls back to the configured default.
	if exp := c.ExportSystemData(""); exp.Error != nil || filepath.Ext(exp.Filename) != ".json" {
		t.Fatalf("default export: %+v", exp)
	}
	if exp := c.ExportSystemData("xml"); fault.KindOf(exp.Error) != fault.KindValidation {
		t.Fatalf("unknown format should be rejected, got %+v", exp)
	}
}

func TestGenerateSystemReport(t *testing.T) {
	cfg := testConfig(t)
	c := startLoom(t, cfg)

	res := c.ProcessDocument(writeDocument(t, cfg.Workspace.Root, "vision.md", "# Billing Vision\n"))
	if res.Error != nil {
		t.Fatalf("submit: %v", res.Error)
	}
	waitForWorkflows(t, c, res.WorkflowIDs)

	report := c.GenerateSystemReport()
	for _, want := range []string{"# Loom System Report", cfg.Workspace.Root, "Billing Vision"} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
}

// phaseRecorder runs stages instantly and logs refinement phases.
type phaseRecorder struct {
	mu     sync.Mutex
	phases []string
}

func (p *phaseRecorder) ExecuteStage(context.Context, pipeline.Instance) error { return nil }

func (p *phaseRecorder) ExecutePhase(_ context.Context, inst pipeline.Instance, phase string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, inst.Stage.String()+":"+phase)
	return nil
}

func (p *phaseRecorder) log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.phases...)
}

func TestRefinementMethodologyFromPlugin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.EnableRefinement = true
	pluginDir := filepath.Join(cfg.Workspace.Root, ".loom", "plugins")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatalf("mkdir plugins: %v", err)
	}
	writeDocument(t, pluginDir, "default.yaml", `name: default
stages: [task, code]
phases: [outline, build]
`)

	rec := &phaseRecorder{}
	c := startLoom(t, cfg, WithStageExecutor(rec))

	res := c.ProcessDocument(writeDocument(t, cfg.Workspace.Root, "vision.md", "# Vision\n"))
	if res.Error != nil {
		t.Fatalf("submit: %v", res.Error)
	}
	insts := waitForWorkflows(t, c, res.WorkflowIDs)

	for _, id := range res.WorkflowIDs {
		inst := insts[id]
		if inst.Status != pipeline.StatusCompleted {
			t.Fatalf("workflow %s ended %s (%s)", inst.Stage, inst.Status, inst.Error)
		}
		switch inst.Stage {
		case document.StageTask, document.StageCode:
			if strings.Join(inst.RefinementPhases, ",") != "outline,build" {
				t.Fatalf("%s phases = %v", inst.Stage, inst.RefinementPhases)
			}
		default:
			if len(inst.RefinementPhases) != 0 {
				t.Fatalf("%s should not refine, got %v", inst.Stage, inst.RefinementPhases)
			}
		}
	}
	want := "task:outline,task:build,code:outline,code:build"
	if got := strings.Join(rec.log(), ","); got != want {
		t.Fatalf("phase order %q, want %q", got, want)
	}
}

func TestCreateRequiresLaunchBeforeIntake(t *testing.T) {
	cfg := testConfig(t)
	c, err := Create(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	path := writeDocument(t, cfg.Workspace.Root, "vision.md", "# Vision\n")
	res := c.ProcessDocument(path)
	if res.Error == nil || !strings.Contains(res.Error.Error(), "intake") {
		t.Fatalf("expected closed intake, got %+v", res)
	}

	if err := c.Launch(); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := c.Launch(); err != nil {
		t.Fatalf("second Launch should be a no-op: %v", err)
	}
	res = c.ProcessDocument(path)
	if res.Error != nil {
		t.Fatalf("submit after launch: %v", res.Error)
	}
	waitForWorkflows(t, c, res.WorkflowIDs)
}

func TestProcessDocumentMissingFile(t *testing.T) {
	cfg := testConfig(t)
	c := startLoom(t, cfg)

	res := c.ProcessDocument(filepath.Join(cfg.Workspace.Root, "absent.md"))
	if res.Error == nil {
		t.Fatalf("expected missing file to be rejected")
	}
	if kind := fault.KindOf(res.Error); kind != fault.KindValidation {
		t.Fatalf("expected validation fault, got %s (%v)", kind, res.Error)
	}
}

func TestWebModeServesCoordinatorStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Interface.DefaultMode = "web"
	cfg.Interface.WebPort = 0
	c := startLoom(t, cfg)

	if c.InterfaceMode() != ui.ModeWeb {
		t.Fatalf("expected web mode, got %s", c.InterfaceMode())
	}
	base := c.WebURL()
	if base == "" {
		t.Fatalf("expected a web URL")
	}

	resp, err := http.Get(base + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	var payload struct {
		State   string `json:"state"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if payload.State != string(StateReady) || payload.Version != Version {
		t.Fatalf("unexpected status payload: %+v", payload)
	}
}
