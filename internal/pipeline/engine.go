package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/loom/fault"
	"github.com/kingrea/loom/internal/document"
	"github.com/kingrea/loom/internal/event"
	"github.com/kingrea/loom/internal/logging"
	"github.com/kingrea/loom/internal/workspace"
)

// ErrUnknownWorkflow reports a workflow id the engine never issued.
var ErrUnknownWorkflow = errors.New("pipeline: unknown workflow")

type engineState int

const (
	stateIdle engineState = iota
	stateRunning
	stateDraining
	stateStopped
)

type chainState struct {
	key       string
	remaining int
}

// Engine admits planned instances FIFO under a concurrency cap and drives
// each admitted instance to a terminal status. The workspace registry is
// the only thing it mutates document stages through.
type Engine struct {
	cfg      Config
	registry *workspace.Registry
	bus      *event.Bus
	logger   logging.Logger
	exec     StageExecutor
	clock    func() time.Time
	archive  *Archive

	mu        sync.Mutex
	state     engineState
	instances map[string]*Instance
	order     []string
	queue     []string
	next      map[string]string
	prev      map[string]string
	chains    map[string]*chainState
	active    map[string]string
	running   int
	toArchive []Instance

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	drainDone chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger routes engine logging to logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithExecutor sets the stage executor.
func WithExecutor(exec StageExecutor) Option {
	return func(e *Engine) {
		if exec != nil {
			e.exec = exec
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithArchive persists terminal instances to a.
func WithArchive(a *Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// New returns an engine over registry publishing on bus. Call Start before
// submitting.
func New(cfg Config, registry *workspace.Registry, bus *event.Bus, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg.normalized(),
		registry:  registry,
		bus:       bus,
		logger:    logging.Nop(),
		exec:      NopExecutor(),
		clock:     time.Now,
		instances: make(map[string]*Instance),
		next:      make(map[string]string),
		prev:      make(map[string]string),
		chains:    make(map[string]*chainState),
		active:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start makes the engine accept submissions. ctx bounds every instance run;
// cancelling it cancels in-flight work. Starting a running engine is a
// no-op, starting a stopped one is an error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case stateRunning:
		return nil
	case stateDraining, stateStopped:
		return fault.New(fault.KindValidation, "pipeline", "engine already shut down")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.state = stateRunning
	return nil
}

// Submit plans one instance per remaining stage of the document, enqueues
// them in order and returns their workflow ids. A document with an active
// chain cannot be submitted again until that chain settles.
func (e *Engine) Submit(workspaceID, documentID string) ([]string, error) {
	doc, err := e.registry.Document(workspaceID, documentID)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, "pipeline", err)
	}
	stages := remainingStages(doc.CurrentStage)
	if len(stages) == 0 {
		return nil, fault.New(fault.KindValidation, "pipeline",
			fmt.Sprintf("document %s already at final stage %s", documentID, doc.CurrentStage))
	}

	key := chainKey(workspaceID, documentID)
	now := e.clock()
	var evts []event.Event

	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return nil, fault.New(fault.KindValidation, "pipeline", "engine not running")
	}
	if chainID, ok := e.active[key]; ok {
		e.mu.Unlock()
		return nil, fault.New(fault.KindValidation, "pipeline",
			fmt.Sprintf("document %s already has active chain %s", documentID, chainID))
	}

	chainID := uuid.NewString()
	ids := make([]string, 0, len(stages))
	prevID := ""
	for _, stage := range stages {
		inst := &Instance{
			ID:          uuid.NewString(),
			ChainID:     chainID,
			WorkspaceID: workspaceID,
			DocumentID:  documentID,
			Stage:       stage,
			Status:      StatusPending,
			EnqueuedAt:  now,
		}
		e.instances[inst.ID] = inst
		e.order = append(e.order, inst.ID)
		e.queue = append(e.queue, inst.ID)
		if prevID != "" {
			e.next[prevID] = inst.ID
			e.prev[inst.ID] = prevID
		}
		prevID = inst.ID
		ids = append(ids, inst.ID)
	}
	e.chains[chainID] = &chainState{key: key, remaining: len(ids)}
	e.active[key] = chainID
	evts = append(evts, event.Event{
		Kind:        event.KindDocumentEnqueued,
		WorkspaceID: workspaceID,
		DocumentID:  documentID,
		Stage:       stages[0].String(),
		Message:     fmt.Sprintf("%d stages planned", len(ids)),
	})
	e.dispatchLocked(&evts)
	e.mu.Unlock()

	e.flush(evts)
	e.logger.Printf("submitted document=%s chain=%s stages=%d", documentID, chainID, len(ids))
	return ids, nil
}

// dispatchLocked admits queue heads in FIFO order while slots remain. An
// instance whose guard is not yet satisfied parks as blocked, off the run
// queue, until its predecessor settles; waiting spends no requeue budget.
func (e *Engine) dispatchLocked(evts *[]event.Event) {
	if e.state != stateRunning {
		return
	}
	for e.running < e.cfg.MaxConcurrent && len(e.queue) > 0 {
		id := e.queue[0]
		e.queue = e.queue[1:]
		inst, ok := e.instances[id]
		if !ok || inst.Status.Terminal() {
			continue
		}
		ready, guardErr := e.guardLocked(inst)
		switch {
		case guardErr != nil:
			e.terminalLocked(inst, StatusFailed, guardErr, evts)
		case ready:
			e.admitLocked(inst, evts)
		default:
			e.parkLocked(inst, evts)
		}
	}
}

// parkLocked sets a guard-waiting instance aside until its predecessor
// settles. releaseSuccessorLocked puts it back on the queue; a failed
// predecessor reaches it through failDownstreamLocked.
func (e *Engine) parkLocked(inst *Instance, evts *[]event.Event) {
	inst.Status = StatusBlocked
	*evts = append(*evts, event.Event{
		Kind:        event.KindWorkflowBlocked,
		WorkspaceID: inst.WorkspaceID,
		DocumentID:  inst.DocumentID,
		WorkflowID:  inst.ID,
		Stage:       inst.Stage.String(),
		Message:     fmt.Sprintf("awaiting %s completion", inst.Stage.Prev()),
	})
}

// releaseSuccessorLocked requeues the parked successor of a completed
// instance. The requeue is the charged step: a successor over the attempt
// cap fails instead of rejoining the queue.
func (e *Engine) releaseSuccessorLocked(id string, evts *[]event.Event) {
	nextID, ok := e.next[id]
	if !ok {
		return
	}
	succ := e.instances[nextID]
	if succ == nil || succ.Status != StatusBlocked {
		return
	}
	succ.RequeueCount++
	if succ.RequeueCount > e.cfg.MaxRequeueAttempts {
		e.terminalLocked(succ, StatusFailed, fault.New(fault.KindResource, "pipeline",
			fmt.Sprintf("requeue budget exhausted after %d attempts", succ.RequeueCount-1)), evts)
		return
	}
	succ.Status = StatusPending
	// Everything still queued behind a parked successor was submitted
	// after it, so rejoining at the head keeps admission FIFO.
	e.queue = append([]string{succ.ID}, e.queue...)
	*evts = append(*evts, event.Event{
		Kind:        event.KindWorkflowRequeued,
		WorkspaceID: succ.WorkspaceID,
		DocumentID:  succ.DocumentID,
		WorkflowID:  succ.ID,
		Stage:       succ.Stage.String(),
		Message:     fmt.Sprintf("%s completed, requeued (attempt %d)", succ.Stage.Prev(), succ.RequeueCount),
	})
}

// guardLocked decides whether inst may enter its stage. A non-nil error
// means the guard can never pass and the instance must fail.
func (e *Engine) guardLocked(inst *Instance) (bool, error) {
	if prevID, ok := e.prev[inst.ID]; ok {
		pred := e.instances[prevID]
		switch pred.Status {
		case StatusCompleted:
			return true, nil
		case StatusFailed:
			return false, fmt.Errorf("predecessor stage %s failed", pred.Stage)
		default:
			return false, nil
		}
	}
	doc, err := e.registry.Document(inst.WorkspaceID, inst.DocumentID)
	if err != nil {
		return false, fault.Wrap(fault.KindValidation, "pipeline", err)
	}
	if doc.CurrentStage == inst.Stage.Prev() {
		return true, nil
	}
	return false, fault.New(fault.KindValidation, "pipeline",
		fmt.Sprintf("document at %s cannot enter %s", doc.CurrentStage, inst.Stage))
}

// admitLocked moves a ready instance into its slot. The workspace's
// active set tracks admitted instances only, so it stays bounded by
// MaxConcurrent like the running counter.
func (e *Engine) admitLocked(inst *Instance, evts *[]event.Event) {
	inst.Status = StatusRunning
	inst.StartedAt = e.clock()
	e.running++
	_ = e.registry.TrackWorkflow(inst.WorkspaceID, inst.ID)
	e.wg.Add(1)
	go e.run(e.ctx, inst.ID, inst.Clone())
	*evts = append(*evts, event.Event{
		Kind:        event.KindWorkflowStarted,
		WorkspaceID: inst.WorkspaceID,
		DocumentID:  inst.DocumentID,
		WorkflowID:  inst.ID,
		Stage:       inst.Stage.String(),
	})
}

// run executes one admitted instance, retrying transient failures with
// exponential backoff until the retry budget runs out.
func (e *Engine) run(ctx context.Context, id string, inst Instance) {
	defer e.wg.Done()

	var execErr error
	for {
		execErr = e.executeOnce(ctx, inst)
		if execErr == nil || !fault.Transient(execErr) {
			break
		}
		if inst.RetryCount >= e.cfg.MaxRetries {
			break
		}
		inst.RetryCount++
		e.noteRetry(inst, execErr)
		if err := e.backoff(ctx, inst.RetryCount); err != nil {
			execErr = err
			break
		}
	}
	if execErr == nil && e.cfg.refinesStage(inst.Stage) {
		execErr = e.refine(ctx, &inst)
	}
	e.finish(id, inst, execErr)
}

func (e *Engine) executeOnce(ctx context.Context, inst Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.New(fault.KindInternal, "pipeline",
				fmt.Sprintf("stage executor panicked: %v", r))
		}
	}()
	return e.exec.ExecuteStage(ctx, inst)
}

func (e *Engine) backoff(ctx context.Context, retry int) error {
	shift := retry - 1
	if shift > 6 {
		shift = 6
	}
	timer := time.NewTimer(e.cfg.RetryBaseDelay << shift)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) noteRetry(inst Instance, cause error) {
	e.mu.Lock()
	if stored, ok := e.instances[inst.ID]; ok {
		stored.RetryCount = inst.RetryCount
	}
	e.mu.Unlock()
	e.publish(event.Event{
		Kind:        event.KindWorkflowRetrying,
		WorkspaceID: inst.WorkspaceID,
		DocumentID:  inst.DocumentID,
		WorkflowID:  inst.ID,
		Stage:       inst.Stage.String(),
		Message:     fmt.Sprintf("retry %d: %v", inst.RetryCount, cause),
	})
}

// refine runs the refinement phase sequence as a nested instance inside
// the parent's slot. The nested instance carries its own retry budget and
// archive entry; its terminal failure becomes the parent's failure.
func (e *Engine) refine(ctx context.Context, parent *Instance) error {
	now := e.clock()
	child := Instance{
		ID:          uuid.NewString(),
		ChainID:     parent.ChainID,
		ParentID:    parent.ID,
		WorkspaceID: parent.WorkspaceID,
		DocumentID:  parent.DocumentID,
		Stage:       parent.Stage,
		Status:      StatusRunning,
		EnqueuedAt:  now,
		StartedAt:   now,
	}
	e.mu.Lock()
	rec := child.Clone()
	e.instances[child.ID] = &rec
	e.order = append(e.order, child.ID)
	e.mu.Unlock()
	e.publish(event.Event{
		Kind:        event.KindRefinementStarted,
		WorkspaceID: child.WorkspaceID,
		DocumentID:  child.DocumentID,
		WorkflowID:  child.ID,
		Stage:       child.Stage.String(),
		Message:     fmt.Sprintf("%d phases", len(e.cfg.RefinementPhases)),
	})

	phaseErr := e.runPhases(ctx, &child)

	done := event.Event{
		Kind:        event.KindRefinementCompleted,
		WorkspaceID: child.WorkspaceID,
		DocumentID:  child.DocumentID,
		WorkflowID:  child.ID,
		Stage:       child.Stage.String(),
	}
	e.mu.Lock()
	if stored, ok := e.instances[child.ID]; ok {
		stored.RetryCount = child.RetryCount
		stored.FinishedAt = e.clock()
		if phaseErr == nil {
			stored.Status = StatusCompleted
		} else {
			stored.Status = StatusFailed
			stored.Error = failureReason(phaseErr)
			done.Kind = event.KindRefinementFailed
			done.Err = stored.Error
		}
		if e.archive != nil {
			e.toArchive = append(e.toArchive, stored.Clone())
		}
	}
	e.mu.Unlock()
	e.publish(done)
	e.drainArchive()

	if phaseErr != nil {
		return phaseErr
	}
	parent.RefinementPhases = append([]string(nil), child.RefinementPhases...)
	return nil
}

// runPhases drives the configured phases in order. Transient phase
// failures retry with the stage backoff, charged against the nested
// instance's own retry budget.
func (e *Engine) runPhases(ctx context.Context, child *Instance) error {
	phaseExec, hasPhaseExec := e.exec.(PhaseExecutor)
	for _, phase := range e.cfg.RefinementPhases {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !hasPhaseExec {
				break
			}
			err := e.executePhase(ctx, phaseExec, *child, phase)
			if err == nil {
				break
			}
			if !fault.Transient(err) || child.RetryCount >= e.cfg.MaxRetries {
				return fmt.Errorf("refinement phase %s: %w", phase, err)
			}
			child.RetryCount++
			e.noteRetry(*child, err)
			if berr := e.backoff(ctx, child.RetryCount); berr != nil {
				return fmt.Errorf("refinement phase %s: %w", phase, berr)
			}
		}
		child.RefinementPhases = append(child.RefinementPhases, phase)
		e.mu.Lock()
		if stored, ok := e.instances[child.ID]; ok {
			stored.RefinementPhases = append(stored.RefinementPhases, phase)
		}
		e.mu.Unlock()
	}
	return nil
}

func (e *Engine) executePhase(ctx context.Context, exec PhaseExecutor, inst Instance, phase string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.New(fault.KindInternal, "pipeline",
				fmt.Sprintf("phase executor panicked: %v", r))
		}
	}()
	return exec.ExecutePhase(ctx, inst, phase)
}

// finish records the outcome, moves the document, fails any downstream
// instances that can no longer run, and admits the next queue head. The
// registry move and the terminal status land in one critical section so
// no reader can observe the document ahead of its stage instance.
func (e *Engine) finish(id string, inst Instance, execErr error) {
	var evts []event.Event
	var rollbackErr error
	e.mu.Lock()
	stored, ok := e.instances[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	e.running--
	stored.RetryCount = inst.RetryCount
	stored.RefinementPhases = inst.RefinementPhases
	switch {
	case execErr == nil:
		if advanceErr := e.registry.AdvanceStage(inst.WorkspaceID, inst.DocumentID, inst.Stage); advanceErr != nil {
			e.terminalLocked(stored, StatusFailed, fmt.Errorf("advance stage: %w", advanceErr), &evts)
			e.failDownstreamLocked(id, "predecessor stage could not advance", &evts)
		} else {
			e.terminalLocked(stored, StatusCompleted, nil, &evts)
			e.releaseSuccessorLocked(id, &evts)
		}
	case fault.KindOf(execErr) == fault.KindValidation:
		landed, rbErr := e.registry.RollbackStage(inst.WorkspaceID, inst.DocumentID)
		e.terminalLocked(stored, StatusFailed, execErr, &evts)
		if rbErr != nil {
			rollbackErr = rbErr
			e.failDownstreamLocked(id, "predecessor stage failed", &evts)
		} else {
			e.failDownstreamLocked(id, fmt.Sprintf("document rolled back to %s", landed), &evts)
		}
	default:
		e.terminalLocked(stored, StatusFailed, execErr, &evts)
		e.failDownstreamLocked(id, "predecessor stage failed", &evts)
	}
	e.dispatchLocked(&evts)
	e.mu.Unlock()
	if rollbackErr != nil {
		e.logger.Printf("rollback %s: %v", inst.DocumentID, rollbackErr)
	}
	e.flush(evts)
}

// terminalLocked finalizes an instance and releases its chain bookkeeping.
func (e *Engine) terminalLocked(inst *Instance, status Status, cause error, evts *[]event.Event) {
	if inst.Status.Terminal() {
		return
	}
	inst.Status = status
	inst.FinishedAt = e.clock()
	if cause != nil {
		inst.Error = failureReason(cause)
	}
	_ = e.registry.ReleaseWorkflow(inst.WorkspaceID, inst.ID)
	if ch, ok := e.chains[inst.ChainID]; ok {
		ch.remaining--
		if ch.remaining <= 0 {
			delete(e.chains, inst.ChainID)
			if e.active[ch.key] == inst.ChainID {
				delete(e.active, ch.key)
			}
		}
	}
	kind := event.KindWorkflowCompleted
	if status == StatusFailed {
		kind = event.KindWorkflowFailed
	}
	*evts = append(*evts, event.Event{
		Kind:        kind,
		WorkspaceID: inst.WorkspaceID,
		DocumentID:  inst.DocumentID,
		WorkflowID:  inst.ID,
		Stage:       inst.Stage.String(),
		Err:         inst.Error,
	})
	if e.archive != nil {
		e.toArchive = append(e.toArchive, inst.Clone())
	}
}

func (e *Engine) failDownstreamLocked(id, reason string, evts *[]event.Event) {
	for nextID, ok := e.next[id]; ok; nextID, ok = e.next[nextID] {
		inst := e.instances[nextID]
		if inst == nil || inst.Status.Terminal() {
			return
		}
		e.terminalLocked(inst, StatusFailed, errors.New(reason), evts)
	}
}

// failureReason renders a terminal cause, folding context cancellation
// into the stable "cancelled" reason.
func failureReason(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return err.Error()
}

// Shutdown stops admission, fails everything never admitted, waits
// DrainTimeout for in-flight instances, then cancels stragglers. It is
// idempotent and safe to call concurrently.
func (e *Engine) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.Lock()
	switch e.state {
	case stateIdle:
		e.state = stateStopped
		e.mu.Unlock()
		return nil
	case stateStopped:
		e.mu.Unlock()
		return nil
	case stateDraining:
		done := e.drainDone
		e.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fault.Wrap(fault.KindTimeout, "pipeline", ctx.Err())
		}
	}
	e.state = stateDraining
	e.drainDone = make(chan struct{})
	done := e.drainDone
	var evts []event.Event
	for _, id := range e.order {
		inst := e.instances[id]
		if inst == nil {
			continue
		}
		if inst.Status == StatusPending || inst.Status == StatusBlocked {
			e.terminalLocked(inst, StatusFailed, errors.New("engine shut down before admission"), &evts)
		}
	}
	e.queue = nil
	e.mu.Unlock()
	e.flush(evts)

	waited := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waited)
	}()

	timer := time.NewTimer(e.cfg.DrainTimeout)
	defer timer.Stop()
	overran := false
	select {
	case <-waited:
	case <-timer.C:
		overran = true
		e.logger.Printf("drain timeout after %s, cancelling in-flight instances", e.cfg.DrainTimeout)
	case <-ctx.Done():
		overran = true
	}
	if overran {
		e.cancel()
		select {
		case <-waited:
		case <-ctx.Done():
			e.mu.Lock()
			e.state = stateStopped
			e.mu.Unlock()
			close(done)
			return fault.Wrap(fault.KindTimeout, "pipeline", ctx.Err())
		}
	}
	e.cancel()

	e.mu.Lock()
	e.state = stateStopped
	e.mu.Unlock()
	close(done)
	return nil
}

// Stats summarizes instance counts for status snapshots.
type Stats struct {
	Pending      int `json:"pending"`
	Blocked      int `json:"blocked"`
	Running      int `json:"running"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	QueueDepth   int `json:"queueDepth"`
	ActiveChains int `json:"activeChains"`
}

// Stats returns current instance counts.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{QueueDepth: len(e.queue), ActiveChains: len(e.chains)}
	for _, inst := range e.instances {
		switch inst.Status {
		case StatusPending:
			s.Pending++
		case StatusBlocked:
			s.Blocked++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Instance returns a copy of one workflow instance.
func (e *Engine) Instance(id string) (Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[id]
	if !ok {
		return Instance{}, fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	return inst.Clone(), nil
}

// Instances returns copies of every instance in submission order.
func (e *Engine) Instances() []Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Instance, 0, len(e.order))
	for _, id := range e.order {
		if inst, ok := e.instances[id]; ok {
			out = append(out, inst.Clone())
		}
	}
	return out
}

func (e *Engine) publish(ev event.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) flush(evts []event.Event) {
	for _, ev := range evts {
		e.publish(ev)
	}
	e.drainArchive()
}

func (e *Engine) drainArchive() {
	if e.archive == nil {
		return
	}
	e.mu.Lock()
	batch := e.toArchive
	e.toArchive = nil
	e.mu.Unlock()
	for _, inst := range batch {
		if err := e.archive.Save(inst); err != nil {
			e.logger.Printf("archive instance %s: %v", inst.ID, err)
		}
	}
}

func remainingStages(current document.Stage) []document.Stage {
	var out []document.Stage
	for stage, ok := current.Next(); ok; stage, ok = stage.Next() {
		out = append(out, stage)
	}
	return out
}

func chainKey(workspaceID, documentID string) string {
	return workspaceID + "/" + documentID
}
