package pipeline

import "context"

// StageExecutor performs the work of one stage instance. Implementations
// classify failures with fault kinds: transient kinds are retried,
// validation failures roll the document back, anything else fails the
// chain.
type StageExecutor interface {
	ExecuteStage(ctx context.Context, inst Instance) error
}

// PhaseExecutor is an optional upgrade for executors that run refinement
// phases themselves. Executors without it still get phases recorded on the
// instance.
type PhaseExecutor interface {
	ExecutePhase(ctx context.Context, inst Instance, phase string) error
}

// ExecutorFunc adapts a function to StageExecutor.
type ExecutorFunc func(ctx context.Context, inst Instance) error

func (f ExecutorFunc) ExecuteStage(ctx context.Context, inst Instance) error {
	return f(ctx, inst)
}

// NopExecutor completes every stage immediately.
func NopExecutor() StageExecutor {
	return ExecutorFunc(func(context.Context, Instance) error { return nil })
}
