package subsystem

import (
	"context"
	"fmt"
)

// Report captures contract-check results for one adapter.
type Report struct {
	Adapter string
	Errors  []error
}

// IsValid reports whether every check passed.
func (r *Report) IsValid() bool {
	return r != nil && len(r.Errors) == 0
}

func (r *Report) addf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Errorf(format, args...))
}

// Verify drives an adapter through its lifecycle and checks the contract:
// a name, uninitialized before Initialize, ready or degraded after,
// idempotent Initialize and Shutdown, uninitialized again after Shutdown.
// The adapter is shut down when Verify returns.
func Verify(ctx context.Context, a Adapter) *Report {
	report := &Report{Adapter: a.Name()}
	if a.Name() == "" {
		report.addf("adapter name is empty")
	}

	if st := safeStatus(a); st.State != StateUninitialized {
		report.addf("state before initialize = %s, want %s", st.State, StateUninitialized)
	}

	if err := a.Initialize(ctx); err != nil {
		report.addf("initialize: %v", err)
		return report
	}
	st := safeStatus(a)
	if st.State != StateReady && st.State != StateDegraded {
		report.addf("state after initialize = %s, want %s or %s", st.State, StateReady, StateDegraded)
	}

	if err := a.Initialize(ctx); err != nil {
		report.addf("second initialize: %v", err)
	}
	if again := safeStatus(a); again.State != st.State {
		report.addf("second initialize changed state from %s to %s", st.State, again.State)
	}

	if err := a.Shutdown(ctx); err != nil {
		report.addf("shutdown: %v", err)
	}
	if st := safeStatus(a); st.State != StateUninitialized {
		report.addf("state after shutdown = %s, want %s", st.State, StateUninitialized)
	}
	if err := a.Shutdown(ctx); err != nil {
		report.addf("second shutdown: %v", err)
	}
	return report
}
