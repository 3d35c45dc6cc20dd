package pipeline

import (
	"time"

	"github.com/kingrea/loom/internal/document"
)

// DefaultRefinementPhases is the built-in refinement methodology applied
// when no plugin supplies one.
var DefaultRefinementPhases = []string{
	"specification",
	"pseudocode",
	"architecture",
	"refinement",
	"completion",
}

// Config bounds engine concurrency and retry behavior.
type Config struct {
	// MaxConcurrent caps admitted instances; the rest queue FIFO.
	MaxConcurrent int
	// MaxRetries bounds transient-error retries per instance. Zero means
	// the default of 3; negative disables retries.
	MaxRetries int
	// RetryBaseDelay is the first backoff delay; each retry doubles it.
	RetryBaseDelay time.Duration
	// MaxRequeueAttempts bounds how often a blocked instance returns to
	// the queue before it fails.
	MaxRequeueAttempts int
	// DrainTimeout is how long Shutdown waits for in-flight instances
	// before cancelling them.
	DrainTimeout time.Duration

	EnableRefinement bool
	// RefinementStages lists the stages that run the refinement
	// sub-pipeline after their own execution.
	RefinementStages []document.Stage
	// RefinementPhases is the phase sequence; empty means the default
	// methodology.
	RefinementPhases []string
}

func (c Config) normalized() Config {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 4
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.MaxRequeueAttempts < 1 {
		c.MaxRequeueAttempts = 8
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	if c.EnableRefinement {
		if len(c.RefinementStages) == 0 {
			c.RefinementStages = []document.Stage{document.StageFeature, document.StageTask}
		}
		if len(c.RefinementPhases) == 0 {
			c.RefinementPhases = append([]string(nil), DefaultRefinementPhases...)
		}
	}
	return c
}

func (c Config) refinesStage(stage document.Stage) bool {
	if !c.EnableRefinement {
		return false
	}
	for _, s := range c.RefinementStages {
		if s == stage {
			return true
		}
	}
	return false
}
