// Package document defines the artifacts the pipeline transforms: typed
// documents, their stage position, and the loaders that resolve raw content.
package document

import "fmt"

// Stage identifies one of the seven ordered transformation phases.
type Stage string

const (
	StageVision  Stage = "vision"
	StageADR     Stage = "adr"
	StagePRD     Stage = "prd"
	StageEpic    Stage = "epic"
	StageFeature Stage = "feature"
	StageTask    Stage = "task"
	StageCode    Stage = "code"
)

// StageNone marks a document that has not completed any stage yet.
const StageNone Stage = ""

var stageOrder = []Stage{
	StageVision,
	StageADR,
	StagePRD,
	StageEpic,
	StageFeature,
	StageTask,
	StageCode,
}

// Stages returns the pipeline order, first to last.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// FirstStage is the pipeline entry stage.
func FirstStage() Stage {
	return stageOrder[0]
}

// FinalStage is the last pipeline stage.
func FinalStage() Stage {
	return stageOrder[len(stageOrder)-1]
}

// Index returns the zero-based position in the pipeline, or -1 for
// StageNone and unknown values.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s names a pipeline stage.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Next returns the following stage, or false at the end of the pipeline.
// StageNone advances to the first stage.
func (s Stage) Next() (Stage, bool) {
	if s == StageNone {
		return stageOrder[0], true
	}
	idx := s.Index()
	if idx+1 >= len(stageOrder) || idx < 0 {
		return StageNone, false
	}
	return stageOrder[idx+1], true
}

// Prev returns the preceding stage; the first stage precedes to StageNone.
func (s Stage) Prev() Stage {
	idx := s.Index()
	if idx <= 0 {
		return StageNone
	}
	return stageOrder[idx-1]
}

// Before reports whether s strictly precedes other in pipeline order.
// StageNone precedes every valid stage.
func (s Stage) Before(other Stage) bool {
	return s.Index() < other.Index()
}

func (s Stage) String() string {
	if s == StageNone {
		return "none"
	}
	return string(s)
}

// ParseStage resolves a stage name, accepting "none" for StageNone.
func ParseStage(value string) (Stage, error) {
	if value == "" || value == "none" {
		return StageNone, nil
	}
	candidate := Stage(value)
	if !candidate.Valid() {
		return StageNone, fmt.Errorf("document: unknown stage %q", value)
	}
	return candidate, nil
}
