package core

import (
	"errors"
	"fmt"
)

// Pipeline errors.
var (
	// ErrDependencyUnmet indicates an enabled stage depends on a stage
	// that is not enabled. Raised before any side effect.
	ErrDependencyUnmet = errors.New("dependency_unmet")

	// ErrNoFrames indicates a stage requiring extracted frames found none.
	ErrNoFrames = errors.New("no frames available")

	// ErrNoAudio indicates a stage requiring extracted audio found none.
	ErrNoAudio = errors.New("no audio available")

	// ErrNoSignals indicates no analysable content reached the stage.
	ErrNoSignals = errors.New("no content signals available")
)

// StageError wraps a stage failure with its identity.
type StageError struct {
	StageID   string
	StageName string
	Err       error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (%s): %v", e.StageName, e.StageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError.
func NewStageError(stageID, stageName string, err error) *StageError {
	return &StageError{StageID: stageID, StageName: stageName, Err: err}
}
