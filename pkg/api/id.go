package api

import "github.com/google/uuid"

type (
	// RunID uniquely identifies a single flow run
	RunID string

	// StepID uniquely identifies a step trace within a run
	StepID string
)

// NewRunID returns a fresh random run identifier
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

// NewStepID returns a fresh random step identifier
func NewStepID() StepID {
	return StepID(uuid.NewString())
}
