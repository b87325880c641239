package pipeline

import (
	"errors"
	"fmt"
)

// State enum untuk pipeline analisis
type State string

const (
	StateReceived           State = "received"
	StateEmbeddingGenerated State = "embedding_generated"
	StateContextRetrieved   State = "context_retrieved"
	StateDescribed          State = "described"
	StateMatched            State = "matched"
	StateScoredAndAlerted   State = "scored_and_alerted"
	StateCompared           State = "compared"
	StatePersisted          State = "persisted"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

// Typed causes for a failed analysis attempt. Every collaborator failure is
// wrapped as one of these and surfaces unmodified; nothing is persisted after
// a failure.
var (
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrDescriptionFailed    = errors.New("description failed")
	ErrValidationRejected   = errors.New("validation rejected")
	ErrPersistenceFailed    = errors.New("persistence failed")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
)

// StepError carries the state the pipeline was in when it failed.
type StepError struct {
	State State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("analysis pipeline failed at %s: %v", e.State, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Fail wraps a typed cause with the failing state.
func Fail(state State, err error) *StepError {
	return &StepError{State: state, Err: err}
}
