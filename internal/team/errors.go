package team

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress is returned when Run is called while another run of the
	// same Team is active.
	ErrRunInProgress = errors.New("team: run already in progress")
	// ErrEmptyTask is returned for a blank task.
	ErrEmptyTask = errors.New("team: task is empty")
	// ErrNoParticipants is returned when selection leaves nobody to speak.
	ErrNoParticipants = errors.New("team: no participants")
)

// RunError reports a failed run. Transcript is how many messages had been
// emitted, including the task turn, when the run stopped.
type RunError struct {
	Transcript int
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("research run failed after %d messages: %v", e.Transcript, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
