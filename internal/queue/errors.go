package queue

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxTaskLength is the longest task text accepted, in characters.
const MaxTaskLength = 5000

var (
	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = errors.New("queue: backlog full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("queue: dispatcher stopped")
)

// ValidationError reports a task rejected before any agent runs.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateTask checks that task is non-blank and at most MaxTaskLength
// characters long.
func ValidateTask(task string) error {
	if strings.TrimSpace(task) == "" {
		return &ValidationError{Field: "task", Message: "must not be empty"}
	}
	if n := utf8.RuneCountInString(task); n > MaxTaskLength {
		return &ValidationError{
			Field:   "task",
			Message: fmt.Sprintf("must be at most %d characters, got %d", MaxTaskLength, n),
		}
	}
	return nil
}
