package models

// TaskStatus represents the lifecycle state of a research task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued and has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusProcessing indicates a team is working on the task.
	TaskStatusProcessing TaskStatus = "processing"
	// TaskStatusCompleted indicates the team finished and results are stored.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the run aborted.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}
