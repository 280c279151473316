package state

import (
	"context"
	"io"
	"time"

	"github.com/ShayCichocki/roundtable/pkg/models"
)

// TaskStore handles research task persistence.
type TaskStore interface {
	CreateTask(t *ResearchTask) error
	GetTask(id string) (*ResearchTask, error)
	UpdateTaskStatus(id string, status models.TaskStatus, errText string) error
	ListTasks(opts ListOptions) (*TaskPage, error)
	DeleteTask(id string) error
	PurgeOlderThan(olderThan time.Duration) (int64, error)
}

// MessageStore handles transcript persistence.
type MessageStore interface {
	SaveMessage(r *MessageRecord) error
	ListMessages(taskID string) ([]MessageRecord, error)
}

// MetricsStore handles per-task metrics persistence.
type MetricsStore interface {
	SaveMetrics(m *TaskMetrics) error
	GetMetrics(taskID string) (*TaskMetrics, error)
}

// UserStore handles registered users.
type UserStore interface {
	CreateUser(u *User) error
	GetUser(username string) (*User, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the interface for state persistence.
// The server and dispatcher depend on it rather than on the SQLite
// implementation.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	MessageStore
	MetricsStore
	UserStore
	SaveResult(records []MessageRecord, m *TaskMetrics) error
	Ping(ctx context.Context) error
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store        = (*DB)(nil)
	_ Migrator     = (*DB)(nil)
	_ TaskStore    = (*DB)(nil)
	_ MessageStore = (*DB)(nil)
	_ MetricsStore = (*DB)(nil)
	_ UserStore    = (*DB)(nil)
)
