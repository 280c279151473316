package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/roundtable/pkg/models"
)

// DefaultPerPage is the page size used when none is given.
const DefaultPerPage = 20

// MaxPerPage bounds the page size.
const MaxPerPage = 100

// ResearchTask is a submitted research task and its lifecycle.
type ResearchTask struct {
	ID          string            `json:"id"`
	Task        string            `json:"task"`
	Status      models.TaskStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	// OwnerPID is the process working on the task while it is processing.
	OwnerPID int `json:"-"`
}

// NewResearchTask returns a pending task with a fresh ID.
func NewResearchTask(task, userID string) *ResearchTask {
	return &ResearchTask{
		ID:        uuid.NewString(),
		Task:      task,
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now().UTC(),
		UserID:    userID,
	}
}

// ListOptions filters and pages ListTasks.
type ListOptions struct {
	Status  models.TaskStatus
	Page    int
	PerPage int
}

func (o ListOptions) normalized() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage < 1 {
		o.PerPage = DefaultPerPage
	}
	if o.PerPage > MaxPerPage {
		o.PerPage = MaxPerPage
	}
	return o
}

// TaskPage is one page of tasks, newest first.
type TaskPage struct {
	Tasks   []ResearchTask `json:"tasks"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
	Pages   int            `json:"pages"`
}

const taskColumns = `id, task, status, created_at, completed_at, error, user_id, owner_pid`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*ResearchTask, error) {
	var (
		t           ResearchTask
		createdAt   string
		completedAt sql.NullString
		errText     sql.NullString
		userID      sql.NullString
	)
	if err := r.Scan(&t.ID, &t.Task, &t.Status, &createdAt, &completedAt, &errText, &userID, &t.OwnerPID); err != nil {
		return nil, err
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.CompletedAt = parseNullableTime(completedAt)
	t.Error = errText.String
	t.UserID = userID.String
	return &t, nil
}

// CreateTask inserts a new task.
func (db *DB) CreateTask(t *ResearchTask) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var completedAt *string
	if t.CompletedAt != nil {
		s := formatTime(*t.CompletedAt)
		completedAt = &s
	}

	_, err := db.Exec(`
		INSERT INTO research_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Task, string(t.Status), formatTime(t.CreatedAt), completedAt,
		nullString(t.Error), nullString(t.UserID), t.OwnerPID)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. It returns ErrNotFound for an unknown ID.
func (db *DB) GetTask(id string) (*ResearchTask, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM research_tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTaskStatus moves a task to status. Terminal statuses stamp
// completed_at; processing records the calling process as owner.
func (db *DB) UpdateTaskStatus(id string, status models.TaskStatus, errText string) error {
	if !status.Valid() {
		return fmt.Errorf("update task: invalid status %q", status)
	}

	var completedAt *string
	if status.Terminal() {
		s := formatTime(time.Now())
		completedAt = &s
	}
	owner := 0
	if status == models.TaskStatusProcessing {
		owner = os.Getpid()
	}

	res, err := db.Exec(`
		UPDATE research_tasks SET status = ?, completed_at = ?, error = ?, owner_pid = ?
		WHERE id = ?
	`, string(status), completedAt, nullString(errText), owner, id)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask deletes a task together with its messages and metrics.
func (db *DB) DeleteTask(id string) error {
	err := db.Transaction(func(tx *sql.Tx) error {
		if err := deleteTaskTx(tx, "id = ?", id); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// deleteTaskTx removes the tasks matching where and their dependent rows.
// Children are removed explicitly so the result does not depend on the
// connection's foreign_keys setting.
func deleteTaskTx(tx *sql.Tx, where string, args ...any) error {
	sub := `SELECT id FROM research_tasks WHERE ` + where
	if _, err := tx.Exec(`DELETE FROM agent_messages WHERE task_id IN (`+sub+`)`, args...); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM task_metrics WHERE task_id IN (`+sub+`)`, args...); err != nil {
		return err
	}
	_, err := tx.Exec(`DELETE FROM research_tasks WHERE `+where, args...)
	return err
}

// ListTasks returns a page of tasks, newest first, optionally filtered by status.
func (db *DB) ListTasks(opts ListOptions) (*TaskPage, error) {
	opts = opts.normalized()

	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &TaskPage{Page: opts.Page, PerPage: opts.PerPage, Tasks: []ResearchTask{}}
	if err := db.QueryRow(`SELECT COUNT(*) FROM research_tasks`+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	page.Pages = (page.Total + opts.PerPage - 1) / opts.PerPage

	rows, err := db.Query(`SELECT `+taskColumns+` FROM research_tasks`+clause+
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, opts.PerPage, (opts.Page-1)*opts.PerPage)...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		page.Tasks = append(page.Tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return page, nil
}

// ListTasksByStatus returns every task with status, oldest first.
func (db *DB) ListTasksByStatus(status models.TaskStatus) ([]ResearchTask, error) {
	rows, err := db.Query(`SELECT `+taskColumns+` FROM research_tasks WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []ResearchTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// PurgeOlderThan deletes tasks created before now minus olderThan, with their
// messages and metrics. Returns the number of tasks deleted.
func (db *DB) PurgeOlderThan(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	var count int64
	err := db.Transaction(func(tx *sql.Tx) error {
		if err := tx.QueryRow(`SELECT COUNT(*) FROM research_tasks WHERE created_at < ?`, cutoff).Scan(&count); err != nil {
			return err
		}
		return deleteTaskTx(tx, "created_at < ?", cutoff)
	})
	if err != nil {
		return 0, fmt.Errorf("purge old tasks: %w", err)
	}
	return count, nil
}
