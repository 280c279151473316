package state

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// InterruptedError is the error text stored on tasks failed by recovery.
const InterruptedError = "interrupted: the process running this task exited before it finished"

// InterruptedTask is a task left processing by a process that is gone.
type InterruptedTask struct {
	TaskID    string
	Task      string
	CreatedAt time.Time
	OwnerPID  int
}

// RecoveryManager handles detection and recovery of interrupted tasks.
type RecoveryManager struct {
	db     *DB
	logger *zap.SugaredLogger
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db, logger: logging.Default}
}

// WithLogger sets the manager's logger.
func (rm *RecoveryManager) WithLogger(l *zap.SugaredLogger) *RecoveryManager {
	rm.logger = logging.OrDefault(l)
	return rm
}

// CheckForInterrupted lists processing tasks whose owning process is no
// longer alive. Tasks owned by the current process are never reported.
func (rm *RecoveryManager) CheckForInterrupted() ([]InterruptedTask, error) {
	tasks, err := rm.db.ListTasksByStatus(models.TaskStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("list processing tasks: %w", err)
	}

	self := os.Getpid()
	var out []InterruptedTask
	for _, t := range tasks {
		if t.OwnerPID == self {
			continue
		}
		if t.OwnerPID > 0 && isProcessAlive(t.OwnerPID) {
			continue
		}
		out = append(out, InterruptedTask{
			TaskID:    t.ID,
			Task:      t.Task,
			CreatedAt: t.CreatedAt,
			OwnerPID:  t.OwnerPID,
		})
	}
	return out, nil
}

// Recover marks every interrupted task as failed and returns how many were
// marked.
func (rm *RecoveryManager) Recover() (int, error) {
	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		return 0, err
	}

	for _, it := range interrupted {
		if err := rm.db.UpdateTaskStatus(it.TaskID, models.TaskStatusFailed, InterruptedError); err != nil {
			return 0, fmt.Errorf("fail task %s: %w", it.TaskID, err)
		}
		rm.logger.Warnw("marked interrupted task as failed", "task_id", it.TaskID, "owner_pid", it.OwnerPID)
	}
	return len(interrupted), nil
}

// RecoverInterrupted marks tasks left processing by a crashed process as
// failed.
func (db *DB) RecoverInterrupted() (int, error) {
	return NewRecoveryManager(db).Recover()
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without delivering anything.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
