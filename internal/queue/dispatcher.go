// Package queue runs submitted research tasks in the background. A
// Dispatcher hands each job to a worker pool, persists the transcript as it
// streams, caches the finished result and reports progress through a
// Broadcaster.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/cache"
	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/internal/state"
	"github.com/ShayCichocki/roundtable/internal/team"
	"github.com/ShayCichocki/roundtable/internal/tokens"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// Job progress reported around the team's own progress steps.
const (
	ProgressStarting = 10
	ProgressWorking  = 30
	ProgressSaving   = 90
	ProgressDone     = 100
)

const (
	// DefaultWorkers is the default number of concurrent runs.
	DefaultWorkers = 2
	// DefaultBacklog is the default number of queued jobs.
	DefaultBacklog = 100
)

// Runner runs one research conversation. *team.Team implements it.
type Runner interface {
	Run(ctx context.Context, task string, opts ...team.RunOption) (*team.Result, error)
}

// RunnerFactory builds a Runner for one job. A Team allows a single active
// run, so every job gets its own.
type RunnerFactory func() (Runner, error)

// Store is the persistence the dispatcher writes to.
type Store interface {
	UpdateTaskStatus(id string, status models.TaskStatus, errText string) error
	SaveMessage(r *state.MessageRecord) error
	SaveMetrics(m *state.TaskMetrics) error
}

// ResultCache receives finished results.
type ResultCache interface {
	Set(ctx context.Context, task string, e *cache.Entry) error
}

// Job is a queued research task.
type Job struct {
	TaskID string
	Task   string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets how many jobs run at once.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithBacklog sets how many jobs may wait for a worker.
func WithBacklog(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.backlog = n
		}
	}
}

// WithCache stores finished results in c.
func WithCache(c ResultCache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

// WithBroadcaster publishes job updates to b.
func WithBroadcaster(b *Broadcaster) Option {
	return func(d *Dispatcher) { d.broadcaster = b }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrDefault(l) }
}

// WithJobTimeout bounds every run. Zero means no limit.
func WithJobTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.jobTimeout = timeout }
}

// WithTokenModel sets the model whose tokenizer counts persisted messages.
func WithTokenModel(model string) Option {
	return func(d *Dispatcher) { d.tokenModel = model }
}

// WithRunOptions adds run options to every job.
func WithRunOptions(opts ...team.RunOption) Option {
	return func(d *Dispatcher) { d.runOpts = append(d.runOpts, opts...) }
}

// WithModelInfo sets the provider details recorded with each task's metrics.
func WithModelInfo(info map[string]any) Option {
	return func(d *Dispatcher) { d.modelInfo = info }
}

// Dispatcher runs jobs on an ants worker pool.
type Dispatcher struct {
	factory     RunnerFactory
	store       Store
	cache       ResultCache
	broadcaster *Broadcaster
	logger      *zap.SugaredLogger

	workers    int
	backlog    int
	jobTimeout time.Duration
	tokenModel string
	runOpts    []team.RunOption
	modelInfo  map[string]any

	pool    *ants.Pool
	active  atomic.Int32
	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	feeder  sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

type antsLogger struct {
	*zap.SugaredLogger
}

func (l antsLogger) Printf(format string, args ...any) {
	l.Warnf(format, args...)
}

// NewDispatcher creates a Dispatcher and starts its workers.
func NewDispatcher(factory RunnerFactory, store Store, opts ...Option) (*Dispatcher, error) {
	if factory == nil {
		return nil, errors.New("queue: runner factory is required")
	}
	if store == nil {
		return nil, errors.New("queue: store is required")
	}

	d := &Dispatcher{
		factory: factory,
		store:   store,
		logger:  logging.Default,
		workers: DefaultWorkers,
		backlog: DefaultBacklog,
	}
	for _, opt := range opts {
		opt(d)
	}

	pool, err := ants.NewPool(d.workers,
		ants.WithLogger(antsLogger{d.logger}),
		ants.WithPanicHandler(func(p any) {
			d.logger.Errorw("research job panicked", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	d.pool = pool
	d.jobs = make(chan Job, d.backlog)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.feeder.Add(1)
	go d.feed()
	return d, nil
}

func (d *Dispatcher) feed() {
	defer d.feeder.Done()
	for job := range d.jobs {
		d.wg.Add(1)
		// Blocks while every worker is busy.
		if err := d.pool.Submit(func() {
			defer d.wg.Done()
			d.active.Add(1)
			defer d.active.Add(-1)
			d.process(d.ctx, job)
		}); err != nil {
			d.wg.Done()
			d.fail(job, fmt.Errorf("schedule job: %w", err))
		}
	}
}

// Submit queues job. The task must already exist in the store as pending.
func (d *Dispatcher) Submit(job Job) error {
	if err := ValidateTask(job.Task); err != nil {
		return err
	}
	if job.TaskID == "" {
		return &ValidationError{Field: "task_id", Message: "must not be empty"}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.jobs <- job:
		d.logger.Debugw("research job queued", "task_id", job.TaskID)
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs not yet picked up.
func (d *Dispatcher) Pending() int {
	return len(d.jobs)
}

// Running returns the number of jobs in progress.
func (d *Dispatcher) Running() int {
	return int(d.active.Load())
}

// Stop stops accepting jobs and waits for queued and running jobs to finish.
// When ctx ends first, running jobs are cancelled and fail.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.feeder.Wait()
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
		err = ctx.Err()
	}
	d.cancel()
	d.pool.Release()
	return err
}

func (d *Dispatcher) publish(taskID string, typ UpdateType, status models.TaskStatus, percent int, msg string) {
	if d.broadcaster == nil {
		return
	}
	d.broadcaster.Publish(Update{
		TaskID:   taskID,
		Type:     typ,
		Status:   status,
		Progress: percent,
		Message:  msg,
	})
}

func (d *Dispatcher) process(ctx context.Context, job Job) {
	log := d.logger.With("task_id", job.TaskID)
	start := time.Now()

	if err := d.store.UpdateTaskStatus(job.TaskID, models.TaskStatusProcessing, ""); err != nil {
		d.fail(job, fmt.Errorf("mark processing: %w", err))
		return
	}
	d.publish(job.TaskID, UpdateProgress, models.TaskStatusProcessing, ProgressStarting, "Starting research agents...")

	runner, err := d.factory()
	if err != nil {
		d.fail(job, fmt.Errorf("assemble team: %w", err))
		return
	}
	d.publish(job.TaskID, UpdateProgress, models.TaskStatusProcessing, ProgressWorking, "Research agents working...")

	if d.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.jobTimeout)
		defer cancel()
	}

	counter := tokens.NewCounter(d.tokenModel)
	var records []state.MessageRecord
	handler := func(m models.Message) error {
		r := state.NewMessageRecord(job.TaskID, m, counter.Count(m.Content))
		if err := d.store.SaveMessage(&r); err != nil {
			return fmt.Errorf("persist message: %w", err)
		}
		records = append(records, r)
		if d.broadcaster != nil {
			d.broadcaster.Publish(Update{
				TaskID:  job.TaskID,
				Type:    UpdateMessage,
				Status:  models.TaskStatusProcessing,
				Agent:   m.Source,
				Content: m.Content,
			})
		}
		return nil
	}
	progress := team.ProgressFunc(func(status string, percent int) {
		d.publish(job.TaskID, UpdateProgress, models.TaskStatusProcessing, percent, status)
	})

	opts := append(append([]team.RunOption{}, d.runOpts...),
		team.WithMessageHandler(handler),
		team.WithProgress(progress),
	)
	res, err := runner.Run(ctx, job.Task, opts...)
	if err != nil {
		d.fail(job, err)
		return
	}

	d.publish(job.TaskID, UpdateProgress, models.TaskStatusProcessing, ProgressSaving, "Saving results...")
	m := MetricsFor(job.TaskID, res, d.modelInfo)
	if err := d.store.SaveMetrics(m); err != nil {
		d.fail(job, fmt.Errorf("persist metrics: %w", err))
		return
	}

	if d.cache != nil {
		entry := &cache.Entry{TaskID: job.TaskID, Messages: records, Metrics: m}
		if err := d.cache.Set(ctx, job.Task, entry); err != nil {
			log.Warnw("failed to cache result", "error", err)
		}
	}

	if err := d.store.UpdateTaskStatus(job.TaskID, models.TaskStatusCompleted, ""); err != nil {
		d.fail(job, fmt.Errorf("mark completed: %w", err))
		return
	}
	d.publish(job.TaskID, UpdateDone, models.TaskStatusCompleted, ProgressDone, "Completed")
	log.Infow("research job completed",
		"messages", len(res.Messages),
		"total_tokens", res.Stats.TotalTokens,
		"duration", time.Since(start))
}

// MetricsFor builds the persisted metrics of a finished run. modelInfo holds
// provider details recorded alongside the run's own model and participants.
func MetricsFor(taskID string, res *team.Result, modelInfo map[string]any) *state.TaskMetrics {
	info := make(map[string]any, len(modelInfo)+3)
	for k, v := range modelInfo {
		info[k] = v
	}
	info["model"] = res.Stats.Model
	info["participants"] = res.Participants
	info["stop_reason"] = res.StopReason

	return &state.TaskMetrics{
		TaskID:        taskID,
		Duration:      res.Duration.Seconds(),
		TotalMessages: len(res.Messages),
		TokenUsage:    res.Stats.ByRole,
		ModelInfo:     info,
		InputTokens:   res.Stats.InputTokens,
		OutputTokens:  res.Stats.OutputTokens,
		TotalTokens:   res.Stats.TotalTokens,
		EstimatedCost: res.Stats.EstimatedCost,
	}
}

func (d *Dispatcher) fail(job Job, err error) {
	d.logger.Errorw("research job failed", "task_id", job.TaskID, "error", err)
	if uerr := d.store.UpdateTaskStatus(job.TaskID, models.TaskStatusFailed, err.Error()); uerr != nil {
		d.logger.Errorw("failed to mark task failed", "task_id", job.TaskID, "error", uerr)
	}
	d.publish(job.TaskID, UpdateDone, models.TaskStatusFailed, 0, "Failed: "+err.Error())
}
