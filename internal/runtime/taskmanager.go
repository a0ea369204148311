// Package runtime supervises the gateway's long-running background loops:
// the quota resync scheduler, the token file watcher and the batch janitor.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Task describes one supervised background loop.
type Task struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartTime   time.Time  `json:"start_time"`
	Status      TaskStatus `json:"status"`
	Runs        int64      `json:"runs"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	Error       error      `json:"-"`
	ErrorText   string     `json:"error,omitempty"`
	cancel      context.CancelFunc
}

type TaskStatus string

const (
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusStopped  TaskStatus = "stopped"
	TaskStatusFailed   TaskStatus = "failed"
	TaskStatusCanceled TaskStatus = "canceled"
)

// TaskFunc is the body of a background task. It should return when ctx ends.
type TaskFunc func(ctx context.Context) error

// TaskManager starts named tasks, recovers their panics and stops them
// together on shutdown.
type TaskManager struct {
	tasks  map[string]*Task
	mu     sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTaskManager(ctx context.Context) *TaskManager {
	ctx, cancel := context.WithCancel(ctx)
	return &TaskManager{
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches fn under name. A name may be reused once its previous task
// is no longer running.
func (tm *TaskManager) Start(name, description string, fn TaskFunc) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if existing, exists := tm.tasks[name]; exists && existing.Status == TaskStatusRunning {
		return fmt.Errorf("task %s already exists", name)
	}
	if tm.ctx.Err() != nil {
		return fmt.Errorf("task manager stopped: %w", tm.ctx.Err())
	}

	taskCtx, taskCancel := context.WithCancel(tm.ctx)
	task := &Task{
		Name:        name,
		Description: description,
		StartTime:   time.Now(),
		Status:      TaskStatusRunning,
		cancel:      taskCancel,
	}
	tm.tasks[name] = task

	tm.wg.Add(1)
	go tm.run(taskCtx, task, fn)
	return nil
}

func (tm *TaskManager) run(ctx context.Context, task *Task, fn TaskFunc) {
	defer tm.wg.Done()
	defer task.cancel()
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"task": task.Name, "panic": r}).Error("runtime: task panicked")
			tm.setResult(task, TaskStatusFailed, fmt.Errorf("panic: %v", r))
		}
	}()

	log.WithFields(log.Fields{"task": task.Name, "description": task.Description}).Info("runtime: task started")
	err := fn(ctx)

	switch {
	case err == nil:
		tm.setResult(task, TaskStatusStopped, nil)
		log.WithField("task", task.Name).Info("runtime: task stopped")
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		tm.setResult(task, TaskStatusCanceled, nil)
	default:
		tm.setResult(task, TaskStatusFailed, err)
		log.WithError(err).WithField("task", task.Name).Error("runtime: task failed")
	}
}

func (tm *TaskManager) setResult(task *Task, status TaskStatus, err error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	task.Status = status
	task.Error = err
	if err != nil {
		task.ErrorText = err.Error()
	}
}

func (tm *TaskManager) markRun(name string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if task, ok := tm.tasks[name]; ok {
		now := time.Now()
		task.Runs++
		task.LastRun = &now
	}
}

// Stop cancels a running task.
func (tm *TaskManager) Stop(name string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, exists := tm.tasks[name]
	if !exists {
		return fmt.Errorf("task %s not found", name)
	}
	if task.Status != TaskStatusRunning {
		return fmt.Errorf("task %s is not running", name)
	}
	task.cancel()
	return nil
}

// StopAll cancels every task; Wait blocks until they returned.
func (tm *TaskManager) StopAll() {
	tm.cancel()
}

func (tm *TaskManager) Wait() {
	tm.wg.Wait()
}

// Shutdown stops all tasks and waits up to the context deadline.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.StopAll()
	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) copy() *Task {
	c := *t
	c.cancel = nil
	if t.LastRun != nil {
		lr := *t.LastRun
		c.LastRun = &lr
	}
	return &c
}

// GetTask returns a copy of the named task.
func (tm *TaskManager) GetTask(name string) (*Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, exists := tm.tasks[name]
	if !exists {
		return nil, fmt.Errorf("task %s not found", name)
	}
	return task.copy(), nil
}

// ListTasks returns copies of all tasks sorted by name.
func (tm *TaskManager) ListTasks() []*Task {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	tasks := make([]*Task, 0, len(tm.tasks))
	for _, task := range tm.tasks {
		tasks = append(tasks, task.copy())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}

type TaskStats struct {
	Total    int `json:"total"`
	Running  int `json:"running"`
	Stopped  int `json:"stopped"`
	Failed   int `json:"failed"`
	Canceled int `json:"canceled"`
}

func (tm *TaskManager) GetStats() TaskStats {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	stats := TaskStats{Total: len(tm.tasks)}
	for _, task := range tm.tasks {
		switch task.Status {
		case TaskStatusRunning:
			stats.Running++
		case TaskStatusStopped:
			stats.Stopped++
		case TaskStatusFailed:
			stats.Failed++
		case TaskStatusCanceled:
			stats.Canceled++
		}
	}
	return stats
}

type periodicConfig struct {
	immediate bool
	interval  func() time.Duration
}

// PeriodicOption adjusts StartPeriodic.
type PeriodicOption func(*periodicConfig)

// WithoutImmediateRun waits one interval before the first run.
func WithoutImmediateRun() PeriodicOption {
	return func(c *periodicConfig) { c.immediate = false }
}

// WithIntervalFunc re-reads the interval before every wait, so a hot config
// reload takes effect on the next cycle.
func WithIntervalFunc(fn func() time.Duration) PeriodicOption {
	return func(c *periodicConfig) { c.interval = fn }
}

// StartPeriodic runs fn every interval until the task is stopped. Errors are
// logged and do not end the loop.
func (tm *TaskManager) StartPeriodic(name, description string, interval time.Duration, fn TaskFunc, opts ...PeriodicOption) error {
	cfg := periodicConfig{immediate: true, interval: func() time.Duration { return interval }}
	for _, opt := range opts {
		opt(&cfg)
	}

	runOnce := func(ctx context.Context) {
		tm.markRun(name)
		if err := fn(ctx); err != nil {
			log.WithFields(log.Fields{"task": name, "error": err}).Warn("runtime: periodic run failed")
		}
	}

	return tm.Start(name, description, func(ctx context.Context) error {
		if cfg.immediate {
			runOnce(ctx)
		}
		for {
			wait := cfg.interval()
			if wait <= 0 {
				wait = interval
			}
			if wait <= 0 {
				return fmt.Errorf("task %s: non-positive interval", name)
			}
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
				runOnce(ctx)
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	})
}

// StartDelayed runs fn once after delay.
func (tm *TaskManager) StartDelayed(name, description string, delay time.Duration, fn TaskFunc) error {
	return tm.Start(name, description, func(ctx context.Context) error {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			return fn(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
