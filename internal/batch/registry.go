package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"grok2api-go/internal/events"
	"grok2api-go/internal/monitoring"

	log "github.com/sirupsen/logrus"
)

// ErrTaskNotFound is returned for unknown or expired task ids.
var ErrTaskNotFound = errors.New("task not found")

// Registry holds live batch tasks by id.
type Registry struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	timers    map[string]*time.Timer
	publisher events.Publisher
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:  make(map[string]*Task),
		timers: make(map[string]*time.Timer),
	}
}

// SetEventPublisher wires the hub notified when a task finishes.
func (r *Registry) SetEventPublisher(p events.Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher = p
}

// Create registers a new running task for op over total items.
func (r *Registry) Create(op string, total int) *Task {
	t := newTask(op, total)
	t.onFinish = r.taskFinished
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
	monitoring.BatchTasksActive.Inc()
	log.WithFields(log.Fields{"task_id": t.ID, "op": op, "total": total}).Info("batch: task created")
	return t
}

func (r *Registry) taskFinished(t *Task, evt Event) {
	r.mu.RLock()
	publisher := r.publisher
	r.mu.RUnlock()
	if publisher != nil {
		publisher.Publish(context.Background(), events.TopicBatchFinished, evt, map[string]string{"op": t.Op})
	}
}

func (r *Registry) Get(id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// Delete removes the task and closes its remaining subscribers.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	delete(r.tasks, id)
	if timer, ok := r.timers[id]; ok {
		timer.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()
	if ok {
		t.closeSubscribers()
	}
}

// Expire deletes the task after delay. A later call replaces the timer.
func (r *Registry) Expire(id string, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return
	}
	if timer, ok := r.timers[id]; ok {
		timer.Stop()
	}
	r.timers[id] = time.AfterFunc(delay, func() { r.Delete(id) })
}

// List returns snapshots of every task, newest first.
func (r *Registry) List() []Event {
	r.mu.RLock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	out := make([]Event, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Sweep removes finished tasks older than ttl that were never expired
// explicitly, and returns how many were removed.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	r.mu.RLock()
	var stale []string
	for id, t := range r.tasks {
		if t.finishedBefore(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range stale {
		r.Delete(id)
	}
	if len(stale) > 0 {
		log.WithField("removed", len(stale)).Debug("batch: swept finished tasks")
	}
	return len(stale)
}

// Close stops pending expiry timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}
