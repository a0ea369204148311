package batch

import (
	"sync"
	"sync/atomic"
	"time"

	"grok2api-go/internal/constants"
	"grok2api-go/internal/monitoring"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// Event types.
const (
	EventSnapshot  = "snapshot"
	EventProgress  = "progress"
	EventDone      = "done"
	EventError     = "error"
	EventCancelled = "cancelled"
)

// Event is one message on a task's progress stream.
type Event struct {
	Type      string  `json:"type"`
	TaskID    string  `json:"task_id"`
	Op        string  `json:"op,omitempty"`
	Status    Status  `json:"status,omitempty"`
	Total     int     `json:"total"`
	Processed int     `json:"processed"`
	OK        int     `json:"ok"`
	Fail      int     `json:"fail"`
	Warning   *string `json:"warning,omitempty"`
	Item      any     `json:"item,omitempty"`
	Detail    any     `json:"detail,omitempty"`
	Error     string  `json:"error,omitempty"`
	Result    any     `json:"result,omitempty"`
	CreatedAt int64   `json:"created_at,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError || e.Type == EventCancelled
}

// Task tracks progress of one asynchronous admin operation and fans its
// events out to attached subscribers.
type Task struct {
	ID        string
	Op        string
	Total     int
	CreatedAt time.Time

	mu         sync.Mutex
	status     Status
	processed  int
	ok         int
	fail       int
	warning    *string
	result     any
	errMsg     string
	final      *Event
	finishedAt time.Time
	subs       map[int]chan Event
	nextSub    int
	onFinish   func(*Task, Event)

	cancelled atomic.Bool
}

func newTask(op string, total int) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Op:        op,
		Total:     total,
		CreatedAt: time.Now(),
		status:    StatusRunning,
		subs:      make(map[int]chan Event),
	}
}

// Attach subscribes to future events. The returned func detaches; it is safe
// to call after the task dropped the subscriber.
func (t *Task) Attach() (<-chan Event, func()) {
	ch := make(chan Event, constants.BatchSubscriberBuffer)
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// Subscribers returns the number of attached subscribers.
func (t *Task) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// publishLocked never blocks: a subscriber whose buffer is full is dropped
// and its channel closed.
func (t *Task) publishLocked(evt Event) {
	for id, ch := range t.subs {
		select {
		case ch <- evt:
		default:
			delete(t.subs, id)
			close(ch)
			monitoring.BatchSubscribersDropped.Inc()
			log.WithField("task_id", t.ID).Warn("batch: slow subscriber dropped")
		}
	}
}

func (t *Task) baseEventLocked(typ string) Event {
	return Event{
		Type:      typ,
		TaskID:    t.ID,
		Total:     t.Total,
		Processed: t.processed,
		OK:        t.ok,
		Fail:      t.fail,
	}
}

// Record counts one processed item and publishes a progress event.
func (t *Task) Record(ok bool, item, detail any, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.processed++
	result := "ok"
	if ok {
		t.ok++
	} else {
		t.fail++
		result = "fail"
	}
	monitoring.BatchItemsTotal.WithLabelValues(t.Op, result).Inc()

	evt := t.baseEventLocked(EventProgress)
	evt.Item = item
	evt.Detail = detail
	evt.Error = errMsg
	t.publishLocked(evt)
}

// Finish marks the task done with result. An empty warning is omitted.
func (t *Task) Finish(result any, warning string) {
	t.terminate(StatusDone, func(evt *Event) {
		if warning != "" {
			t.warning = &warning
		}
		t.result = result
		evt.Warning = t.warning
		evt.Result = result
	})
}

// FailTask marks the task as errored.
func (t *Task) FailTask(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	t.terminate(StatusError, func(evt *Event) {
		t.errMsg = msg
		evt.Error = msg
	})
}

// FinishCancelled records that the run stopped after a cancel request.
func (t *Task) FinishCancelled() {
	t.terminate(StatusCancelled, nil)
}

func (t *Task) terminate(status Status, fill func(evt *Event)) {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status = status
	t.finishedAt = time.Now()
	evt := t.baseEventLocked(string(status))
	if fill != nil {
		fill(&evt)
	}
	t.final = &evt
	t.publishLocked(evt)
	onFinish := t.onFinish
	t.mu.Unlock()

	monitoring.BatchTasksTotal.WithLabelValues(t.Op, string(status)).Inc()
	monitoring.BatchTasksActive.Dec()
	log.WithFields(log.Fields{
		"task_id":   t.ID,
		"op":        t.Op,
		"status":    status,
		"processed": evt.Processed,
		"ok":        evt.OK,
		"fail":      evt.Fail,
	}).Info("batch: task finished")
	if onFinish != nil {
		onFinish(t, evt)
	}
}

// Cancel requests cancellation. The running flow notices it at the next
// chunk boundary and calls FinishCancelled.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
}

func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Snapshot describes the current state as a snapshot event.
func (t *Task) Snapshot() Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	evt := t.baseEventLocked(EventSnapshot)
	evt.Op = t.Op
	evt.Status = t.status
	evt.Warning = t.warning
	evt.Error = t.errMsg
	evt.CreatedAt = t.CreatedAt.UnixMilli()
	return evt
}

// FinalEvent returns the cached terminal event once the task has finished.
func (t *Task) FinalEvent() (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.final == nil {
		return Event{}, false
	}
	return *t.final, true
}

func (t *Task) finishedBefore(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.Terminal() && t.finishedAt.Before(cutoff)
}

// closeSubscribers closes every remaining subscriber channel.
func (t *Task) closeSubscribers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}
