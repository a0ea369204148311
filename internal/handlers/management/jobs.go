package management

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"grok2api-go/internal/batch"
	"grok2api-go/internal/constants"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// job describes one bulk per-token operation.
type job[R any] struct {
	op            string
	items         []string
	warning       string
	maxConcurrent int
	batchSize     int
	work          batch.Worker[string, R]
	// render builds the result body from per-item outcomes.
	render func(results map[string]batch.Result[R]) gin.H
}

// summarize counts ok and failed outcomes.
func summarize[R any](total int, results map[string]batch.Result[R]) gin.H {
	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	return gin.H{"total": total, "ok": ok, "fail": len(results) - ok}
}

// runSync executes j inline and returns the response body.
func runSync[R any](ctx context.Context, j job[R]) gin.H {
	results := batch.RunInBatches(ctx, j.items, j.work, batch.ExecOptions[string]{
		MaxConcurrent: j.maxConcurrent,
		BatchSize:     j.batchSize,
	})
	body := j.render(results)
	body["status"] = "success"
	if j.warning != "" {
		body["warning"] = j.warning
	}
	return body
}

// startAsync registers a task, runs j in the background and returns the task.
func startAsync[R any](h *Handler, j job[R]) *batch.Task {
	task := h.registry.Create(j.op, len(j.items))
	go func() {
		defer h.registry.Expire(task.ID, h.taskTTL())
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{"task_id": task.ID, "op": j.op, "panic": r}).Error("batch: flow panicked")
				task.FailTask(fmt.Errorf("panic: %v", r))
			}
		}()

		results := batch.RunInBatches(h.baseCtx, j.items, j.work, batch.ExecOptions[string]{
			MaxConcurrent: j.maxConcurrent,
			BatchSize:     j.batchSize,
			OnItem:        func(item string, ok bool) { task.Record(ok, maskShort(item), nil, "") },
			ShouldCancel:  task.Cancelled,
		})
		if task.Cancelled() {
			task.FinishCancelled()
			return
		}
		if err := h.baseCtx.Err(); err != nil {
			task.FailTask(err)
			return
		}
		body := j.render(results)
		body["status"] = "success"
		if j.warning != "" {
			body["warning"] = j.warning
		}
		task.Finish(body, j.warning)
	}()
	return task
}

// launch gates an async job through the limiter and answers with the task id.
func launch[R any](h *Handler, c *gin.Context, j job[R]) {
	if ok, msg, retry := h.limiter.CheckRequest(j.op, len(j.items)); !ok {
		if retry > 0 {
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds()+0.5)))
		}
		respondError(c, http.StatusTooManyRequests, msg)
		return
	}
	task := startAsync(h, j)
	h.audit(c, j.op, log.Fields{"task_id": task.ID, "total": len(j.items)})
	c.JSON(http.StatusOK, gin.H{"status": "success", "task_id": task.ID, "total": len(j.items)})
}

func (h *Handler) taskTTL() time.Duration {
	if sec := h.cfg.Get().Batch.TaskTTLSec; sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return constants.BatchTaskTTL
}
