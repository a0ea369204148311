package management

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"grok2api-go/internal/batch"
	"grok2api-go/internal/constants"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ListBatchTasks returns snapshots for every live task, newest first.
func (h *Handler) ListBatchTasks(c *gin.Context) {
	tasks := h.registry.List()
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

// GetBatchTask returns one task snapshot, plus the final event once finished.
func (h *Handler) GetBatchTask(c *gin.Context) {
	task, err := h.registry.Get(c.Param("task_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	body := gin.H{"snapshot": task.Snapshot()}
	if final, ok := task.FinalEvent(); ok {
		body["final"] = final
	}
	c.JSON(http.StatusOK, body)
}

// CancelBatchTask flags the task; the flow stops at the next chunk boundary.
func (h *Handler) CancelBatchTask(c *gin.Context) {
	task, err := h.registry.Get(c.Param("task_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	task.Cancel()
	h.audit(c, "batch_cancel", log.Fields{"task_id": task.ID})
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) heartbeat() time.Duration {
	if sec := h.cfg.Get().Batch.HeartbeatSec; sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return constants.BatchStreamHeartbeat
}

// StreamBatch streams a task over SSE: a snapshot first, then progress events
// until a terminal event. Heartbeats are ": ping" comments.
func (h *Handler) StreamBatch(c *gin.Context) {
	task, err := h.registry.Get(c.Param("task_id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// attach before the snapshot so nothing between them is missed
	events, detach := task.Attach()
	defer func() { detach() }()

	w := c.Writer
	if !writeData(w, task.Snapshot()) {
		return
	}
	if final, ok := task.FinalEvent(); ok {
		writeData(w, final)
		return
	}

	interval := h.heartbeat()
	timer := time.NewTimer(interval)
	defer timer.Stop()
	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-events:
			if !ok {
				// dropped for backpressure
				if final, done := task.FinalEvent(); done {
					writeData(w, final)
					return
				}
				events, detach = task.Attach()
				continue
			}
			if !writeData(w, evt) || evt.Terminal() {
				return
			}

		case <-timer.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			w.Flush()
			if final, done := task.FinalEvent(); done {
				writeData(w, final)
				return
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
	}
}

func writeData(w gin.ResponseWriter, evt batch.Event) bool {
	b, err := json.Marshal(evt)
	if err != nil {
		return false
	}
	if _, err := w.Write(append(append([]byte("data: "), b...), '\n', '\n')); err != nil {
		return false
	}
	w.Flush()
	return true
}
