package management

import (
	"context"
	"errors"
	"net/http"

	"grok2api-go/internal/batch"
	"grok2api-go/internal/credential"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var errSyncFailed = errors.New("usage sync failed")

// refreshJob builds the usage-sync job for the requested tokens.
func (h *Handler) refreshJob(c *gin.Context) (job[bool], bool) {
	var req tokenList
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return job[bool]{}, false
	}
	perf := h.cfg.Get().Performance
	tokens, warning := normalizeTokens(req.merged(), perf.UsageMaxTokens)
	if len(tokens) == 0 {
		respondError(c, http.StatusBadRequest, "No tokens provided")
		return job[bool]{}, false
	}
	model := h.cfg.Get().Token.RefreshModel
	return job[bool]{
		op:            "refresh",
		items:         tokens,
		warning:       warning,
		maxConcurrent: perf.UsageMaxConcurrent,
		batchSize:     perf.UsageBatchSize,
		work: func(ctx context.Context, token string) (bool, error) {
			if !h.tokens.SyncUsage(ctx, token, model, credential.EffortLow, false, false) {
				return false, errSyncFailed
			}
			return true, nil
		},
		render: func(results map[string]batch.Result[bool]) gin.H {
			out := make(map[string]bool, len(results))
			for token, r := range results {
				out[maskShort(token)] = r.OK()
			}
			return gin.H{"summary": summarize(len(tokens), results), "results": out}
		},
	}, true
}

// RefreshTokens resyncs quotas inline.
func (h *Handler) RefreshTokens(c *gin.Context) {
	j, ok := h.refreshJob(c)
	if !ok {
		return
	}
	h.audit(c, j.op, log.Fields{"total": len(j.items), "mode": "sync"})
	c.JSON(http.StatusOK, runSync(c.Request.Context(), j))
}

func (h *Handler) RefreshTokensAsync(c *gin.Context) {
	j, ok := h.refreshJob(c)
	if !ok {
		return
	}
	launch(h, c, j)
}

// RefreshCooling runs the scheduled cooling-token pass on demand.
func (h *Handler) RefreshCooling(c *gin.Context) {
	report := h.tokens.RefreshCoolingTokens(c.Request.Context())
	h.audit(c, "refresh_cooling", log.Fields{"checked": report.Checked, "recovered": report.Recovered})
	c.JSON(http.StatusOK, gin.H{"status": "success", "report": report})
}
