package management

import (
	"context"
	"errors"
	"net/http"

	"grok2api-go/internal/batch"
	"grok2api-go/internal/credential"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/upstream"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const nsfwTag = "nsfw"

func (h *Handler) nsfwJob(c *gin.Context) (job[upstream.NSFWResult], bool) {
	var req tokenList
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid json")
			return job[upstream.NSFWResult]{}, false
		}
	}
	raw := req.merged()
	if len(raw) == 0 {
		raw = h.tokens.AllTokens()
	}
	perf := h.cfg.Get().Performance
	tokens, warning := normalizeTokens(raw, perf.NSFWMaxTokens)
	if len(tokens) == 0 {
		respondError(c, http.StatusBadRequest, "No tokens available")
		return job[upstream.NSFWResult]{}, false
	}
	return job[upstream.NSFWResult]{
		op:            "nsfw_enable",
		items:         tokens,
		warning:       warning,
		maxConcurrent: perf.NSFWMaxConcurrent,
		batchSize:     perf.NSFWBatchSize,
		work:          h.enableNSFWFor,
		render: func(results map[string]batch.Result[upstream.NSFWResult]) gin.H {
			out := make(map[string]upstream.NSFWResult, len(results))
			for token, r := range results {
				out[maskShort(token)] = r.Value
			}
			return gin.H{"summary": summarize(len(tokens), results), "results": out}
		},
	}, true
}

// enableNSFWFor verifies age (best effort) and flips the NSFW feature on.
func (h *Handler) enableNSFWFor(ctx context.Context, token string) (upstream.NSFWResult, error) {
	if err := h.upstream.VerifyAge(ctx, token); err != nil {
		log.WithError(err).WithField("token", logging.MaskToken(token)).Debug("nsfw: age verification skipped")
	} else if h.rotation != nil {
		h.rotation.SetAgeVerified(ctx, token, 1)
	}

	res := h.upstream.EnableNSFW(ctx, token)
	if res.HTTPStatus == credential.AuthFailureStatus {
		h.tokens.RecordFail(ctx, token, res.HTTPStatus, "nsfw enable: unauthorized")
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "nsfw enable failed"
		}
		return res, errors.New(msg)
	}
	h.tokens.AddTag(ctx, token, nsfwTag)
	return res, nil
}

// EnableNSFW runs the enable flow inline.
func (h *Handler) EnableNSFW(c *gin.Context) {
	j, ok := h.nsfwJob(c)
	if !ok {
		return
	}
	h.audit(c, j.op, log.Fields{"total": len(j.items), "mode": "sync"})
	c.JSON(http.StatusOK, runSync(c.Request.Context(), j))
}

func (h *Handler) EnableNSFWAsync(c *gin.Context) {
	j, ok := h.nsfwJob(c)
	if !ok {
		return
	}
	launch(h, c, j)
}
