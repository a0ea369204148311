package management

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"grok2api-go/internal/batch"
	"grok2api-go/internal/credential"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/upstream"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// clearOutcome is the per-token result of an online asset purge.
type clearOutcome struct {
	Status string                    `json:"status"`
	Result *upstream.DeleteAllResult `json:"result,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

func (h *Handler) clearAssets(ctx context.Context, token string) (clearOutcome, error) {
	res := h.upstream.DeleteAll(ctx, token)
	if res.ListStatus == credential.AuthFailureStatus {
		h.tokens.RecordFail(ctx, token, res.ListStatus, "asset list: unauthorized")
		err := fmt.Errorf("asset list rejected: HTTP %d", res.ListStatus)
		return clearOutcome{Status: "error", Result: &res, Error: err.Error()}, err
	}
	if res.Failed > 0 && res.Success == 0 {
		err := fmt.Errorf("all %d deletions failed", res.Failed)
		return clearOutcome{Status: "error", Result: &res, Error: err.Error()}, err
	}
	h.tokens.MarkAssetClear(ctx, token)
	return clearOutcome{Status: "success", Result: &res}, nil
}

func (h *Handler) clearJob(tokens []string, warning string) job[clearOutcome] {
	perf := h.cfg.Get().Performance
	return job[clearOutcome]{
		op:            "cache_clear",
		items:         tokens,
		warning:       warning,
		maxConcurrent: perf.AssetsMaxConcurrent,
		batchSize:     perf.AssetsBatchSize,
		work:          h.clearAssets,
		render: func(results map[string]batch.Result[clearOutcome]) gin.H {
			out := make(map[string]clearOutcome, len(results))
			for token, r := range results {
				out[maskShort(token)] = r.Value
			}
			return gin.H{"summary": summarize(len(tokens), results), "results": out}
		},
	}
}

// ClearOnlineCache purges upstream assets. With a token list every token is
// processed; otherwise the single given token or one from the default pool.
func (h *Handler) ClearOnlineCache(c *gin.Context) {
	var req tokenList
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	ctx := c.Request.Context()

	if req.Tokens != nil {
		tokens, warning := normalizeTokens(req.Tokens, h.cfg.Get().Performance.AssetsMaxTokens)
		if len(tokens) == 0 {
			respondError(c, http.StatusBadRequest, "No tokens provided")
			return
		}
		j := h.clearJob(tokens, warning)
		h.audit(c, j.op, log.Fields{"total": len(tokens), "mode": "sync"})
		c.JSON(http.StatusOK, runSync(ctx, j))
		return
	}

	token := strings.TrimSpace(req.Token)
	if token == "" {
		picked, err := h.tokens.GetToken(h.cfg.Get().Token.DefaultPool)
		if err != nil {
			respondError(c, http.StatusBadRequest, "No available token to perform cleanup")
			return
		}
		token = picked
	}
	out, err := h.clearAssets(ctx, token)
	h.audit(c, "cache_clear", log.Fields{"token": logging.MaskToken(token)})
	if err != nil {
		respondError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "result": out.Result})
}

func (h *Handler) ClearOnlineCacheAsync(c *gin.Context) {
	var req tokenList
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}
	tokens, warning := normalizeTokens(req.merged(), h.cfg.Get().Performance.AssetsMaxTokens)
	if len(tokens) == 0 {
		respondError(c, http.StatusBadRequest, "No tokens provided")
		return
	}
	launch(h, c, h.clearJob(tokens, warning))
}

// onlineAccount describes a loaded token for the cache page.
type onlineAccount struct {
	Token            string `json:"token"`
	TokenMasked      string `json:"token_masked"`
	Pool             string `json:"pool"`
	Status           string `json:"status"`
	LastAssetClearAt *int64 `json:"last_asset_clear_at"`
}

type onlineDetail struct {
	Token  string `json:"token"`
	Count  int    `json:"count"`
	Status string `json:"status"`
}

func (h *Handler) onlineAccounts() []onlineAccount {
	entries := h.tokens.Entries()
	out := make([]onlineAccount, 0, len(entries))
	for _, e := range entries {
		out = append(out, onlineAccount{
			Token:            e.Token.Token,
			TokenMasked:      logging.MaskTokenLong(e.Token.Token),
			Pool:             e.Pool,
			Status:           string(e.Token.Status),
			LastAssetClearAt: e.Token.LastAssetClearAt,
		})
	}
	return out
}

type loadOnlineRequest struct {
	Tokens []string `json:"tokens"`
	Scope  string   `json:"scope"`
}

var errCountFailed = errors.New("asset count failed")

// LoadOnlineCacheAsync counts upstream assets for the selected tokens or for
// every loaded token when scope is "all".
func (h *Handler) LoadOnlineCacheAsync(c *gin.Context) {
	var req loadOnlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}
	accounts := h.onlineAccounts()
	scope := strings.TrimSpace(req.Scope)
	raw := req.Tokens
	switch {
	case len(raw) == 0 && scope == "all":
		for _, a := range accounts {
			raw = append(raw, a.Token)
		}
	case len(raw) > 0:
		scope = "selected"
	default:
		respondError(c, http.StatusBadRequest, "No tokens provided")
		return
	}
	tokens, warning := normalizeTokens(raw, h.cfg.Get().Performance.AssetsMaxTokens)

	perf := h.cfg.Get().Performance
	launch(h, c, job[onlineDetail]{
		op:            "cache_load",
		items:         tokens,
		warning:       warning,
		maxConcurrent: perf.AssetsMaxConcurrent,
		batchSize:     perf.AssetsBatchSize,
		work: func(ctx context.Context, token string) (onlineDetail, error) {
			n, err := h.upstream.CountAssets(ctx, token)
			if err != nil {
				h.tokens.RecordError(ctx, token, err)
				return onlineDetail{Token: token, Status: "error: " + err.Error()}, errCountFailed
			}
			return onlineDetail{Token: token, Count: n, Status: "ok"}, nil
		},
		render: func(results map[string]batch.Result[onlineDetail]) gin.H {
			details := make([]onlineDetail, 0, len(results))
			total := 0
			for _, token := range tokens {
				r, ok := results[token]
				if !ok {
					continue
				}
				total += r.Value.Count
				details = append(details, r.Value)
			}
			status := "ok"
			if len(tokens) == 0 {
				status = "no_token"
			}
			return gin.H{
				"online":          gin.H{"count": total, "status": status, "token": nil, "last_asset_clear_at": nil},
				"online_accounts": accounts,
				"online_scope":    scope,
				"online_details":  details,
			}
		},
	})
}
