package management

import (
	"context"
	"net/http"
	"strings"

	"grok2api-go/internal/credential"
	"grok2api-go/internal/rotation"

	"github.com/gin-gonic/gin"
)

// selector builds the strategy named by ?strategy=: "quota" picks from a
// credential pool by remaining quota, "imagine" from the scored daily rotation.
func (h *Handler) selector(strategy, pool string) (credential.Selector, bool) {
	switch strategy {
	case "", "quota":
		if pool == "" {
			pool = h.cfg.Get().Token.DefaultPool
		}
		return credential.PoolSelector{Manager: h.tokens, Pool: pool}, true
	case "imagine":
		if h.rotation == nil {
			return nil, false
		}
		return rotation.Selector{
			Store:      h.rotation,
			DailyLimit: h.cfg.Get().Grok.ImagineDailyLimit,
			Tokens: func(ctx context.Context) []string {
				_ = h.tokens.ReloadIfStale(ctx)
				return h.tokens.AllTokens()
			},
		}, true
	}
	return nil, false
}

// NextToken previews which credential a strategy would hand out next.
// Nothing is consumed.
func (h *Handler) NextToken(c *gin.Context) {
	strategy := strings.ToLower(strings.TrimSpace(c.Query("strategy")))
	pool := strings.TrimSpace(c.Query("pool"))
	sel, ok := h.selector(strategy, pool)
	if !ok {
		respondError(c, http.StatusBadRequest, "unknown or unavailable strategy: "+strategy)
		return
	}
	tok, found := sel.Next(c.Request.Context())
	if !found {
		c.JSON(http.StatusOK, gin.H{"status": "exhausted", "strategy": strategy, "pool": pool})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "strategy": strategy, "pool": pool, "token": maskShort(tok)})
}
