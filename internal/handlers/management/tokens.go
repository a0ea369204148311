package management

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"grok2api-go/internal/credential"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/storage"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// GetTokens returns the stored token document as is.
func (h *Handler) GetTokens(c *gin.Context) {
	doc, err := h.tokens.RawDocument(c.Request.Context())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		respondErr(c, err)
		return
	}
	if doc == nil {
		doc = storage.Document{}
	}
	c.JSON(http.StatusOK, doc)
}

// UpdateTokens replaces the whole document and reloads the pools from it.
func (h *Handler) UpdateTokens(c *gin.Context) {
	var doc map[string]json.RawMessage
	if err := c.ShouldBindJSON(&doc); err != nil {
		respondError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := h.tokens.ReplaceDocument(c.Request.Context(), storage.Document(doc)); err != nil {
		if errors.Is(err, storage.ErrLockTimeout) {
			respondErr(c, err)
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	h.audit(c, "tokens_replace", log.Fields{"pools": len(doc)})
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Token 已更新"})
}

type addTokenRequest struct {
	Token string `json:"token"`
	Pool  string `json:"pool"`
}

func (h *Handler) AddToken(c *gin.Context) {
	var req addTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		respondError(c, http.StatusBadRequest, "token is required")
		return
	}
	pool := strings.TrimSpace(req.Pool)
	if pool == "" {
		pool = h.cfg.Get().Token.DefaultPool
	}
	if !h.tokens.Add(c.Request.Context(), req.Token, pool) {
		respondError(c, http.StatusConflict, "token already exists")
		return
	}
	h.audit(c, "token_add", log.Fields{"token": logging.MaskToken(req.Token), "pool": pool})
	c.JSON(http.StatusOK, gin.H{"status": "success", "pool": pool})
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *Handler) RemoveToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		respondError(c, http.StatusBadRequest, "token is required")
		return
	}
	if !h.tokens.Remove(c.Request.Context(), req.Token) {
		respondErr(c, credential.ErrTokenNotFound)
		return
	}
	h.audit(c, "token_remove", log.Fields{"token": logging.MaskToken(req.Token)})
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// ResetTokens resets one token, or every token when none is given.
func (h *Handler) ResetTokens(c *gin.Context) {
	var req tokenRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if strings.TrimSpace(req.Token) == "" {
		h.tokens.ResetAll(c.Request.Context())
		h.audit(c, "token_reset_all", nil)
		c.JSON(http.StatusOK, gin.H{"status": "success", "scope": "all"})
		return
	}
	if !h.tokens.ResetToken(c.Request.Context(), req.Token) {
		respondErr(c, credential.ErrTokenNotFound)
		return
	}
	h.audit(c, "token_reset", log.Fields{"token": logging.MaskToken(req.Token)})
	c.JSON(http.StatusOK, gin.H{"status": "success", "scope": "token"})
}

type tagRequest struct {
	Token  string `json:"token"`
	Tag    string `json:"tag"`
	Action string `json:"action"`
}

func (h *Handler) UpdateTag(c *gin.Context) {
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}
	tag := strings.TrimSpace(req.Tag)
	if strings.TrimSpace(req.Token) == "" || tag == "" {
		respondError(c, http.StatusBadRequest, "token and tag are required")
		return
	}
	ctx := c.Request.Context()
	var found bool
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "", "add":
		found = h.tokens.AddTag(ctx, req.Token, tag)
	case "remove":
		found = h.tokens.RemoveTag(ctx, req.Token, tag)
	default:
		respondError(c, http.StatusBadRequest, "action must be add or remove")
		return
	}
	if !found {
		respondErr(c, credential.ErrTokenNotFound)
		return
	}
	h.audit(c, "token_tag", log.Fields{"token": logging.MaskToken(req.Token), "tag": tag, "action": req.Action})
	c.JSON(http.StatusOK, gin.H{"status": "success", "has_tag": h.tokens.HasTag(req.Token, tag)})
}

type noteRequest struct {
	Token string `json:"token"`
	Note  string `json:"note"`
}

func (h *Handler) UpdateNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		respondError(c, http.StatusBadRequest, "token is required")
		return
	}
	if !h.tokens.SetNote(c.Request.Context(), req.Token, req.Note) {
		respondErr(c, credential.ErrTokenNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// TokenStats returns per-pool aggregates.
func (h *Handler) TokenStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "stats": h.tokens.GetStats()})
}
