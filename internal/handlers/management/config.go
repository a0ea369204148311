package management

import (
	"encoding/json"
	"io"
	"net/http"

	"grok2api-go/internal/config"
	"grok2api-go/internal/storage"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// secretMask replaces secrets in GET /config; posting it back keeps the old value.
const secretMask = "********"

// secretFields lists every secret string in Config.
func secretFields(c *config.Config) []*string {
	return []*string{
		&c.Security.ManagementKey,
		&c.Security.ManagementKeyHash,
		&c.Security.StreamKey,
		&c.Storage.RedisPassword,
		&c.Storage.PostgresDSN,
		&c.Storage.MongoDBURI,
		&c.Storage.GitPassword,
		&c.Grok.CFClearance,
	}
}

func maskConfig(cfg *config.Config) *config.Config {
	for _, f := range secretFields(cfg) {
		if *f != "" {
			*f = secretMask
		}
	}
	keys := make([]string, len(cfg.Security.APIKeys))
	for i := range keys {
		keys[i] = secretMask
	}
	cfg.Security.APIKeys = keys
	return cfg
}

// restoreSecrets puts back every secret the client echoed as the mask.
func restoreSecrets(next, prev *config.Config) {
	nf, pf := secretFields(next), secretFields(prev)
	for i := range nf {
		if *nf[i] == secretMask {
			*nf[i] = *pf[i]
		}
	}
	keys := next.Security.APIKeys[:0]
	masked := false
	for _, k := range next.Security.APIKeys {
		if k == secretMask {
			masked = true
			continue
		}
		keys = append(keys, k)
	}
	if masked && len(keys) == 0 {
		keys = prev.Security.APIKeys
	}
	next.Security.APIKeys = keys
}

// GetConfig returns the live configuration with secrets masked.
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, maskConfig(h.cfg.Get()))
}

// UpdateConfig merges a partial JSON document onto the live configuration,
// persists it and notifies reload listeners.
func (h *Handler) UpdateConfig(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid body")
		return
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(body, &patch); err != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}
	prev := h.cfg.Get()
	// 先在副本上试一遍，类型或取值不对直接 400
	trial := h.cfg.Get()
	if err := json.Unmarshal(body, trial); err != nil {
		respondError(c, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}
	restoreSecrets(trial, prev)
	if err := trial.Normalize(); err != nil {
		respondError(c, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}

	err = h.cfg.Update(func(next *config.Config) {
		_ = json.Unmarshal(body, next)
		restoreSecrets(next, prev)
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	sections := make([]string, 0, len(patch))
	for k := range patch {
		sections = append(sections, k)
	}
	h.audit(c, "config_update", log.Fields{"sections": sections})
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "配置已更新"})
}

// GetStorage reports the active storage backend.
func (h *Handler) GetStorage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"type": storage.BackendName(h.tokens.Store())})
}
