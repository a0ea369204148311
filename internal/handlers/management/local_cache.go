package management

import (
	"net/http"
	"strconv"
	"strings"

	"grok2api-go/internal/imagine"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// 本地缓存只有图片一种
const localCacheImage = "image"

type localCacheRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func (h *Handler) imageDir() string {
	if h.imageDirFn != nil {
		if dir := h.imageDirFn(); dir != "" {
			return dir
		}
	}
	return imagine.ImageDir(h.cfg.Get().Storage.BaseDir)
}

// bindLocalCache reads the optional body and rejects cache types other than image.
func bindLocalCache(c *gin.Context) (localCacheRequest, bool) {
	var req localCacheRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid json")
			return req, false
		}
	}
	if !validCacheType(req.Type) {
		respondError(c, http.StatusBadRequest, "unsupported cache type: "+req.Type)
		return req, false
	}
	return req, true
}

func validCacheType(t string) bool {
	t = strings.TrimSpace(t)
	return t == "" || t == localCacheImage
}

// CacheStats reports the local image cache and the loaded accounts.
func (h *Handler) CacheStats(c *gin.Context) {
	stats, err := imagine.ImageStats(h.imageDir())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"local_image":     stats,
		"online":          gin.H{"count": 0, "status": "not_loaded", "token": nil},
		"online_accounts": h.onlineAccounts(),
		"online_scope":    "none",
		"online_details":  []onlineDetail{},
	})
}

// ListLocalCache pages through cached images, newest first.
func (h *Handler) ListLocalCache(c *gin.Context) {
	if !validCacheType(c.Query("type")) {
		respondError(c, http.StatusBadRequest, "unsupported cache type: "+c.Query("type"))
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(imagine.DefaultCachePageSize)))
	res, err := imagine.ListImages(h.imageDir(), page, size)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"total":     res.Total,
		"page":      res.Page,
		"page_size": res.PageSize,
		"items":     res.Items,
	})
}

// ClearLocalCache removes every cached image.
func (h *Handler) ClearLocalCache(c *gin.Context) {
	if _, ok := bindLocalCache(c); !ok {
		return
	}
	res, err := imagine.ClearImages(h.imageDir())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	h.audit(c, "local_cache_clear", log.Fields{"removed": res.Count})
	c.JSON(http.StatusOK, gin.H{"status": "success", "result": res})
}

// DeleteLocalCacheItem removes one cached image by file name.
func (h *Handler) DeleteLocalCacheItem(c *gin.Context) {
	req, ok := bindLocalCache(c)
	if !ok {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(c, http.StatusBadRequest, "Missing file name")
		return
	}
	deleted := imagine.DeleteImage(h.imageDir(), name)
	h.audit(c, "local_cache_delete", log.Fields{"file": name, "deleted": deleted})
	c.JSON(http.StatusOK, gin.H{"status": "success", "result": gin.H{"deleted": deleted}})
}
