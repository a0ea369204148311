package management

import (
	"fmt"
	"net/http"
	"strings"

	apperrors "grok2api-go/internal/errors"
	"grok2api-go/internal/logging"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// respondError 统一管理端错误响应格式
func respondError(c *gin.Context, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "error"
	}
	code := strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	if code == "" {
		code = "unknown_error"
	}
	respondAPIError(c, apperrors.New(status, code, "management_error", message))
}

// respondErr maps err through the sentinel table.
func respondErr(c *gin.Context, err error) {
	respondAPIError(c, apperrors.FromError(err))
}

func respondAPIError(c *gin.Context, e *apperrors.APIError) {
	c.AbortWithStatusJSON(e.HTTPStatus, e.Body())
}

// audit logs a mutating admin call.
func (h *Handler) audit(c *gin.Context, action string, fields log.Fields) {
	if fields == nil {
		fields = log.Fields{}
	}
	fields["component"] = "audit"
	fields["action"] = action
	if ua := c.Request.UserAgent(); ua != "" {
		fields["user_agent"] = ua
	}
	logging.WithReq(c, fields).Info("management audit")
}

// tokenList is the common {token?, tokens?} body of batch endpoints.
type tokenList struct {
	Token  string   `json:"token"`
	Tokens []string `json:"tokens"`
}

func (r tokenList) merged() []string {
	var out []string
	if r.Token != "" {
		out = append(out, r.Token)
	}
	return append(out, r.Tokens...)
}

// normalizeTokens trims, drops empties and duplicates, then truncates to max.
// The warning is empty unless truncation happened.
func normalizeTokens(raw []string, max int) ([]string, string) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if max > 0 && len(out) > max {
		warning := truncationWarning(max, len(out))
		return out[:max], warning
	}
	return out, ""
}

func truncationWarning(max, total int) string {
	return fmt.Sprintf("数量超出限制，仅处理前 %d 个（共 %d 个）", max, total)
}

// maskShort keeps both ends of a token for per-token result maps.
func maskShort(token string) string {
	if len(token) > 20 {
		return token[:8] + "..." + token[len(token)-8:]
	}
	return token
}
