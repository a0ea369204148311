package middleware

import (
	"strings"

	apperrors "grok2api-go/internal/errors"

	"github.com/gin-gonic/gin"
)

// KeyValidator reports whether a presented key is accepted.
type KeyValidator func(key string) bool

// AuthConfig selects where a key may come from.
type AuthConfig struct {
	// Validate is required; a nil validator rejects everything.
	Validate KeyValidator
	// QueryParam, if set, is consulted when no Authorization header is sent
	// (EventSource cannot set headers).
	QueryParam string
	// Disabled skips authentication entirely.
	Disabled bool
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// Auth guards a route group.
func Auth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Disabled {
			c.Next()
			return
		}
		key := BearerToken(c)
		if key == "" && cfg.QueryParam != "" {
			key = strings.TrimSpace(c.Query(cfg.QueryParam))
		}
		if key == "" {
			respondUnauthorized(c, "API key not provided")
			return
		}
		if cfg.Validate == nil || !cfg.Validate(key) {
			respondUnauthorized(c, "Invalid API key")
			return
		}
		c.Set("api_key", key)
		c.Next()
	}
}

// MultiKeyAuth accepts any key from allowed. An empty list disables auth.
func MultiKeyAuth(allowed []string) gin.HandlerFunc {
	keys := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}
	return Auth(AuthConfig{
		Disabled: len(keys) == 0,
		Validate: func(key string) bool {
			_, ok := keys[key]
			return ok
		},
	})
}

func respondUnauthorized(c *gin.Context, message string) {
	err := apperrors.Unauthorized(message)
	c.AbortWithStatusJSON(err.HTTPStatus, err.Body())
}

// KeyListAuth behaves like MultiKeyAuth but re-reads the key list on every
// request, so reloaded api_keys apply without a restart.
func KeyListAuth(keys func() []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		MultiKeyAuth(keys())(c)
	}
}
