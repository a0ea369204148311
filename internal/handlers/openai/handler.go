// Package openai serves the OpenAI-compatible image generation surface.
package openai

import (
	"context"

	apperrors "grok2api-go/internal/errors"
	"grok2api-go/internal/imagine"

	"github.com/gin-gonic/gin"
)

// ImageService is the subset of imagine.Service the handlers need.
type ImageService interface {
	Generate(ctx context.Context, req imagine.Request) (*imagine.Result, error)
	Options() imagine.Options
}

var _ ImageService = (*imagine.Service)(nil)

// Handler aggregates shared dependencies for OpenAI-compatible endpoints.
type Handler struct {
	images ImageService
}

// New constructs the handler set.
func New(images ImageService) *Handler {
	return &Handler{images: images}
}

func abortWithAPIError(c *gin.Context, err *apperrors.APIError) {
	c.Set("error_code", err.Code)
	c.AbortWithStatusJSON(err.HTTPStatus, err.Body())
}
