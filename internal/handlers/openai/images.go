package openai

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"grok2api-go/internal/constants"
	apperrors "grok2api-go/internal/errors"
	"grok2api-go/internal/imagine"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/upstream"

	"github.com/gin-gonic/gin"
)

const (
	formatURL = "url"
	formatB64 = "b64_json"

	// progressBuffer 进度事件缓冲，满了直接丢弃
	progressBuffer = 64
)

type imagesRequest struct {
	Prompt         string `json:"prompt"`
	N              *int   `json:"n"`
	Size           string `json:"size"`
	Model          string `json:"model"`
	ResponseFormat string `json:"response_format"`
	Stream         bool   `json:"stream"`
}

// ImagesGenerations handles POST /v1/images/generations through the imagine
// rotation workflow. With stream=true progress is pushed as SSE.
func (h *Handler) ImagesGenerations(c *gin.Context) {
	var req imagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithAPIError(c, apperrors.BadRequest("invalid json"))
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		abortWithAPIError(c, apperrors.BadRequest("prompt is required").WithParam("prompt"))
		return
	}
	format := strings.ToLower(strings.TrimSpace(req.ResponseFormat))
	switch format {
	case "":
		format = formatURL
	case formatURL, formatB64:
	default:
		abortWithAPIError(c, apperrors.BadRequest("response_format must be url or b64_json").WithParam("response_format"))
		return
	}
	if req.N != nil && (*req.N < 1 || *req.N > constants.ImagineMaxImageCount) {
		msg := fmt.Sprintf("n must be between 1 and %d", constants.ImagineMaxImageCount)
		abortWithAPIError(c, apperrors.BadRequest(msg).WithParam("n"))
		return
	}
	model, err := imagine.ResolveModel(req.Model)
	if err != nil {
		abortWithAPIError(c, apperrors.FromError(err))
		return
	}
	c.Set("model", model.ID)

	ireq := imagine.Request{
		Prompt: prompt,
		Size:   strings.TrimSpace(req.Size),
		N:      req.N,
		Model:  model.ID,
	}
	if req.Stream {
		h.streamImages(c, ireq, format)
		return
	}

	res, err := h.images.Generate(c.Request.Context(), ireq)
	if err != nil {
		logging.WithReq(c, nil).WithError(err).Warn("images: generation failed")
		abortWithAPIError(c, generationError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": time.Now().Unix(), "data": imageData(res, format)})
}

func generationError(err error) *apperrors.APIError {
	if code := imagine.CodeOf(err); code != "" {
		return apperrors.FromImagineCode(code, err.Error())
	}
	return apperrors.FromError(err)
}

func imageData(res *imagine.Result, format string) []gin.H {
	data := make([]gin.H, 0, res.Count)
	for i := 0; i < res.Count; i++ {
		if format == formatB64 {
			data = append(data, gin.H{"b64_json": res.B64[i]})
		} else {
			data = append(data, gin.H{"url": res.URLs[i]})
		}
	}
	return data
}

type generation struct {
	res *imagine.Result
	err error
}

// streamImages emits "progress" events while the websocket runs, then one
// "complete" or "error" event.
func (h *Handler) streamImages(c *gin.Context, req imagine.Request, format string) {
	ctx := c.Request.Context()
	progress := make(chan upstream.ImagineProgress, progressBuffer)
	done := make(chan generation, 1)
	req.OnProgress = func(p upstream.ImagineProgress) {
		select {
		case progress <- p:
		default:
		}
	}
	go func() {
		res, err := h.images.Generate(ctx, req)
		done <- generation{res: res, err: err}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-progress:
			sendEvent(c, "progress", progressPayload(p))
		case out := <-done:
			// progress sends happen before Generate returns
			for drained := false; !drained; {
				select {
				case p := <-progress:
					sendEvent(c, "progress", progressPayload(p))
				default:
					drained = true
				}
			}
			if out.err != nil {
				logging.WithReq(c, nil).WithError(out.err).Warn("images: streamed generation failed")
				sendEvent(c, "error", generationError(out.err).Body())
				return
			}
			sendEvent(c, "complete", gin.H{"created": time.Now().Unix(), "data": imageData(out.res, format)})
			return
		}
	}
}

func progressPayload(p upstream.ImagineProgress) gin.H {
	return gin.H{
		"image_id":  p.ImageID,
		"stage":     p.Stage,
		"is_final":  p.Final,
		"completed": p.Completed,
		"total":     p.Total,
		"progress":  fmt.Sprintf("%d/%d", p.Completed, p.Total),
	}
}

func sendEvent(c *gin.Context, name string, payload any) {
	c.SSEvent(name, payload)
	c.Writer.Flush()
}

// ServeImage handles GET /images/:file for images saved by the workflow.
func (h *Handler) ServeImage(c *gin.Context) {
	path, ok := imagine.ResolveImage(h.images.Options().ImageDir, c.Param("file"))
	if !ok {
		abortWithAPIError(c, apperrors.NotFound("image not found"))
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		abortWithAPIError(c, apperrors.NotFound("image not found"))
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.File(path)
}
