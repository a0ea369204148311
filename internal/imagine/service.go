// Package imagine drives NSFW image generation over the imagine websocket,
// rotating SSO tokens by daily usage.
package imagine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"grok2api-go/internal/config"
	"grok2api-go/internal/constants"
	"grok2api-go/internal/credential"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/models"
	"grok2api-go/internal/monitoring"
	"grok2api-go/internal/monitoring/tracing"
	"grok2api-go/internal/upstream"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Error codes returned by Generate in addition to the upstream ones.
const (
	CodeNoAvailableSSO    = "no_available_sso"
	CodeBlocked           = upstream.ImagineCodeBlocked
	CodeGenerationFailed  = upstream.ImagineCodeGenerationFailed
	CodeInvalidCount      = "invalid_n"
	CodeModelNotSupported = "model_not_supported"
)

// Error is a failed generation.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// CodeOf returns the imagine error code carried by err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// TokenSource lists the tokens eligible for generation and takes back the
// outcome of each call.
type TokenSource interface {
	ReloadIfStale(ctx context.Context) error
	AllTokens() []string
	Consume(ctx context.Context, token string, effort credential.Effort) bool
	RecordFail(ctx context.Context, token string, status int, reason string) bool
}

var _ TokenSource = (*credential.Manager)(nil)

// Rotation is the usage store the service rotates through.
type Rotation interface {
	GetNext(ctx context.Context, tokens []string, dailyLimit int) (string, bool)
	MarkFailed(ctx context.Context, token, reason string)
	MarkSuccess(ctx context.Context, token string)
	RecordUsage(ctx context.Context, token string)
	AgeVerified(ctx context.Context, token string) int
	SetAgeVerified(ctx context.Context, token string, verified int)
}

// Generator performs one websocket generation with a given token.
type Generator interface {
	Imagine(ctx context.Context, token string, req upstream.ImagineRequest, onProgress func(upstream.ImagineProgress)) ([]upstream.ImagineImage, error)
	VerifyAge(ctx context.Context, token string) error
}

// Options tune the retry loop and where images land.
type Options struct {
	DailyLimit   int
	BlockedRetry int
	MaxRetries   int
	DefaultCount int
	ImageDir     string
	AppURL       string
}

// OptionsFromConfig maps the grok and storage sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DailyLimit:   cfg.Grok.ImagineDailyLimit,
		BlockedRetry: cfg.Grok.ImagineBlockedRetry,
		MaxRetries:   cfg.Grok.ImagineMaxRetries,
		DefaultCount: cfg.Grok.ImagineDefaultImageCount,
		ImageDir:     ImageDir(cfg.Storage.BaseDir),
		AppURL:       cfg.Grok.AppURL,
	}
}

// ImageDir is where generated images are written under the data dir.
func ImageDir(baseDir string) string {
	return filepath.Join(baseDir, "tmp", "image")
}

func (o Options) withDefaults() Options {
	if o.DailyLimit <= 0 {
		o.DailyLimit = constants.ImagineDailyLimit
	}
	if o.BlockedRetry <= 0 {
		o.BlockedRetry = constants.ImagineBlockedRetry
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.DefaultCount < 1 {
		o.DefaultCount = 1
	}
	if o.ImageDir == "" {
		o.ImageDir = ImageDir("data")
	}
	o.AppURL = strings.TrimRight(strings.TrimSpace(o.AppURL), "/")
	return o
}

// Request is one /v1/images/generations call. A nil N means the default
// count, an empty Model the default image model.
type Request struct {
	Prompt string
	Size   string
	N      *int
	Model  string
	// OnProgress, when set, sees every accepted image stage.
	OnProgress func(upstream.ImagineProgress)
}

// Result lists the saved images; URLs and B64 are parallel.
type Result struct {
	URLs  []string
	B64   []string
	Count int
}

// Service is safe for concurrent use.
type Service struct {
	tokens   TokenSource
	rotation Rotation
	gen      Generator
	opts     atomic.Pointer[Options]
}

// NewService wires the workflow.
func NewService(tokens TokenSource, rotation Rotation, gen Generator, opts Options) *Service {
	s := &Service{tokens: tokens, rotation: rotation, gen: gen}
	s.SetOptions(opts)
	return s
}

// SetOptions swaps the tunables, e.g. after a config reload.
func (s *Service) SetOptions(opts Options) {
	opts = opts.withDefaults()
	s.opts.Store(&opts)
}

// Options returns the current tunables.
func (s *Service) Options() Options { return *s.opts.Load() }

// AspectRatio maps an OpenAI size to the imagine aspect ratio.
func AspectRatio(size string) string {
	switch size {
	case "1024x1024", "512x512", "256x256":
		return "1:1"
	case "1536x1024":
		return "3:2"
	default:
		return "2:3"
	}
}

// imageCount: an explicit n must be within 1..ImagineMaxImageCount; the
// configured default is clamped into that range.
func (s *Service) imageCount(n *int, opts Options) (int, error) {
	if n == nil {
		return min(max(opts.DefaultCount, 1), constants.ImagineMaxImageCount), nil
	}
	if *n < 1 || *n > constants.ImagineMaxImageCount {
		return 0, &Error{Code: CodeInvalidCount, Message: fmt.Sprintf("n must be between 1 and %d", constants.ImagineMaxImageCount)}
	}
	return *n, nil
}

// ResolveModel returns the image model for id ("" means the default).
func ResolveModel(id string) (models.Info, error) {
	if strings.TrimSpace(id) == "" {
		id = models.DefaultImageModel
	}
	m, ok := models.Get(id)
	if !ok || !m.IsImage {
		return models.Info{}, &Error{Code: CodeModelNotSupported, Message: fmt.Sprintf("the model %q is not supported for image generation", id)}
	}
	return m, nil
}

// Generate runs the rotation loop until an attempt yields images or the
// retry budget is spent.
func (s *Service) Generate(ctx context.Context, req Request) (res *Result, err error) {
	opts := s.Options()
	n, err := s.imageCount(req.N, opts)
	if err != nil {
		return nil, err
	}
	model, err := ResolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	ratio := AspectRatio(req.Size)

	ctx, span := tracing.StartSpan(ctx, "imagine", "Generate",
		trace.WithAttributes(
			attribute.Int("imagine.n", n),
			attribute.String("imagine.aspect_ratio", ratio),
			attribute.String("imagine.model", model.ID),
		))
	defer func() {
		monitoring.ImagineGenerationsTotal.WithLabelValues(outcome(err)).Inc()
		tracing.Finish(span, err)
	}()

	if err := s.tokens.ReloadIfStale(ctx); err != nil {
		log.WithError(err).Warn("imagine: token reload failed")
	}
	tokens := s.tokens.AllTokens()
	if len(tokens) == 0 {
		return nil, &Error{Code: CodeNoAvailableSSO, Message: "no available sso token"}
	}

	var (
		blocked int
		lastErr error
	)
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		token, ok := s.rotation.GetNext(ctx, tokens, opts.DailyLimit)
		if !ok {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, &Error{Code: CodeNoAvailableSSO, Message: "no available sso token"}
		}
		entry := log.WithFields(log.Fields{"token": logging.MaskToken(token), "attempt": attempt + 1})

		if s.rotation.AgeVerified(ctx, token) == 0 {
			if err := s.gen.VerifyAge(ctx, token); err != nil {
				entry.WithError(err).Warn("imagine: age verification failed")
			} else {
				s.rotation.SetAgeVerified(ctx, token, 1)
			}
		}

		imgs, genErr := s.gen.Imagine(ctx, token, upstream.ImagineRequest{
			Prompt:      req.Prompt,
			AspectRatio: ratio,
			N:           n,
			EnableNSFW:  true,
		}, req.OnProgress)
		if genErr == nil {
			out, saveErr := s.save(imgs, n, opts)
			if saveErr == nil {
				s.rotation.MarkSuccess(ctx, token)
				s.rotation.RecordUsage(ctx, token)
				s.tokens.Consume(ctx, token, model.Cost)
				entry.WithField("images", out.Count).Info("imagine: generation succeeded")
				return out, nil
			}
			genErr = saveErr
		}

		code := upstream.ImagineCode(genErr)
		var ge *Error
		if errors.As(genErr, &ge) {
			code = ge.Code
		}
		switch code {
		case CodeBlocked:
			blocked++
			s.rotation.MarkFailed(ctx, token, "blocked: no final image")
			if blocked >= opts.BlockedRetry {
				return nil, &Error{Code: CodeBlocked, Message: fmt.Sprintf("blocked %d times in a row, retry later", opts.BlockedRetry)}
			}
			entry.Warn("imagine: generation blocked, rotating")
		case upstream.ImagineCodeRateLimited, upstream.ImagineCodeUnauthorized:
			s.rotation.MarkFailed(ctx, token, genErr.Error())
			if code == upstream.ImagineCodeUnauthorized {
				s.tokens.RecordFail(ctx, token, credential.AuthFailureStatus, genErr.Error())
			}
			lastErr = toError(genErr)
			entry.WithField("code", code).Warn("imagine: token rejected, rotating")
		default:
			return nil, toError(genErr)
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &Error{Code: CodeGenerationFailed, Message: "all retries failed"}
}

func toError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var ie *upstream.ImagineError
	if errors.As(err, &ie) {
		return &Error{Code: ie.Code, Message: ie.Message}
	}
	return &Error{Code: CodeGenerationFailed, Message: err.Error()}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := CodeOf(err); code != "" {
		return code
	}
	return "error"
}

// save writes up to n distinct images and builds their public URLs.
func (s *Service) save(imgs []upstream.ImagineImage, n int, opts Options) (*Result, error) {
	if err := os.MkdirAll(opts.ImageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	out := &Result{}
	seen := make(map[string]struct{}, len(imgs))
	for _, img := range imgs {
		if _, dup := seen[img.ID]; dup {
			continue
		}
		if len(seen) >= n {
			break
		}
		data, err := base64.StdEncoding.DecodeString(img.Blob)
		if err != nil {
			log.WithError(err).WithField("image_id", img.ID).Warn("imagine: decode image failed")
			continue
		}
		ext := "png"
		if img.Final {
			ext = "jpg"
		}
		name := img.ID + "." + ext
		if err := os.WriteFile(filepath.Join(opts.ImageDir, name), data, 0o644); err != nil {
			log.WithError(err).WithField("file", name).Warn("imagine: save image failed")
			continue
		}
		out.URLs = append(out.URLs, opts.AppURL+imageRoute+name)
		out.B64 = append(out.B64, img.Blob)
		seen[img.ID] = struct{}{}
	}
	if len(out.URLs) == 0 {
		return nil, &Error{Code: CodeGenerationFailed, Message: "no image could be saved"}
	}
	out.Count = len(out.URLs)
	return out, nil
}

// imageRoute is the public path prefix saved images are served under.
const imageRoute = "/images/"

// ResolveImage maps a public file name to its path under dir, rejecting
// anything that is not a plain file name.
func ResolveImage(dir, name string) (string, bool) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return filepath.Join(dir, name), true
}

// CleanupImages removes saved images older than maxAge and returns the count.
func CleanupImages(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(dir, e.Name())) == nil {
			removed++
		}
	}
	return removed, nil
}
