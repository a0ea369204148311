package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"grok2api-go/internal/batch"
	"grok2api-go/internal/config"
	"grok2api-go/internal/constants"
	"grok2api-go/internal/credential"
	"grok2api-go/internal/imagine"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/monitoring"
	"grok2api-go/internal/runtime"
	"grok2api-go/internal/storage"
	"grok2api-go/internal/upstream"

	log "github.com/sirupsen/logrus"
)

// openStorage opens the configured backend, falling back to the local file
// store when an external backend is unreachable.
func openStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	sc := cfg.Storage
	sc.BaseDir = expandPath(sc.BaseDir)
	openCtx, cancel := context.WithTimeout(ctx, constants.StorageOpTimeout)
	defer cancel()
	backend, err := storage.Open(openCtx, sc)
	if err == nil {
		log.WithField("backend", storage.BackendName(backend)).Info("storage backend ready")
		return backend, nil
	}
	if isFileBackend(sc.Backend) {
		return nil, err
	}
	log.WithError(err).WithField("backend", sc.Backend).Warn("storage backend unavailable, falling back to file")
	fb := storage.NewFileBackend(sc.BaseDir)
	if ferr := fb.Initialize(ctx); ferr != nil {
		return nil, ferr
	}
	return fb, nil
}

func instrumentStorage(backend storage.Backend, slow *monitoring.SlowQueryLogger) storage.Backend {
	return storage.WithInstrumentation(backend, slow)
}

func isFileBackend(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	return n == "" || n == "file"
}

// tokenFilePath is the watched token document, empty for non-file backends.
func tokenFilePath(backend storage.Backend) string {
	for {
		if fb, ok := backend.(*storage.FileBackend); ok {
			return fb.TokensPath()
		}
		u, ok := backend.(interface{ Unwrap() storage.Backend })
		if !ok {
			return ""
		}
		backend = u.Unwrap()
	}
}

func credentialOptions(cfg *config.Config) credential.Options {
	return credential.Options{
		ReloadInterval:       time.Duration(cfg.Token.ReloadIntervalSec) * time.Second,
		RefreshIntervalHours: cfg.Token.RefreshIntervalHours,
		RefreshModel:         cfg.Token.RefreshModel,
		DefaultPool:          cfg.Token.DefaultPool,
		SaveLockTimeout:      time.Duration(cfg.Token.SaveLockTimeoutSec) * time.Second,
	}
}

func batchTaskTTL(cfg *config.Config) time.Duration {
	if cfg.Batch.TaskTTLSec <= 0 {
		return constants.BatchTaskTTL
	}
	return time.Duration(cfg.Batch.TaskTTLSec) * time.Second
}

// startBackgroundTasks registers the periodic jobs with the task manager.
func startBackgroundTasks(tm *runtime.TaskManager, cm *config.ConfigManager, tokens *credential.Manager, registry *batch.Registry, backend storage.Backend) {
	cfg := cm.Get()

	if err := tm.StartPeriodic("token-refresh", "reload stale tokens and refresh cooling quotas",
		tokens.RefreshInterval(), tokens.RunScheduler,
		runtime.WithIntervalFunc(tokens.RefreshInterval), runtime.WithoutImmediateRun()); err != nil {
		log.WithError(err).Warn("failed to start token refresh task")
	}

	if path := tokenFilePath(backend); path != "" && cfg.Storage.WatchTokens {
		if err := tm.Start("token-watch", "reload token file on external edits", func(ctx context.Context) error {
			return tokens.WatchFile(ctx, path)
		}); err != nil {
			log.WithError(err).Warn("failed to start token watcher")
		}
	}

	if err := tm.StartPeriodic("batch-janitor", "drop finished batch tasks", time.Minute, func(context.Context) error {
		if n := registry.Sweep(batchTaskTTL(cm.Get())); n > 0 {
			log.WithField("removed", n).Debug("batch janitor swept tasks")
		}
		return nil
	}, runtime.WithoutImmediateRun()); err != nil {
		log.WithError(err).Warn("failed to start batch janitor")
	}

	if err := tm.StartPeriodic("image-janitor", "remove expired cached images", time.Hour, func(context.Context) error {
		dir := imagine.ImageDir(expandPath(cm.Get().Storage.BaseDir))
		n, err := imagine.CleanupImages(dir, constants.ImagineImageRetention)
		if n > 0 {
			log.WithField("removed", n).Info("image janitor removed cached images")
		}
		return err
	}); err != nil {
		log.WithError(err).Warn("failed to start image janitor")
	}
}

// applyConfigChange pushes hot-reloadable sections into the live components.
func applyConfigChange(cfg *config.Config, client *upstream.Client, images *imagine.Service) {
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Warn("failed to apply logging config")
	}
	client.SetOptions(upstream.OptionsFromConfig(cfg))
	images.SetOptions(imagineOptions(cfg))
}

func imagineOptions(cfg *config.Config) imagine.Options {
	opts := imagine.OptionsFromConfig(cfg)
	opts.ImageDir = imagine.ImageDir(expandPath(cfg.Storage.BaseDir))
	return opts
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
